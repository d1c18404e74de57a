/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package liststore is a tiny in-memory reflector.ListerWatcher, standing in
// for a real remote cluster store in tests and in the demo binary. A real
// remote store client (the authoritative cluster API) is explicitly out of
// scope for this module; this is the minimal fake needed to exercise the
// Reflector end to end, grounded on the list+watch shape of
// rangeli1992-vagrant-k8s-calico/utils/watch.go's NewListWatchFromClient use,
// minus the API server.
package liststore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/awslabs/reflectorcache/pkg/reflector"
)

// Store is an in-memory, watchable object store keyed by whatever key the
// caller chooses to use for Put/Delete (typically namespace/name). Every
// mutation bumps a monotonic resource version and fans out a watch.Event to
// every currently open watch channel.
type Store struct {
	mu      sync.Mutex
	objects map[string]runtime.Object
	rv      uint64
	watches map[*fanoutWatch]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		objects: map[string]runtime.Object{},
		watches: map[*fanoutWatch]struct{}{},
	}
}

// WatcherCount reports how many watches are currently open. It exists for
// tests that need to know a watch has been established before publishing a
// mutation the watch is expected to observe.
func (s *Store) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Put inserts or replaces obj under key, stamping it with the store's next
// resource version, and fans out an Added or Modified watch event
// accordingly.
func (s *Store) Put(key string, obj runtime.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rv++
	s.stamp(obj)
	_, existed := s.objects[key]
	s.objects[key] = obj

	typ := watch.Added
	if existed {
		typ = watch.Modified
	}
	s.broadcastLocked(watch.Event{Type: typ, Object: obj})
}

// Delete removes key from the store, fanning out a Deleted watch event with
// the object's last known state. It is a no-op if key is absent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return
	}
	s.rv++
	delete(s.objects, key)
	s.broadcastLocked(watch.Event{Type: watch.Deleted, Object: obj})
}

// Error fans out a watch.Error event to every open watch, simulating a
// transport failure that a Reflector must reconnect from.
func (s *Store) Error(status runtime.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(watch.Event{Type: watch.Error, Object: status})
}

func (s *Store) broadcastLocked(ev watch.Event) {
	for fw := range s.watches {
		select {
		case fw.ch <- ev:
		default:
			// A slow watcher in a test/demo isn't worth blocking the
			// producer for; the event is dropped for that watcher without
			// any signal, so it simply misses it.
		}
	}
}

// CloseWatches ends every currently open watch by closing its result
// channel directly, without anyone's context being cancelled — the same
// shape as an apiserver dropping an idle watch stream on its own after a
// timeout, with no preceding watch.Error event. Tests use this to exercise
// a Reflector's reconnect path for a spontaneous close.
func (s *Store) CloseWatches() {
	s.mu.Lock()
	open := make([]*fanoutWatch, 0, len(s.watches))
	for fw := range s.watches {
		open = append(open, fw)
	}
	s.mu.Unlock()

	for _, fw := range open {
		fw.Stop()
	}
}

func (s *Store) stamp(obj runtime.Object) {
	accessor, err := apimeta.Accessor(obj)
	if err != nil {
		return
	}
	accessor.SetResourceVersion(strconv.FormatUint(s.rv, 10))
}

// List returns a snapshot of every object currently in the store and the
// resource version it was taken at.
func (s *Store) List(_ context.Context) ([]runtime.Object, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]runtime.Object, 0, len(s.objects))
	for _, obj := range s.objects {
		items = append(items, obj.DeepCopyObject())
	}
	return items, strconv.FormatUint(s.rv, 10), nil
}

// WithResourceVersion scopes a subsequent Watch; a fully in-memory fan-out
// store has no history to replay, so it is accepted but otherwise ignored
// beyond being recorded for diagnostics.
func (s *Store) WithResourceVersion(resourceVersion string) reflector.Watchable {
	return watchable{store: s, resourceVersion: resourceVersion}
}

type watchable struct {
	store           *Store
	resourceVersion string
}

// Watch opens a channel that receives every subsequent Put/Delete/Error as a
// watch.Event, until ctx is done or Stop is called.
func (w watchable) Watch(ctx context.Context) (watch.Interface, error) {
	s := w.store
	fw := &fanoutWatch{store: s, ch: make(chan watch.Event, 64)}

	s.mu.Lock()
	s.watches[fw] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		fw.Stop()
	}()
	return fw, nil
}

// fanoutWatch implements watch.Interface over a Store's fan-out channel.
type fanoutWatch struct {
	store *Store
	ch    chan watch.Event

	stopOnce sync.Once
}

func (w *fanoutWatch) Stop() {
	w.stopOnce.Do(func() {
		w.store.mu.Lock()
		delete(w.store.watches, w)
		w.store.mu.Unlock()
		close(w.ch)
	})
}

func (w *fanoutWatch) ResultChan() <-chan watch.Event {
	return w.ch
}

var (
	_ reflector.ListerWatcher = (*Store)(nil)
	_ fmt.Stringer            = (*Store)(nil)
)

// String implements fmt.Stringer for diagnostics.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("liststore.Store{objects:%d,resourceVersion:%d}", len(s.objects), s.rv)
}
