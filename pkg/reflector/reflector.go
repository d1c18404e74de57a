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

package reflector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/awslabs/operatorpkg/serrors"
	"github.com/google/uuid"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/awslabs/reflectorcache/pkg/event"
	"github.com/awslabs/reflectorcache/pkg/eventqueuecache"
)

// DefaultShouldResync is the default ResyncErrorClassifier: it always
// swallows a Synchronize failure and lets the periodic resync continue,
// matching the source's "default classifier logs and continues".
func DefaultShouldResync(error) bool { return true }

// Config wires a Reflector's collaborators.
type Config struct {
	// Name labels this Reflector's log lines and the Source attribution on
	// every Event it produces.
	Name string
	// ListerWatcher is the remote store being reflected. Required.
	ListerWatcher ListerWatcher
	// Cache receives every Add/Replace/Synchronize. Required.
	Cache *eventqueuecache.Cache
	// ResyncPeriod is how often Cache.Synchronize is invoked. Zero disables
	// periodic resync entirely.
	ResyncPeriod time.Duration
	// ShouldResync decides whether a Synchronize failure is swallowed
	// (true) or terminates the periodic resync loop (false). Defaults to
	// DefaultShouldResync.
	ShouldResync func(error) bool
	// NeedLeaderElection reports whether this Reflector should only run on
	// the elected leader when registered on a controller-runtime Manager.
	// Defaults to true.
	NeedLeaderElection *bool
}

// Reflector performs an initial list+replace against a Cache, then runs a
// long-lived watch translating stream events into Cache.Add calls,
// reconnecting with backoff whenever the watch ends abnormally, alongside a
// ticker-driven Cache.Synchronize.
//
// A Reflector is a controller-runtime manager.Runnable /
// manager.LeaderElectionRunnable: register it with a Manager, or call Run
// directly and cancel its context to stop it. The zero value is not usable,
// use New.
type Reflector struct {
	name               string
	source             string
	lw                 ListerWatcher
	cache              *eventqueuecache.Cache
	resyncPeriod       time.Duration
	shouldResync       func(error) bool
	needLeaderElection bool

	lastResourceVersion atomicString
}

// New constructs a Reflector from cfg.
func New(cfg Config) *Reflector {
	shouldResync := cfg.ShouldResync
	if shouldResync == nil {
		shouldResync = DefaultShouldResync
	}
	needLeaderElection := true
	if cfg.NeedLeaderElection != nil {
		needLeaderElection = *cfg.NeedLeaderElection
	}
	return &Reflector{
		name:               cfg.Name,
		source:             fmt.Sprintf("%s/%s", cfg.Name, uuid.NewString()),
		lw:                 cfg.ListerWatcher,
		cache:              cfg.Cache,
		resyncPeriod:       cfg.ResyncPeriod,
		shouldResync:       shouldResync,
		needLeaderElection: needLeaderElection,
	}
}

// NeedLeaderElection implements manager.LeaderElectionRunnable.
func (r *Reflector) NeedLeaderElection() bool {
	return r.needLeaderElection
}

// Start implements manager.Runnable by delegating to Run.
func (r *Reflector) Start(ctx context.Context) error {
	return r.Run(ctx)
}

// LastResourceVersion returns the resource version most recently observed
// from either a List or a watch event. Purely diagnostic.
func (r *Reflector) LastResourceVersion() string {
	return r.lastResourceVersion.Load()
}

// Run performs one list+replace, then watches until ctx is cancelled or the
// watch ends abnormally, in which case it reconnects via a fresh list+watch
// with exponential backoff. It starts the periodic resync goroutine, if
// configured, only once the first list+replace has succeeded — matching
// spec step ordering (replace, then schedule resync, then watch) so a
// KnownObjects-backed Synchronize never fires against a still-unpopulated
// cache — and stops it when ctx is done. Run blocks until ctx is done and
// then returns nil; it only returns a non-nil error if list+watch keeps
// failing in a way retry exhausts, which does not happen with unlimited
// attempts short of ctx cancellation.
func (r *Reflector) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("reflector", r.name)
	ctx = log.IntoContext(ctx, logger)

	resyncCtx, cancelResync := context.WithCancel(ctx)
	defer cancelResync()
	var startResyncOnce sync.Once
	startResync := func() {
		if r.resyncPeriod > 0 {
			go wait.Until(func() { r.runSynchronize(ctx, cancelResync) }, r.resyncPeriod, resyncCtx.Done())
		}
	}

	err := retry.Do(
		func() error { return r.listAndWatch(ctx, func() { startResyncOnce.Do(startResync) }) },
		retry.Context(ctx),
		// retry-go v3 runs Attempts(0) zero times, so the largest count
		// stands in for unlimited attempts.
		retry.Attempts(math.MaxUint),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Error(err, "list+watch ended abnormally, reconnecting", "attempt", n+1)
		}),
	)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

// runSynchronize is the periodic-resync tick body: it calls Cache.Synchronize
// and consults ShouldResync on failure, cancelling the resync loop if the
// classifier says the failure should propagate instead of being swallowed.
func (r *Reflector) runSynchronize(ctx context.Context, cancel context.CancelFunc) {
	logger := log.FromContext(ctx)
	if err := r.cache.Synchronize(); err != nil {
		if !r.shouldResync(err) {
			logger.Error(err, "resync failed, stopping periodic resync")
			cancel()
			return
		}
		logger.V(1).Info("resync failed, continuing", "error", err)
	}
}

// listAndWatch performs a single list+replace+watch cycle: a List failure is
// returned wrapped in ErrListFailed, and a Replace or Watch-open failure is
// returned wrapped with its own context; once the watch is open, every event
// it delivers is translated into a Cache.Add call until ctx is done (clean
// end, nil error), the channel closes while ctx is still live
// (ErrWatchClosed, non-nil error), or an Error-typed event arrives (abnormal
// end, non-nil error). onReplaced is
// invoked once Replace has succeeded, before the watch is opened, so the
// caller can gate anything that must not run against an unpopulated cache.
func (r *Reflector) listAndWatch(ctx context.Context, onReplaced func()) error {
	logger := log.FromContext(ctx)

	items, resourceVersion, err := r.lw.List(ctx)
	if err != nil {
		return serrors.Wrap(ErrListFailed, "error", err)
	}
	if err := r.cache.Replace(items, resourceVersion); err != nil {
		return fmt.Errorf("replacing cache from list, %w", err)
	}
	r.lastResourceVersion.Store(resourceVersion)
	logger.V(1).Info("listed", "items", len(items), "resourceVersion", resourceVersion)
	onReplaced()

	w, err := r.lw.WithResourceVersion(resourceVersion).Watch(ctx)
	if err != nil {
		return fmt.Errorf("opening watch from resourceVersion %s, %w", resourceVersion, err)
	}
	defer w.Stop()

	return r.handleWatch(ctx, w)
}

// handleWatch drains w.ResultChan(), applying each event to the cache, until
// ctx is done, the channel closes, or an Error event is observed. A clean
// shutdown (ctx done) returns nil; a spontaneous channel close — an
// apiserver routinely ends an idle watch this way, with no preceding Error
// event — returns ErrWatchClosed so the caller relists and reconnects
// instead of treating it as success.
func (r *Reflector) handleWatch(ctx context.Context, w watch.Interface) error {
	logger := log.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrWatchClosed
			}
			if err := r.handleEvent(ctx, ev); err != nil {
				logger.Error(err, "watch event handling failed")
				return err
			}
		}
	}
}

// handleEvent maps a single watch.Event onto a Cache operation.
func (r *Reflector) handleEvent(_ context.Context, ev watch.Event) error {
	switch ev.Type {
	case watch.Added:
		return r.addAndTrack(event.Added, ev.Object)
	case watch.Modified:
		return r.addAndTrack(event.Updated, ev.Object)
	case watch.Deleted:
		return r.addAndTrack(event.Deleted, ev.Object)
	case watch.Bookmark:
		r.updateResourceVersion(ev.Object)
		return nil
	case watch.Error:
		return fmt.Errorf("watch transport error, %v", ev.Object)
	default:
		return fmt.Errorf("unknown watch event type %q", ev.Type)
	}
}

func (r *Reflector) addAndTrack(typ event.Type, obj runtime.Object) error {
	if _, err := r.cache.Add(r.source, typ, obj); err != nil {
		return fmt.Errorf("adding %s event to cache, %w", typ, err)
	}
	r.updateResourceVersion(obj)
	return nil
}

func (r *Reflector) updateResourceVersion(obj runtime.Object) {
	accessor, err := apimeta.Accessor(obj)
	if err != nil {
		return
	}
	r.lastResourceVersion.Store(accessor.GetResourceVersion())
}
