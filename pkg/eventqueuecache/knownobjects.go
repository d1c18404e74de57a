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

package eventqueuecache

import (
	"sync"

	"k8s.io/apimachinery/pkg/runtime"
)

// KnownObjects is a read-only, externally owned view of last-observed
// resource state, keyed the same way the cache keys its queues. The cache
// never mutates it; implementations are responsible for synchronizing
// their own contents since ListKeys and
// GetByKey may be called concurrently with whatever else updates the view.
type KnownObjects interface {
	ListKeys() []string
	GetByKey(key string) (runtime.Object, bool)
}

// MapKnownObjects is a convenience KnownObjects backed by a plain
// RWMutex-guarded map. It never evicts on its own — entries live until
// explicitly deleted by the owner — which is what Replace/Synchronize's
// "last observed state" semantics require; a TTL-based cache would expire
// entries out from under those operations.
type MapKnownObjects struct {
	mu      sync.RWMutex
	objects map[string]runtime.Object
}

// NewMapKnownObjects returns an empty MapKnownObjects.
func NewMapKnownObjects() *MapKnownObjects {
	return &MapKnownObjects{objects: map[string]runtime.Object{}}
}

func (m *MapKnownObjects) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func (m *MapKnownObjects) GetByKey(key string) (runtime.Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Set records resource as the last-observed state for key.
func (m *MapKnownObjects) Set(key string, resource runtime.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = resource
}

// Delete removes key from the known state, e.g. once a consumer has
// durably processed its deletion.
func (m *MapKnownObjects) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}
