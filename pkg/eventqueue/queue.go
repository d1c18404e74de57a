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

// Package eventqueue implements the per-key ordered, deduplicating event
// buffer that backs an eventqueuecache.Cache entry.
package eventqueue

import (
	"sync"

	"github.com/awslabs/reflectorcache/pkg/event"
)

// Queue holds every pending event for a single key, oldest first. All
// exported methods are safe for concurrent use; the zero value is not
// usable, use New.
//
// Locking order: a Queue's own mutex is always the innermost lock taken.
// Callers that also hold a Cache-wide lock must acquire it first.
type Queue struct {
	key string

	mu     sync.Mutex
	events []event.Event
}

// New returns an empty Queue for key.
func New(key string) *Queue {
	return &Queue{key: key}
}

// Key returns the key shared by every event in the queue.
func (q *Queue) Key() string {
	return q.key
}

// AddEvent appends e, then applies the dedup rules. It returns true iff the
// queue is non-empty once those rules have run. An Added immediately
// followed by a Deleted for the same key is deliberately left uncollapsed:
// the queue ends non-empty with the Deleted as its last event, rather than
// treating the pair as equivalent to never having observed the resource.
func (q *Queue) AddEvent(e event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, e)
	q.dedupLocked()
	return len(q.events) > 0
}

// dedupLocked enforces: no two consecutive Deleted events, and no Sync
// event immediately followed by a non-Sync event for the same key. It only
// ever needs to look at the last two elements, since every prior append
// already restored the invariant.
func (q *Queue) dedupLocked() {
	for {
		n := len(q.events)
		if n < 2 {
			return
		}
		last := q.events[n-1]
		prev := q.events[n-2]

		if prev.EffectiveType() == event.Deleted && last.EffectiveType() == event.Deleted {
			// Drop the older deletion; the newer one is at least as
			// informative and a second deletion (often synthesized by
			// Replace from KnownObjects) conveys nothing new.
			q.events = append(q.events[:n-2], last)
			continue
		}
		if prev.IsSync() && !last.IsSync() {
			// The real event supersedes the synthetic resync.
			q.events = append(q.events[:n-2], last)
			continue
		}
		return
	}
}

// GetLast returns the newest event in the queue, if any.
func (q *Queue) GetLast() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event.Event{}, false
	}
	return q.events[len(q.events)-1], true
}

// IsEmpty reports whether the queue currently holds no events.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) == 0
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Events returns a defensive copy of the queue's pending events, oldest
// first. Intended for sinks draining a popped queue.
func (q *Queue) Events() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]event.Event, len(q.events))
	copy(out, q.events)
	return out
}
