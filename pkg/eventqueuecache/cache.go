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

// Package eventqueuecache holds an insertion-ordered set of per-key
// eventqueue.Queues, reconciles it against a periodic full listing, and
// hands queues to a single consumer in FIFO order.
package eventqueuecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awslabs/operatorpkg/serrors"
	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/awslabs/reflectorcache/pkg/event"
	"github.com/awslabs/reflectorcache/pkg/eventqueue"
	"github.com/awslabs/reflectorcache/pkg/notify"
)

// Config wires the optional collaborators a Cache needs:
// Name labels this instance's metrics, KnownObjects supplies the
// last-observed view Replace/Synchronize reconcile against (nil falls back
// to reconciling against the cache's own in-flight queues), and KeyFunc
// extracts a resource's identity (nil defaults to DefaultKeyFunc).
type Config struct {
	Name         string
	KnownObjects KnownObjects
	KeyFunc      KeyFunc
}

// Cache is an insertion-ordered map of key to eventqueue.Queue, guarded by a
// single mutex/condition-variable pair. Replace and Add serialize against
// each other on that mutex; Pop blocks on the condition variable until a
// queue is available or the cache closes. The zero value is not usable, use
// New.
type Cache struct {
	name         string
	knownObjects KnownObjects
	keyFunc      KeyFunc

	mu    sync.Mutex
	cond  *sync.Cond
	order *list.List // of *eventqueue.Queue, oldest-ready first
	index map[string]*list.Element

	populated              bool
	initialPopulationCount int
	closing                bool

	runMu   sync.Mutex
	running bool
	runDone chan struct{}

	notify *notify.Registry
}

// New constructs an empty, open Cache.
func New(cfg Config) *Cache {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc
	}
	c := &Cache{
		name:         cfg.Name,
		knownObjects: cfg.KnownObjects,
		keyFunc:      keyFunc,
		order:        list.New(),
		index:        map[string]*list.Element{},
		notify:       &notify.Registry{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Notify exposes the property-change registry, so callers can subscribe to
// populated/initialPopulationCount/synchronized/empty transitions without
// holding the cache lock.
func (c *Cache) Notify() *notify.Registry {
	return c.notify
}

// Add records a single observed event for resource, extracting its key via
// the configured KeyFunc. It marks the cache populated on first call, the
// same way a Reflector's first watch event would. Returns the event that
// was actually retained (nil if the queue's dedup/compression rules
// discarded it entirely), or ErrInvalidKey / ErrClosed.
func (c *Cache) Add(source string, typ event.Type, resource runtime.Object) (*event.Event, error) {
	key, err := c.keyFunc(resource)
	if err != nil || key == "" {
		return nil, serrors.Wrap(ErrInvalidKey, "source", source, "error", err)
	}
	ev := event.Event{Type: typ, Key: key, Resource: resource, Source: source}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	firedPopulated := !c.populated
	c.populated = true
	accepted := c.appendLocked(ev)
	c.cond.Broadcast()
	queued, remaining := len(c.index), c.initialPopulationCount
	c.mu.Unlock()

	if firedPopulated {
		c.notify.Fire(PropertyPopulated, true)
	}
	c.recordMetrics(queued, remaining)
	if accepted {
		return &ev, nil
	}
	return nil, nil
}

// Replace atomically reseeds the cache from a fresh full listing, the way a
// Reflector does after a List call. Every item becomes a synthetic Sync/
// Added event; any key the cache (or KnownObjects, if configured) still
// considers live but that is absent from items becomes a plain Deleted
// event — a Sync event is always semantically an addition or update, never
// a deletion. On the first call, it also seeds initialPopulationCount,
// firing "synchronized" immediately if that count is already zero. Unlike
// Add, Replace does not fail once the cache is closing: it remains
// functional so a Reflector's in-flight relist or periodic resync can keep
// the cache's state current across a Close/Reopen cycle.
func (c *Cache) Replace(items []runtime.Object, resourceVersion string) error {
	type seed struct {
		key      string
		resource runtime.Object
	}
	seeds := make([]seed, 0, len(items))
	replacementKeys := sets.New[string]()
	for _, item := range items {
		key, err := c.keyFunc(item)
		if err != nil || key == "" {
			return serrors.Wrap(ErrInvalidKey, "resourceVersion", resourceVersion, "error", err)
		}
		seeds = append(seeds, seed{key: key, resource: item})
		replacementKeys.Insert(key)
	}

	c.mu.Lock()

	for _, s := range seeds {
		c.appendLocked(event.Event{Type: event.Sync, SyncType: event.Added, Key: s.key, Resource: s.resource, Source: "replace"})
	}

	// These are plain Deleted events, not Sync/Deleted. Marking them Sync
	// would make eventqueue's dedup rule for superseded syncs discard the
	// deletion outright if the key is deleted-then-recreated before it's
	// popped; the consecutive-deletion dedup rule still absorbs an
	// adjacent Deleted produced this way.
	var deletionCount int
	if c.knownObjects == nil {
		for _, key := range c.keysLocked() {
			if replacementKeys.Has(key) {
				continue
			}
			el := c.index[key]
			q := el.Value.(*eventqueue.Queue)
			last, ok := q.GetLast()
			if !ok {
				continue
			}
			c.appendLocked(event.Event{Type: event.Deleted, Key: key, Resource: last.Resource, Source: "replace"})
			deletionCount++
		}
	} else {
		for _, key := range c.knownObjects.ListKeys() {
			if replacementKeys.Has(key) {
				continue
			}
			resource, ok := c.knownObjects.GetByKey(key)
			if !ok {
				continue
			}
			c.appendLocked(event.Event{Type: event.Deleted, Key: key, Resource: resource, Source: "replace"})
			deletionCount++
		}
	}

	firstReplace := !c.populated
	var firedSynchronized bool
	if firstReplace {
		c.populated = true
		c.initialPopulationCount = len(seeds) + deletionCount
		firedSynchronized = c.initialPopulationCount == 0
	}
	c.cond.Broadcast()
	queued, remaining := len(c.index), c.initialPopulationCount
	c.mu.Unlock()

	if firstReplace {
		c.notify.Fire(PropertyPopulated, true)
		c.notify.Fire(PropertyInitialPopulationCount, remaining)
		if firedSynchronized {
			c.notify.Fire(PropertyHasSynced, true)
		}
	}
	c.recordMetrics(queued, remaining)
	return nil
}

// Synchronize re-enqueues a Sync/Updated event for every KnownObjects key
// whose queue is currently empty, the periodic-resync counterpart to
// Replace. It is a no-op when the cache has no KnownObjects configured,
// since there is then nothing to resync against besides the cache's own
// in-flight state.
func (c *Cache) Synchronize() error {
	if c.knownObjects == nil {
		return nil
	}
	keys := c.knownObjects.ListKeys()

	c.mu.Lock()
	for _, key := range keys {
		resource, ok := c.knownObjects.GetByKey(key)
		if !ok {
			continue
		}
		if el, exists := c.index[key]; exists {
			if !el.Value.(*eventqueue.Queue).IsEmpty() {
				continue // never enqueue behind a pending event for the same key
			}
		}
		c.appendLocked(event.Event{Type: event.Sync, SyncType: event.Updated, Key: key, Resource: resource, Source: "synchronize"})
	}
	c.cond.Broadcast()
	queued, remaining := len(c.index), c.initialPopulationCount
	c.mu.Unlock()

	c.recordMetrics(queued, remaining)
	return nil
}

// Pop blocks until a queue is ready, the cache closes, or ctx is done,
// removing and returning the oldest ready queue in the first case. A nil
// Queue with a nil error means the cache closed while idle; the caller
// should stop consuming.
func (c *Cache) Pop(ctx context.Context) (*eventqueue.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	for c.order.Len() == 0 && !c.closing && ctx.Err() == nil {
		c.cond.Wait()
	}
	if c.order.Len() == 0 {
		c.mu.Unlock()
		return nil, ctx.Err()
	}

	front := c.order.Front()
	q := front.Value.(*eventqueue.Queue)
	c.order.Remove(front)
	delete(c.index, q.Key())

	var firedSynced bool
	if c.initialPopulationCount > 0 {
		c.initialPopulationCount--
		firedSynced = c.initialPopulationCount == 0
	}
	queued, remaining := len(c.index), c.initialPopulationCount
	c.mu.Unlock()

	c.notify.Fire(PropertyInitialPopulationCount, remaining)
	if firedSynced {
		c.notify.Fire(PropertyHasSynced, true)
	}
	if queued == 0 {
		c.notify.Fire(PropertyEmpty, true)
	}
	c.recordMetrics(queued, remaining)
	return q, nil
}

// requeue reinserts q at the back of the order, used when a sink reports
// RequeueTransient. It is skipped if a newer queue already exists for q's
// key (a watch event arrived while the sink was processing the old one) or
// if q drained to empty in the meantime.
func (c *Cache) requeue(q *eventqueue.Queue) {
	c.mu.Lock()
	if _, exists := c.index[q.Key()]; !exists && !q.IsEmpty() {
		el := c.order.PushBack(q)
		c.index[q.Key()] = el
		c.cond.Broadcast()
	}
	queued, remaining := len(c.index), c.initialPopulationCount
	c.mu.Unlock()
	c.recordMetrics(queued, remaining)
}

// Close marks the cache closing, wakes every blocked Pop (they return
// (nil, nil) once drained), and waits up to gracePeriod for an in-flight
// Run's consumer worker to exit. Close does not discard pending queues:
// Pop keeps handing out queued keys while closing, so the worker exits only
// once Pop finds nothing left to return. Go has no way to forcibly terminate
// a goroutine blocked inside a sink call, so "forced shutdown" here means
// Close simply stops waiting and returns once gracePeriod elapses; the
// worker keeps running until it has drained the cache. A non-positive
// gracePeriod skips waiting entirely.
func (c *Cache) Close(gracePeriod time.Duration) {
	c.mu.Lock()
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()

	if gracePeriod <= 0 {
		return
	}
	c.runMu.Lock()
	done := c.runDone
	c.runMu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(gracePeriod):
	}
}

// Reopen clears the closing flag so a new consumer can attach to the same
// cache after a prior Run has fully drained and returned.
func (c *Cache) Reopen() {
	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()
}

// HasSynced reports whether the cache has been populated at least once and
// every key from that initial population has since been popped.
func (c *Cache) HasSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populated && c.initialPopulationCount == 0
}

// Run drives Pop/sink in a loop until ctx is done or the cache closes.
// Concurrent Run calls are idempotent: a call made while another is already
// in flight returns immediately without consuming anything. Only one worker
// consumes at a time; there is no meaningful way to interleave two
// consumers fairly without a work-stealing redesign.
func (c *Cache) Run(ctx context.Context, sink SinkFunc) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.runDone = make(chan struct{})
	done := c.runDone
	c.runMu.Unlock()
	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		close(done)
	}()

	for {
		q, err := c.Pop(ctx)
		if err != nil {
			return err
		}
		if q == nil {
			return nil
		}
		if sink(ctx, q) == RequeueTransient {
			c.requeue(q)
		}
	}
}

// appendLocked applies ev to the queue for ev.Key, creating one if absent,
// and keeps order/index consistent with whether that queue ended up
// empty. Callers must hold c.mu.
func (c *Cache) appendLocked(ev event.Event) bool {
	el, preexisted := c.index[ev.Key]
	var q *eventqueue.Queue
	if preexisted {
		q = el.Value.(*eventqueue.Queue)
	} else {
		q = eventqueue.New(ev.Key)
	}

	nonEmpty := q.AddEvent(ev)
	switch {
	case nonEmpty && !preexisted:
		c.index[ev.Key] = c.order.PushBack(q)
	case !nonEmpty && preexisted:
		c.order.Remove(el)
		delete(c.index, ev.Key)
	}
	return nonEmpty
}

// keysLocked snapshots the current index keys. Callers must hold c.mu.
func (c *Cache) keysLocked() []string {
	return lo.Keys(c.index)
}

func (c *Cache) recordMetrics(queued, initialPopulationRemainingCount int) {
	labels := map[string]string{metricsNameLabel: c.name}
	queuedKeys.Set(float64(queued), labels)
	initialPopulationRemaining.Set(float64(initialPopulationRemainingCount), labels)
}

// String implements fmt.Stringer for diagnostics (e.g. controller-runtime's
// manager startup logs), without exposing internal lock state.
func (c *Cache) String() string {
	return fmt.Sprintf("eventqueuecache.Cache{name:%s}", c.name)
}
