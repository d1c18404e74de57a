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

package eventqueuecache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/awslabs/reflectorcache/pkg/event"
	"github.com/awslabs/reflectorcache/pkg/eventqueue"
	"github.com/awslabs/reflectorcache/pkg/eventqueuecache"
)

func TestEventQueueCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventQueueCache")
}

func pod(name, rv string) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", ResourceVersion: rv}}
}

var _ = Describe("Cache", func() {
	var c *eventqueuecache.Cache

	BeforeEach(func() {
		c = eventqueuecache.New(eventqueuecache.Config{Name: "test"})
	})

	It("is not synced before anything is seeded", func() {
		Expect(c.HasSynced()).To(BeFalse())
	})

	It("pops events in FIFO key order", func() {
		_, err := c.Add("watch", event.Added, pod("a", "1"))
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Add("watch", event.Added, pod("b", "1"))
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		first, err := c.Pop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Key()).To(Equal("default/a"))

		second, err := c.Pop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Key()).To(Equal("default/b"))
	})

	It("blocks Pop until an event arrives", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		var popped *event.Event
		go func() {
			defer wg.Done()
			q, err := c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(q).NotTo(BeNil())
			events := q.Events()
			Expect(events).To(HaveLen(1))
			popped = &events[0]
		}()

		time.Sleep(50 * time.Millisecond)
		_, err := c.Add("watch", event.Added, pod("a", "1"))
		Expect(err).NotTo(HaveOccurred())

		wg.Wait()
		Expect(popped).NotTo(BeNil())
		Expect(popped.Key).To(Equal("default/a"))
	})

	It("returns nil, nil from Pop once closed and drained", func() {
		c.Close(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q, err := c.Pop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(q).To(BeNil())
	})

	It("returns ctx.Err() from Pop when the context is done first", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		q, err := c.Pop(ctx)
		Expect(err).To(HaveOccurred())
		Expect(q).To(BeNil())
	})

	Describe("Replace", func() {
		It("seeds initialPopulationCount from the first full list", func() {
			items := []runtime.Object{pod("a", "1"), pod("b", "1")}
			Expect(c.Replace(items, "100")).To(Succeed())
			Expect(c.HasSynced()).To(BeFalse())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.HasSynced()).To(BeFalse())
			_, err = c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.HasSynced()).To(BeTrue())
		})

		It("is synced immediately on an empty first replace", func() {
			Expect(c.Replace(nil, "100")).To(Succeed())
			Expect(c.HasSynced()).To(BeTrue())
		})

		It("synthesizes deletions for keys still queued but missing from a later replace", func() {
			// Without a KnownObjects, Replace treats whatever is still
			// sitting in the cache's own index (i.e. not yet popped) as the
			// "last observed" set to reconcile against.
			Expect(c.Replace([]runtime.Object{pod("a", "1"), pod("b", "1")}, "100")).To(Succeed())
			Expect(c.Replace([]runtime.Object{pod("a", "2")}, "200")).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			first, err := c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Key()).To(Equal("default/a"))

			second, err := c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Key()).To(Equal("default/b"))
			events := second.Events()
			last := events[len(events)-1]
			Expect(last.EffectiveType()).To(Equal(event.Deleted))
		})
	})

	Describe("Synchronize", func() {
		It("is a no-op without KnownObjects", func() {
			Expect(c.Synchronize()).To(Succeed())
		})

		It("re-enqueues keys whose queue has fully drained", func() {
			known := eventqueuecache.NewMapKnownObjects()
			known.Set("default/a", pod("a", "1"))
			kc := eventqueuecache.New(eventqueuecache.Config{Name: "known", KnownObjects: known})

			Expect(kc.Synchronize()).To(Succeed())
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			q, err := kc.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Key()).To(Equal("default/a"))
		})

		It("does not enqueue behind a pending event for the same key", func() {
			known := eventqueuecache.NewMapKnownObjects()
			known.Set("default/a", pod("a", "1"))
			kc := eventqueuecache.New(eventqueuecache.Config{Name: "known-pending", KnownObjects: known})

			_, err := kc.Add("watch", event.Added, pod("a", "2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(kc.Synchronize()).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			q, err := kc.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Events()).To(HaveLen(1))
		})
	})

	Describe("Run", func() {
		It("requeues on RequeueTransient and eventually delivers Done", func() {
			_, err := c.Add("watch", event.Added, pod("a", "1"))
			Expect(err).NotTo(HaveOccurred())

			var attempts int
			var mu sync.Mutex
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- c.Run(ctx, func(_ context.Context, q *eventqueue.Queue) eventqueuecache.SinkResult {
					mu.Lock()
					attempts++
					n := attempts
					mu.Unlock()
					if n < 2 {
						return eventqueuecache.RequeueTransient
					}
					cancel()
					return eventqueuecache.Done
				})
			}()

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return attempts
			}).WithTimeout(2 * time.Second).Should(BeNumerically(">=", 2))

			Expect(<-done).To(Or(BeNil(), Equal(context.Canceled)))
		})
	})

	Describe("Close", func() {
		It("waits up to gracePeriod for an in-flight Run to drain its current sink call", func() {
			_, err := c.Add("watch", event.Added, pod("a", "1"))
			Expect(err).NotTo(HaveOccurred())

			sinkEntered := make(chan struct{})
			releaseSink := make(chan struct{})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			runDone := make(chan error, 1)
			go func() {
				runDone <- c.Run(ctx, func(_ context.Context, _ *eventqueue.Queue) eventqueuecache.SinkResult {
					close(sinkEntered)
					<-releaseSink
					return eventqueuecache.Done
				})
			}()

			Eventually(sinkEntered).WithTimeout(time.Second).Should(BeClosed())

			closeDone := make(chan struct{})
			go func() {
				c.Close(5 * time.Second)
				close(closeDone)
			}()

			Consistently(closeDone, 100*time.Millisecond).ShouldNot(BeClosed())
			close(releaseSink)
			Eventually(closeDone).WithTimeout(time.Second).Should(BeClosed())
			Eventually(runDone).WithTimeout(time.Second).Should(Receive())
		})

		It("stops waiting once gracePeriod elapses even if the sink is still running", func() {
			_, err := c.Add("watch", event.Added, pod("a", "1"))
			Expect(err).NotTo(HaveOccurred())

			sinkEntered := make(chan struct{})
			releaseSink := make(chan struct{})
			defer close(releaseSink)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				_ = c.Run(ctx, func(_ context.Context, _ *eventqueue.Queue) eventqueuecache.SinkResult {
					close(sinkEntered)
					<-releaseSink
					return eventqueuecache.Done
				})
			}()

			Eventually(sinkEntered).WithTimeout(time.Second).Should(BeClosed())

			start := time.Now()
			c.Close(50 * time.Millisecond)
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})
	})

	Describe("notifications", func() {
		It("fires populated then synchronized as the cache drains", func() {
			var populated, synced bool
			var mu sync.Mutex
			c.Notify().Subscribe(eventqueuecache.PropertyPopulated, func(any) {
				mu.Lock()
				populated = true
				mu.Unlock()
			})
			c.Notify().Subscribe(eventqueuecache.PropertyHasSynced, func(any) {
				mu.Lock()
				synced = true
				mu.Unlock()
			})

			Expect(c.Replace([]runtime.Object{pod("a", "1")}, "1")).To(Succeed())
			mu.Lock()
			Expect(populated).To(BeTrue())
			Expect(synced).To(BeFalse())
			mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := c.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			Expect(synced).To(BeTrue())
		})
	})
})
