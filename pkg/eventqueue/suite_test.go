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

package eventqueue_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/awslabs/reflectorcache/pkg/event"
	"github.com/awslabs/reflectorcache/pkg/eventqueue"
)

func TestEventQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventQueue")
}

func pod(name, rv string) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, ResourceVersion: rv}}
}

var _ = Describe("Queue", func() {
	var q *eventqueue.Queue

	BeforeEach(func() {
		q = eventqueue.New("default/a")
	})

	It("starts empty", func() {
		Expect(q.IsEmpty()).To(BeTrue())
		Expect(q.Len()).To(Equal(0))
	})

	It("retains ordinary events in order", func() {
		Expect(q.AddEvent(event.Event{Type: event.Added, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Updated, Key: "default/a", Resource: pod("a", "2")})).To(BeTrue())
		Expect(q.Len()).To(Equal(2))
		last, ok := q.GetLast()
		Expect(ok).To(BeTrue())
		Expect(last.Resource.(*corev1.Pod).ResourceVersion).To(Equal("2"))
	})

	It("drops the older of two consecutive deletions", func() {
		Expect(q.AddEvent(event.Event{Type: event.Deleted, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Deleted, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.Len()).To(Equal(1))
	})

	It("drops a sync immediately superseded by a real event", func() {
		Expect(q.AddEvent(event.Event{Type: event.Sync, SyncType: event.Added, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Updated, Key: "default/a", Resource: pod("a", "2")})).To(BeTrue())
		Expect(q.Len()).To(Equal(1))
		last, _ := q.GetLast()
		Expect(last.Type).To(Equal(event.Updated))
	})

	It("keeps a sync that is not immediately superseded", func() {
		Expect(q.AddEvent(event.Event{Type: event.Sync, SyncType: event.Added, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.Len()).To(Equal(1))
	})

	It("leaves an addition immediately followed by a deletion non-empty", func() {
		Expect(q.AddEvent(event.Event{Type: event.Added, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Deleted, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.IsEmpty()).To(BeFalse())
		last, ok := q.GetLast()
		Expect(ok).To(BeTrue())
		Expect(last.Type).To(Equal(event.Deleted))
	})

	It("leaves addition-then-update-then-deletion uncollapsed", func() {
		Expect(q.AddEvent(event.Event{Type: event.Added, Key: "default/a", Resource: pod("a", "1")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Updated, Key: "default/a", Resource: pod("a", "2")})).To(BeTrue())
		Expect(q.AddEvent(event.Event{Type: event.Deleted, Key: "default/a", Resource: pod("a", "2")})).To(BeTrue())
		Expect(q.Len()).To(Equal(3))
	})

	It("never leaves two consecutive deletions after repeated adds", func() {
		for i := 0; i < 5; i++ {
			q.AddEvent(event.Event{Type: event.Deleted, Key: "default/a", Resource: pod("a", "1")})
		}
		events := q.Events()
		for i := 1; i < len(events); i++ {
			Expect(events[i-1].EffectiveType() == event.Deleted && events[i].EffectiveType() == event.Deleted).To(BeFalse())
		}
	})
})
