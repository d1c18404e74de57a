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

// Package event defines the immutable change-notification record that
// flows from a Reflector into an eventqueuecache.Cache and out to a
// consumer's sink.
package event

import "k8s.io/apimachinery/pkg/runtime"

// Type identifies the kind of change an Event describes.
type Type string

const (
	Added   Type = "ADDED"
	Updated Type = "UPDATED"
	Deleted Type = "DELETED"
	// Sync marks an event as synthesized (by Replace or Synchronize) rather
	// than a real notification from the watch stream. A Sync event's
	// semantic kind — whether it behaves like an addition or an update for
	// dedup/compression purposes — is carried separately in SyncType.
	Sync Type = "SYNC"
)

// Event is an immutable record of a single change to a keyed resource.
// PriorResource is best-effort and is never consulted by Queue or Cache;
// it exists purely for consumers that want a diff.
type Event struct {
	Type Type
	// SyncType is Added or Updated when Type == Sync, and the zero value
	// otherwise. It lets dedup/compression treat a Sync the same way it
	// would treat the real event it stands in for.
	SyncType Type
	Key      string
	Resource runtime.Object
	// PriorResource is the resource's prior observed state, if known.
	PriorResource runtime.Object
	// Source attributes the event to whatever produced it (a Reflector
	// instance, a test harness, ...). Purely for logging/debugging.
	Source string
}

// IsSync reports whether e was synthesized rather than observed directly.
func (e Event) IsSync() bool {
	return e.Type == Sync
}

// EffectiveType returns the type used for dedup/compression decisions: for
// a Sync event this is SyncType, otherwise it is Type itself.
func (e Event) EffectiveType() Type {
	if e.IsSync() {
		return e.SyncType
	}
	return e.Type
}

// IsDeletion reports whether e represents the resource disappearing.
func (e Event) IsDeletion() bool {
	return e.Type == Deleted
}
