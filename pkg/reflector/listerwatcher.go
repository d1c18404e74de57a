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

// Package reflector drives a cache from a remote store: it lists a full
// snapshot, replaces the cache's contents with it, opens a watch from the
// list's resource version, and reconnects with backoff whenever that watch
// closes abnormally.
package reflector

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
)

// ListerWatcher is the remote store a Reflector drives a cache from.
// WithResourceVersion is a distinct step from Watch so implementations can
// resolve a starting point (e.g. a bookmark, a bounded history window)
// without the Reflector ever needing to special-case that resolution.
type ListerWatcher interface {
	// List returns a full snapshot and the resource version it was taken
	// at.
	List(ctx context.Context) (items []runtime.Object, resourceVersion string, err error)
	// WithResourceVersion scopes a subsequent Watch to begin just after
	// resourceVersion.
	WithResourceVersion(resourceVersion string) Watchable
}

// Watchable opens a watch at the resource version it was scoped to.
type Watchable interface {
	Watch(ctx context.Context) (watch.Interface, error)
}
