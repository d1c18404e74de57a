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
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"
)

// KeyFunc extracts an opaque identity from a resource. Construction of
// individual resources and extraction of their identity is an external
// collaborator; the cache only ever consumes this function.
type KeyFunc func(obj runtime.Object) (string, error)

// DefaultKeyFunc keys resources the same way client-go's informers do:
// "namespace/name", or just "name" for cluster-scoped resources, and it
// tolerates DeletedFinalStateUnknown tombstones the way a watch-driven
// deletion event sometimes produces them. Grounded in
// rangeli1992-vagrant-k8s-calico/utils/watch.go, which uses the same
// client-go key funcs for its own Add/Update/Delete handlers.
func DefaultKeyFunc(obj runtime.Object) (string, error) {
	return cache.DeletionHandlingMetaNamespaceKeyFunc(obj)
}
