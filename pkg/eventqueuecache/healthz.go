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
	"fmt"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// HealthzChecker returns a controller-runtime health check that fails until
// the cache has completed its initial population and drained it.
func (c *Cache) HealthzChecker() healthz.Checker {
	return func(_ *http.Request) error {
		if !c.HasSynced() {
			return fmt.Errorf("eventqueuecache: initial population not yet drained")
		}
		return nil
	}
}
