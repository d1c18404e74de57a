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

import "sync/atomic"

// atomicString is a concurrency-safe string holder, used for
// lastResourceVersion which is written from whichever goroutine is
// currently running listAndWatch and read from any goroutine via
// LastResourceVersion. The zero value reads as "".
type atomicString struct {
	v atomic.Value
}

func (a *atomicString) Store(s string) {
	a.v.Store(s)
}

func (a *atomicString) Load() string {
	v, _ := a.v.Load().(string)
	return v
}
