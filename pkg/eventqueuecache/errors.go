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

import "errors"

var (
	// ErrInvalidKey is returned by Add/Replace when a resource yields no key.
	ErrInvalidKey = errors.New("resource has no key")
	// ErrClosed is returned by Add when the cache is closing.
	ErrClosed = errors.New("cache is closing")
)
