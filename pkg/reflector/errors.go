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

import "errors"

// ErrListFailed wraps any error returned by ListerWatcher.List. The cache is
// left untouched by a failed List, and Run logs the error and retries with a
// fresh list+watch rather than returning it. A watch.Error event is reported
// with its own error, not with ErrListFailed.
var ErrListFailed = errors.New("listing failed")

// ErrWatchClosed marks a watch channel that closed on its own while ctx was
// still live, e.g. an apiserver dropping an idle watch after its timeout. It
// is never returned for a clean, ctx-cancelled shutdown; it exists purely to
// make listAndWatch's result non-nil so retry.Do reconnects via a fresh
// list+watch instead of treating the close as success.
var ErrWatchClosed = errors.New("watch closed")
