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
	"context"

	"github.com/awslabs/reflectorcache/pkg/eventqueue"
)

// SinkResult tells Run what to do with a queue once a SinkFunc returns.
type SinkResult int

const (
	// Done means the sink fully processed the queue; it is discarded.
	Done SinkResult = iota
	// RequeueTransient means processing failed for a reason expected to
	// clear on its own; the queue is pushed back for another attempt.
	RequeueTransient
)

// SinkFunc consumes one popped queue. Returning RequeueTransient is the
// caller's signal that the failure is transient; a permanent failure
// should be handled internally (logged, surfaced via metrics) and return
// Done, since there is no bound on how long a permanently-failing key would
// otherwise recirculate.
type SinkFunc func(ctx context.Context, q *eventqueue.Queue) SinkResult
