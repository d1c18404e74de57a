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
	opmetrics "github.com/awslabs/operatorpkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	metricsSubsystem = "eventqueuecache"
	metricsNameLabel = "cache"
)

// Metrics are registered against the controller-runtime registry through
// operatorpkg's GaugeMetric wrapper, scoped to one cache instance via the
// "cache" label, the same construction style as pkg/batcher/metrics.go's
// histograms and sigs.k8s.io/karpenter's nodepool metrics controller.
var (
	queuedKeys = opmetrics.NewPrometheusGauge(
		crmetrics.Registry,
		prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "queued_keys",
			Help:      "Number of keys with at least one pending event.",
		},
		[]string{metricsNameLabel},
	)
	initialPopulationRemaining = opmetrics.NewPrometheusGauge(
		crmetrics.Registry,
		prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "initial_population_remaining",
			Help:      "Number of keys seeded by the first Replace that have not yet been popped.",
		},
		[]string{metricsNameLabel},
	)
)
