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

// Command reflectorcache-demo wires a liststore.Store (standing in for a
// real cluster API), an eventqueuecache.Cache, and a reflector.Reflector
// together end to end, printing every popped queue's events to the log as
// they're delivered. It deliberately does not stand up a full
// controller-runtime Manager: the Reflector satisfies manager.Runnable /
// manager.LeaderElectionRunnable for callers that embed it in a real
// manager against a real cluster, but this demo has no cluster to connect
// to, so it drives the Reflector and the consumer loop directly under one
// errgroup.Group instead, the way cmd/controller/main.go wires karpenter's
// controllers onto a manager but without requiring live API server access.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/awslabs/reflectorcache/pkg/eventqueue"
	"github.com/awslabs/reflectorcache/pkg/eventqueuecache"
	"github.com/awslabs/reflectorcache/pkg/liststore"
	"github.com/awslabs/reflectorcache/pkg/options"
	"github.com/awslabs/reflectorcache/pkg/reflector"
)

func main() {
	opts := &options.Options{}
	fs := &options.FlagSet{FlagSet: flag.NewFlagSet("reflectorcache-demo", flag.ExitOnError)}
	opts.AddFlags(fs)
	if err := opts.Parse(fs, os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		zapLevel.SetLevel(zap.InfoLevel)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zapLevel
	zapLog, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger,", err)
		os.Exit(1)
	}
	logger := zapr.NewLogger(zapLog)
	controllerruntime.SetLogger(logger)
	// client-go's own DeletionHandlingMetaNamespaceKeyFunc and tombstone
	// handling log through klog; route that into the same structured
	// logger instead of klog's default stderr writer.
	klog.SetLogger(logger)

	ctx := controllerruntime.SetupSignalHandler()
	ctx = log.IntoContext(ctx, logger)
	ctx = options.ToContext(ctx, opts)

	if err := run(ctx, opts); err != nil {
		logger.Error(err, "reflectorcache-demo exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options.Options) error {
	logger := log.FromContext(ctx)

	store := liststore.New()
	store.Put("default/demo-pod-a", fakePod("demo-pod-a"))
	store.Put("default/demo-pod-b", fakePod("demo-pod-b"))

	cache := eventqueuecache.New(eventqueuecache.Config{Name: "demo"})
	refl := reflector.New(reflector.Config{
		Name:          "demo",
		ListerWatcher: store,
		Cache:         cache,
		ResyncPeriod:  opts.ResyncPeriod,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: opts.MetricsBindAddress, Handler: metricsMux}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := cache.HealthzChecker()(r); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	healthServer := &http.Server{Addr: opts.HealthProbeBindAddress, Handler: healthMux}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return refl.Run(ctx) })
	group.Go(func() error {
		return cache.Run(ctx, func(_ context.Context, q *eventqueue.Queue) eventqueuecache.SinkResult {
			for _, e := range q.Events() {
				logger.Info("delivered event", "key", e.Key, "type", e.Type, "source", e.Source)
			}
			return eventqueuecache.Done
		})
	})
	group.Go(func() error {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := multierr.Combine(healthServer.Close(), metricsServer.Close()); err != nil {
			logger.Error(err, "shutting down demo servers")
		}
		return nil
	})
	group.Go(func() error {
		// Simulate ongoing cluster churn so the demo has something to
		// watch beyond its initial list.
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-ctx.Done():
				cache.Close(opts.CacheCloseTimeout)
				return nil
			case <-ticker.C:
				n++
				store.Put(fmt.Sprintf("default/demo-pod-%d", n), fakePod(fmt.Sprintf("demo-pod-%d", n)))
			}
		}
	})

	logger.Info("reflectorcache-demo started", "metricsBindAddress", opts.MetricsBindAddress, "healthProbeBindAddress", opts.HealthProbeBindAddress)
	err := group.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func fakePod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		TypeMeta:   metav1.TypeMeta{Kind: "Pod", APIVersion: "v1"},
	}
}
