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

// Package options holds the CLI flags / environment variables for the
// reflectorcache demo binary, merging command-line flags over environment
// variables over hardcoded defaults.
package options

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/awslabs/reflectorcache/pkg/utils/env"
)

type optionsKey struct{}

// FlagSet wraps flag.FlagSet with an env-var-aware bool registration, the
// one variant the standard library's Var helpers don't cover on their own.
type FlagSet struct {
	*flag.FlagSet
}

// BoolVarWithEnv defines a bool flag whose default is taken from envVar
// when set, falling back to val.
func (fs *FlagSet) BoolVarWithEnv(p *bool, name, envVar string, val bool, usage string) {
	*p = env.WithDefaultBool(envVar, val)
	fs.BoolFunc(name, usage, func(raw string) error {
		parsed, err := parseBool(raw)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	})
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not a valid value, must be true or false", raw)
	}
}

// Options holds every tunable of the reflectorcache demo binary.
type Options struct {
	MetricsBindAddress     string
	HealthProbeBindAddress string
	ResyncPeriod           time.Duration
	CacheCloseTimeout      time.Duration
	KubeClientQPS          int
	KubeClientBurst        int
	LeaderElection         bool
	LogLevel               string
}

// AddFlags registers every flag on fs, defaulting to its environment
// variable and then to a hardcoded value.
func (o *Options) AddFlags(fs *FlagSet) {
	fs.StringVar(&o.MetricsBindAddress, "metrics-bind-address", env.WithDefaultString("METRICS_BIND_ADDRESS", ":8080"), "The address the metrics endpoint binds to.")
	fs.StringVar(&o.HealthProbeBindAddress, "health-probe-bind-address", env.WithDefaultString("HEALTH_PROBE_BIND_ADDRESS", ":8081"), "The address the health probe endpoint binds to.")
	fs.DurationVar(&o.ResyncPeriod, "resync-period", env.WithDefaultDuration("RESYNC_PERIOD", 10*time.Minute), "How often the reflector has the cache re-synchronize against known objects.")
	fs.DurationVar(&o.CacheCloseTimeout, "cache-close-timeout", env.WithDefaultDuration("CACHE_CLOSE_TIMEOUT", 30*time.Second), "How long to wait for the consumer to drain pending queues after the cache is closed before returning anyway.")
	fs.IntVar(&o.KubeClientQPS, "kube-client-qps", env.WithDefaultInt("KUBE_CLIENT_QPS", 20), "The smoothed rate of QPS to the API server from the reflector's client. Not read by the demo binary, which has no API server client.")
	fs.IntVar(&o.KubeClientBurst, "kube-client-burst", env.WithDefaultInt("KUBE_CLIENT_BURST", 30), "The maximum allowed burst of queries to the API server from the reflector's client. Not read by the demo binary, which has no API server client.")
	fs.BoolVarWithEnv(&o.LeaderElection, "leader-election", "LEADER_ELECTION", false, "Enable leader election before starting the reflector. Not read by the demo binary, which runs the reflector without a manager.")
	fs.StringVar(&o.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity level. Can be one of 'debug', 'info', or 'error'.")
}

var validLogLevels = []string{"debug", "info", "error"}

// Parse parses args against fs and validates the result.
func (o *Options) Parse(fs *FlagSet, args ...string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return fmt.Errorf("parsing flags, %w", err)
	}
	if !lo.Contains(validLogLevels, o.LogLevel) {
		return fmt.Errorf("validating cli flags / env vars, invalid LOG_LEVEL %q", o.LogLevel)
	}
	if o.ResyncPeriod <= 0 {
		return fmt.Errorf("validating cli flags / env vars, RESYNC_PERIOD must be positive, got %s", o.ResyncPeriod)
	}
	if o.CacheCloseTimeout <= 0 {
		return fmt.Errorf("validating cli flags / env vars, CACHE_CLOSE_TIMEOUT must be positive, got %s", o.CacheCloseTimeout)
	}
	return nil
}

// ToContext stashes o in ctx.
func ToContext(ctx context.Context, o *Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, o)
}

// FromContext retrieves the Options stashed in ctx by ToContext, panicking
// if none was ever stashed since that is always a caller error.
func FromContext(ctx context.Context) *Options {
	v := ctx.Value(optionsKey{})
	if v == nil {
		panic("options doesn't exist in context")
	}
	return v.(*Options)
}
