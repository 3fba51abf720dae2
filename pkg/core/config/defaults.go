package config

import (
	"time"

	"ci-capacity/pkg/capacity"
	"ci-capacity/pkg/k8s/types"
)

// Default values for configuration fields.
const (
	// DefaultConfigMapName is the ConfigMap holding the per-class costs.
	DefaultConfigMapName = capacity.DefaultConfigName

	// DefaultConfigMapNamespace is the namespace of the cost ConfigMap.
	DefaultConfigMapNamespace = "jenkins"

	// DefaultDeploymentName is the scaled deployment.
	DefaultDeploymentName = "kube0"

	// DefaultDeploymentNamespace is the namespace of the scaled deployment.
	DefaultDeploymentNamespace = "buildkit"

	// DefaultPodNamespace is the namespace CI pods run in.
	DefaultPodNamespace = "jenkins"

	// DefaultMetricsPort is the default port for Prometheus metrics.
	DefaultMetricsPort = 9090

	// DefaultEventHistory is the default number of retained engine events.
	DefaultEventHistory = 100

	// DefaultVerbose is the default log level (1 = INFO).
	DefaultVerbose = 1

	// DefaultMaxRetries is the default reconnect budget per session.
	DefaultMaxRetries = types.DefaultMaxRetries

	// DefaultInitialBackoff is the default first reconnect wait.
	DefaultInitialBackoff = types.DefaultInitialBackoff

	// DefaultMaxBackoff is the default cap on the reconnect wait.
	DefaultMaxBackoff = types.DefaultMaxBackoff

	// DefaultDebounceInterval is the default change notification interval.
	DefaultDebounceInterval = types.DefaultDebounceInterval
)

// DefaultToggleLabels returns the default presence-only node labels.
func DefaultToggleLabels() []string {
	return []string{"docker/buildkit", "jenkins/worker"}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Verbose: DefaultVerbose}}
	setDefaults(cfg)
	return cfg
}

// setDefaults applies default values to unset configuration fields.
// This modifies the config in-place and should be called after parsing
// the configuration and before validation.
func setDefaults(cfg *Config) {
	t := &cfg.Tracking
	if t.ConfigMapName == "" {
		t.ConfigMapName = DefaultConfigMapName
	}
	if t.ConfigMapNamespace == "" {
		t.ConfigMapNamespace = DefaultConfigMapNamespace
	}
	if t.DeploymentName == "" {
		t.DeploymentName = DefaultDeploymentName
	}
	if t.DeploymentNamespace == "" {
		t.DeploymentNamespace = DefaultDeploymentNamespace
	}
	if t.PodNamespace == "" {
		t.PodNamespace = DefaultPodNamespace
	}
	if t.CapacityLabel == "" {
		t.CapacityLabel = capacity.DefaultCapacityLabel
	}
	if len(t.ToggleLabels) == 0 {
		t.ToggleLabels = DefaultToggleLabels()
	}
	if t.E2ECostKey == "" {
		t.E2ECostKey = capacity.DefaultE2ECostKey
	}
	if t.PRCostKey == "" {
		t.PRCostKey = capacity.DefaultPRCostKey
	}
	if t.E2EMatch == "" {
		t.E2EMatch = capacity.DefaultE2EMatch
	}

	if cfg.Watch.MaxRetries == 0 {
		cfg.Watch.MaxRetries = DefaultMaxRetries
	}

	// Note: Verbose level 0 is valid (WARNING), so we don't set a default

	if cfg.Controller.MetricsPort == 0 {
		cfg.Controller.MetricsPort = DefaultMetricsPort
	}
	if cfg.Controller.EventHistory == 0 {
		cfg.Controller.EventHistory = DefaultEventHistory
	}
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// GetInitialBackoff returns the configured initial backoff or the default if
// not specified or invalid.
func (w *WatchConfig) GetInitialBackoff() time.Duration {
	return durationOr(w.InitialBackoff, DefaultInitialBackoff)
}

// GetMaxBackoff returns the configured maximum backoff or the default if not
// specified or invalid.
func (w *WatchConfig) GetMaxBackoff() time.Duration {
	return durationOr(w.MaxBackoff, DefaultMaxBackoff)
}

// GetDebounceInterval returns the configured debounce interval or the default
// if not specified or invalid.
func (w *WatchConfig) GetDebounceInterval() time.Duration {
	return durationOr(w.DebounceInterval, DefaultDebounceInterval)
}
