package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "ci-resources", cfg.Tracking.ConfigMapName)
	assert.Equal(t, "jenkins", cfg.Tracking.ConfigMapNamespace)
	assert.Equal(t, "kube0", cfg.Tracking.DeploymentName)
	assert.Equal(t, "buildkit", cfg.Tracking.DeploymentNamespace)
	assert.Equal(t, "jenkins", cfg.Tracking.PodNamespace)
	assert.Equal(t, "jenkins", cfg.Tracking.PodWatchNamespace())
	assert.Equal(t, "scheduler/jenkins", cfg.Tracking.CapacityLabel)
	assert.Equal(t, []string{"docker/buildkit", "jenkins/worker"}, cfg.Tracking.ToggleLabels)
	assert.Equal(t, "e2e-resource", cfg.Tracking.E2ECostKey)
	assert.Equal(t, "pr-resource", cfg.Tracking.PRCostKey)
	assert.Equal(t, "e2e", cfg.Tracking.E2EMatch)
	assert.Equal(t, DefaultMaxRetries, cfg.Watch.MaxRetries)
	assert.Equal(t, DefaultVerbose, cfg.Logging.Verbose)
	assert.Equal(t, DefaultMetricsPort, cfg.Controller.MetricsPort)
	assert.Equal(t, DefaultEventHistory, cfg.Controller.EventHistory)

	require.NoError(t, ValidateStructure(cfg))
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Tracking: TrackingConfig{
			ConfigMapName: "costs",
			ToggleLabels:  []string{"only/one"},
		},
		Watch:      WatchConfig{MaxRetries: 3},
		Controller: ControllerConfig{MetricsPort: 9200, EventHistory: 5},
	}
	setDefaults(cfg)

	assert.Equal(t, "costs", cfg.Tracking.ConfigMapName)
	assert.Equal(t, []string{"only/one"}, cfg.Tracking.ToggleLabels)
	assert.Equal(t, 3, cfg.Watch.MaxRetries)
	assert.Equal(t, 9200, cfg.Controller.MetricsPort)
	assert.Equal(t, 5, cfg.Controller.EventHistory)
}

func TestDefaultToggleLabels_ReturnsFreshSlice(t *testing.T) {
	labels := DefaultToggleLabels()
	labels[0] = "mutated"

	assert.Equal(t, "docker/buildkit", DefaultToggleLabels()[0])
}

func TestWatchConfig_DurationAccessors(t *testing.T) {
	tests := []struct {
		name     string
		config   WatchConfig
		initial  time.Duration
		max      time.Duration
		debounce time.Duration
	}{
		{
			name:     "unset uses defaults",
			config:   WatchConfig{},
			initial:  DefaultInitialBackoff,
			max:      DefaultMaxBackoff,
			debounce: DefaultDebounceInterval,
		},
		{
			name:     "valid values",
			config:   WatchConfig{InitialBackoff: "2s", MaxBackoff: "2m", DebounceInterval: "1s"},
			initial:  2 * time.Second,
			max:      2 * time.Minute,
			debounce: time.Second,
		},
		{
			name:     "invalid values fall back",
			config:   WatchConfig{InitialBackoff: "soon", MaxBackoff: "later", DebounceInterval: "x"},
			initial:  DefaultInitialBackoff,
			max:      DefaultMaxBackoff,
			debounce: DefaultDebounceInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.initial, tt.config.GetInitialBackoff())
			assert.Equal(t, tt.max, tt.config.GetMaxBackoff())
			assert.Equal(t, tt.debounce, tt.config.GetDebounceInterval())
		})
	}
}
