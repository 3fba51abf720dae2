package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStructure_Nil(t *testing.T) {
	err := ValidateStructure(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is nil")
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "all namespaces for pods",
			mutate: func(c *Config) { c.Tracking.PodNamespace = AllNamespaces },
		},
		{
			name:    "invalid configmap name",
			mutate:  func(c *Config) { c.Tracking.ConfigMapName = "Bad_Name" },
			wantErr: "tracking: configmap_name",
		},
		{
			name:    "invalid deployment namespace",
			mutate:  func(c *Config) { c.Tracking.DeploymentNamespace = "has.dot" },
			wantErr: "tracking: deployment_namespace",
		},
		{
			name:    "invalid pod namespace",
			mutate:  func(c *Config) { c.Tracking.PodNamespace = "UPPER" },
			wantErr: "tracking: pod_namespace",
		},
		{
			name:    "invalid capacity label",
			mutate:  func(c *Config) { c.Tracking.CapacityLabel = "not a label" },
			wantErr: "tracking: capacity_label",
		},
		{
			name:    "invalid toggle label",
			mutate:  func(c *Config) { c.Tracking.ToggleLabels = []string{"ok/label", "bad label"} },
			wantErr: "toggle_labels[1]",
		},
		{
			name:    "toggle label equals capacity label",
			mutate:  func(c *Config) { c.Tracking.ToggleLabels = []string{c.Tracking.CapacityLabel} },
			wantErr: "must differ from capacity_label",
		},
		{
			name:    "same cost keys",
			mutate:  func(c *Config) { c.Tracking.PRCostKey = c.Tracking.E2ECostKey },
			wantErr: "cannot be the same",
		},
		{
			name:    "invalid cost key",
			mutate:  func(c *Config) { c.Tracking.E2ECostKey = "with space" },
			wantErr: "tracking: e2e_cost_key",
		},
		{
			name:    "blank e2e match",
			mutate:  func(c *Config) { c.Tracking.E2EMatch = "  " },
			wantErr: "e2e_match cannot be blank",
		},
		{
			name:    "unparseable duration",
			mutate:  func(c *Config) { c.Watch.InitialBackoff = "soon" },
			wantErr: "watch: initial_backoff",
		},
		{
			name:    "non-positive duration",
			mutate:  func(c *Config) { c.Watch.DebounceInterval = "0s" },
			wantErr: "debounce_interval must be positive",
		},
		{
			name: "max backoff below initial",
			mutate: func(c *Config) {
				c.Watch.InitialBackoff = "10s"
				c.Watch.MaxBackoff = "1s"
			},
			wantErr: "must not be less than initial_backoff",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Watch.MaxRetries = -1 },
			wantErr: "max_retries must not be negative",
		},
		{
			name:    "verbose out of range",
			mutate:  func(c *Config) { c.Logging.Verbose = 3 },
			wantErr: "logging: verbose",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Controller.MetricsPort = 70000 },
			wantErr: "controller: metrics_port",
		},
		{
			name:    "event history not positive",
			mutate:  func(c *Config) { c.Controller.EventHistory = -5 },
			wantErr: "event_history must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := ValidateStructure(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
