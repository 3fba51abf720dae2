// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides data models for the capacity engine configuration.
//
// The configuration names the fixed set of tracked objects and tunes the
// watch sessions, logging and the metrics endpoint.
package config

// Config is the root configuration structure.
type Config struct {
	// Tracking names the tracked objects, labels and config keys.
	Tracking TrackingConfig `yaml:"tracking"`

	// Watch tunes reconnect backoff and change notification.
	Watch WatchConfig `yaml:"watch"`

	// Logging configures logging behavior.
	Logging LoggingConfig `yaml:"logging"`

	// Controller contains process-level settings (ports, etc.).
	Controller ControllerConfig `yaml:"controller"`
}

// TrackingConfig names the tracked objects.
type TrackingConfig struct {
	// ConfigMapName is the ConfigMap holding the per-class costs.
	// Default: ci-resources
	ConfigMapName string `yaml:"configmap_name"`

	// ConfigMapNamespace is the namespace of ConfigMapName.
	// Default: jenkins
	ConfigMapNamespace string `yaml:"configmap_namespace"`

	// DeploymentName is the deployment whose replica count is tracked and scaled.
	// Default: kube0
	DeploymentName string `yaml:"deployment_name"`

	// DeploymentNamespace is the namespace of DeploymentName.
	// Default: buildkit
	DeploymentNamespace string `yaml:"deployment_namespace"`

	// PodNamespace restricts the pod mirror to one namespace.
	// "*" tracks pods in all namespaces.
	// Default: jenkins
	PodNamespace string `yaml:"pod_namespace"`

	// CapacityLabel is the node label holding the node's capacity.
	// Default: scheduler/jenkins
	CapacityLabel string `yaml:"capacity_label"`

	// ToggleLabels are the presence-only node labels operators switch on and off.
	// Default: [docker/buildkit, jenkins/worker]
	ToggleLabels []string `yaml:"toggle_labels"`

	// E2ECostKey is the config key holding the cost of an end-to-end pod.
	// Default: e2e-resource
	E2ECostKey string `yaml:"e2e_cost_key"`

	// PRCostKey is the config key holding the cost of a pull-request pod.
	// Default: pr-resource
	PRCostKey string `yaml:"pr_cost_key"`

	// E2EMatch classifies pods whose name contains it as end-to-end.
	// Default: e2e
	E2EMatch string `yaml:"e2e_match"`
}

// AllNamespaces is the PodNamespace value selecting every namespace.
const AllNamespaces = "*"

// PodWatchNamespace returns the namespace to list and watch pods in, with ""
// meaning all namespaces.
func (t *TrackingConfig) PodWatchNamespace() string {
	if t.PodNamespace == AllNamespaces {
		return ""
	}
	return t.PodNamespace
}

// WatchConfig tunes the watch sessions.
type WatchConfig struct {
	// InitialBackoff is the first wait after a stream failure.
	// Format: Go duration string (e.g., "500ms")
	// Default: 500ms
	InitialBackoff string `yaml:"initial_backoff"`

	// MaxBackoff caps the wait between reconnect attempts.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	MaxBackoff string `yaml:"max_backoff"`

	// MaxRetries is the number of consecutive failed reconnects tolerated
	// before a session fails terminally.
	// Default: 8
	MaxRetries int `yaml:"max_retries"`

	// DebounceInterval coalesces change notifications.
	// Format: Go duration string (e.g., "500ms")
	// Default: 500ms
	DebounceInterval string `yaml:"debounce_interval"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Verbose controls log level: 0=WARNING, 1=INFO, 2=DEBUG
	// Default: 1
	Verbose int `yaml:"verbose"`
}

// ControllerConfig contains process-level configuration.
type ControllerConfig struct {
	// MetricsPort is the port for Prometheus metrics and health probes.
	// Default: 9090
	MetricsPort int `yaml:"metrics_port"`

	// EventHistory is the number of recent engine events kept for inspection.
	// Default: 100
	EventHistory int `yaml:"event_history"`
}
