package config

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
)

// ValidateStructure performs structural validation on the configuration:
// object names, label keys, config keys, durations and value ranges.
func ValidateStructure(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateTracking(&cfg.Tracking); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}

	if err := validateWatch(&cfg.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := validateControllerConfig(&cfg.Controller); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	return nil
}

func validateTracking(t *TrackingConfig) error {
	names := []struct {
		field string
		value string
		check func(string) []string
	}{
		{"configmap_name", t.ConfigMapName, validation.IsDNS1123Subdomain},
		{"configmap_namespace", t.ConfigMapNamespace, validation.IsDNS1123Label},
		{"deployment_name", t.DeploymentName, validation.IsDNS1123Subdomain},
		{"deployment_namespace", t.DeploymentNamespace, validation.IsDNS1123Label},
		{"capacity_label", t.CapacityLabel, validation.IsQualifiedName},
		{"e2e_cost_key", t.E2ECostKey, validation.IsConfigMapKey},
		{"pr_cost_key", t.PRCostKey, validation.IsConfigMapKey},
	}
	for _, n := range names {
		if errs := n.check(n.value); len(errs) > 0 {
			return fmt.Errorf("%s %q is invalid: %s", n.field, n.value, strings.Join(errs, "; "))
		}
	}

	if t.PodNamespace != AllNamespaces {
		if errs := validation.IsDNS1123Label(t.PodNamespace); len(errs) > 0 {
			return fmt.Errorf("pod_namespace %q is invalid: %s", t.PodNamespace, strings.Join(errs, "; "))
		}
	}

	for i, label := range t.ToggleLabels {
		if errs := validation.IsQualifiedName(label); len(errs) > 0 {
			return fmt.Errorf("toggle_labels[%d] %q is invalid: %s", i, label, strings.Join(errs, "; "))
		}
		if label == t.CapacityLabel {
			return fmt.Errorf("toggle_labels[%d] %q must differ from capacity_label", i, label)
		}
	}

	if t.E2ECostKey == t.PRCostKey {
		return fmt.Errorf("e2e_cost_key and pr_cost_key cannot be the same (%q)", t.E2ECostKey)
	}

	if strings.TrimSpace(t.E2EMatch) == "" {
		return fmt.Errorf("e2e_match cannot be blank")
	}

	return nil
}

func validateWatch(w *WatchConfig) error {
	for _, d := range []struct {
		field string
		value string
	}{
		{"initial_backoff", w.InitialBackoff},
		{"max_backoff", w.MaxBackoff},
		{"debounce_interval", w.DebounceInterval},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s %q is not a valid duration: %w", d.field, d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.field, d.value)
		}
	}

	if w.GetMaxBackoff() < w.GetInitialBackoff() {
		return fmt.Errorf("max_backoff (%s) must not be less than initial_backoff (%s)",
			w.GetMaxBackoff(), w.GetInitialBackoff())
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", w.MaxRetries)
	}

	return nil
}

// validateLoggingConfig validates the logging configuration.
func validateLoggingConfig(lc *LoggingConfig) error {
	if lc.Verbose < 0 || lc.Verbose > 2 {
		return fmt.Errorf("verbose must be 0 (WARNING), 1 (INFO), or 2 (DEBUG), got %d", lc.Verbose)
	}

	return nil
}

// validateControllerConfig validates the controller configuration.
func validateControllerConfig(cc *ControllerConfig) error {
	if cc.MetricsPort < 1 || cc.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1 and 65535, got %d", cc.MetricsPort)
	}

	if cc.EventHistory < 1 {
		return fmt.Errorf("event_history must be positive, got %d", cc.EventHistory)
	}

	return nil
}
