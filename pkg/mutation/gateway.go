// Package mutation submits targeted merge patches against the tracked
// resources.
//
// The gateway never writes into a mirror. The updated object returned by the
// cluster is handed back to the caller, and the mirrors converge once the
// corresponding watch event arrives.
package mutation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	apitypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/json"
	"k8s.io/apimachinery/pkg/util/validation"

	"ci-capacity/pkg/k8s/client"
	"ci-capacity/pkg/k8s/types"
)

// API is the subset of the cluster client used for mutations.
// *client.Client satisfies it.
type API interface {
	Nodes() client.ResourceAPI[types.NodeRecord]
	ConfigMaps() client.ResourceAPI[types.ConfigRecord]
	Deployments() client.ResourceAPI[types.DeploymentRecord]
}

// Operation names carried by MutationError and used as metric labels.
const (
	OpToggleLabel = "toggle label"
	OpSetCapacity = "set capacity"
	OpEditConfig  = "edit config"
	OpScale       = "scale deployment"
)

// Targets names the objects and label the gateway mutates.
type Targets struct {
	ConfigName          string
	ConfigNamespace     string
	DeploymentNamespace string
	CapacityLabel       string
}

// Gateway issues partial updates. It performs no retries; every failure is
// returned to the caller.
type Gateway struct {
	nodes       client.ResourceAPI[types.NodeRecord]
	configMaps  client.ResourceAPI[types.ConfigRecord]
	deployments client.ResourceAPI[types.DeploymentRecord]
	targets     Targets
	logger      *slog.Logger
}

// New creates a gateway.
func New(api API, targets Targets, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		nodes:       api.Nodes(),
		configMaps:  api.ConfigMaps(),
		deployments: api.Deployments(),
		targets:     targets,
		logger:      logger.With("component", "mutation-gateway"),
	}
}

// ApplyLabelToggle sets labelKey on the node to an empty value when present
// is true and removes the key when false.
func (g *Gateway) ApplyLabelToggle(ctx context.Context, nodeName, labelKey string, present bool) (types.NodeRecord, error) {
	if err := validateName("node", nodeName); err != nil {
		return types.NodeRecord{}, err
	}
	if err := validateLabelKey(labelKey); err != nil {
		return types.NodeRecord{}, err
	}

	var value any
	display := "<unset>"
	if present {
		value = ""
		display = ""
	}

	patch := map[string]any{
		"metadata": map[string]any{
			"labels": map[string]any{labelKey: value},
		},
	}
	return submit(ctx, g, g.nodes, OpToggleLabel, client.Ref{Name: nodeName}, labelKey, display, patch)
}

// ApplyNodeCapacity sets the node's capacity label to value, which must be a
// non-negative integer.
func (g *Gateway) ApplyNodeCapacity(ctx context.Context, nodeName, value string) (types.NodeRecord, error) {
	if err := validateName("node", nodeName); err != nil {
		return types.NodeRecord{}, err
	}
	n, err := parseNonNegative("capacity", value, 63)
	if err != nil {
		return types.NodeRecord{}, err
	}

	normalized := strconv.FormatInt(n, 10)
	patch := map[string]any{
		"metadata": map[string]any{
			"labels": map[string]any{g.targets.CapacityLabel: normalized},
		},
	}
	return submit(ctx, g, g.nodes, OpSetCapacity, client.Ref{Name: nodeName}, g.targets.CapacityLabel, normalized, patch)
}

// ApplyConfigEdit merges one setting into the config object.
func (g *Gateway) ApplyConfigEdit(ctx context.Context, settingKey, value string) (types.ConfigRecord, error) {
	if errs := validation.IsConfigMapKey(settingKey); len(errs) > 0 {
		return types.ConfigRecord{}, &ValidationError{Field: "setting key", Value: settingKey, Reason: strings.Join(errs, "; ")}
	}

	patch := map[string]any{
		"data": map[string]any{settingKey: value},
	}
	ref := client.Ref{Name: g.targets.ConfigName, Namespace: g.targets.ConfigNamespace}
	return submit(ctx, g, g.configMaps, OpEditConfig, ref, settingKey, value, patch)
}

// ApplyReplicaCount sets the desired replica count of the named deployment.
func (g *Gateway) ApplyReplicaCount(ctx context.Context, deploymentName string, replicas int32) (types.DeploymentRecord, error) {
	if err := validateName("deployment", deploymentName); err != nil {
		return types.DeploymentRecord{}, err
	}
	if replicas < 0 {
		return types.DeploymentRecord{}, &ValidationError{
			Field:  "replicas",
			Value:  strconv.Itoa(int(replicas)),
			Reason: "must not be negative",
		}
	}

	patch := map[string]any{
		"spec": map[string]any{"replicas": replicas},
	}
	ref := client.Ref{Name: deploymentName, Namespace: g.targets.DeploymentNamespace}
	return submit(ctx, g, g.deployments, OpScale, ref, "replicas", strconv.Itoa(int(replicas)), patch)
}

// SetReplicas parses input as a replica count and applies it. Malformed input
// is rejected before any request is sent.
func (g *Gateway) SetReplicas(ctx context.Context, deploymentName, input string) (types.DeploymentRecord, error) {
	replicas, err := ParseReplicaCount(input)
	if err != nil {
		return types.DeploymentRecord{}, err
	}
	return g.ApplyReplicaCount(ctx, deploymentName, replicas)
}

// ParseReplicaCount parses a non-negative base-10 replica count.
func ParseReplicaCount(input string) (int32, error) {
	n, err := parseNonNegative("replicas", input, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func parseNonNegative(field, input string, bitSize int) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(input), 10, bitSize)
	if err != nil {
		return 0, &ValidationError{Field: field, Value: input, Reason: "not an integer"}
	}
	if n < 0 {
		return 0, &ValidationError{Field: field, Value: input, Reason: "must not be negative"}
	}
	return n, nil
}

func validateName(field, name string) error {
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return &ValidationError{Field: field + " name", Value: name, Reason: strings.Join(errs, "; ")}
	}
	return nil
}

func validateLabelKey(key string) error {
	if errs := validation.IsQualifiedName(key); len(errs) > 0 {
		return &ValidationError{Field: "label key", Value: key, Reason: strings.Join(errs, "; ")}
	}
	return nil
}

// submit encodes patch as a JSON merge patch and sends it.
func submit[T any](ctx context.Context, g *Gateway, api client.ResourceAPI[T], operation string, ref client.Ref, key, value string, patch map[string]any) (T, error) {
	var zero T

	data, err := json.Marshal(patch)
	if err != nil {
		return zero, &MutationError{Operation: operation, Target: api.Resource() + "/" + ref.String(), Key: key, Value: value, Err: err}
	}

	updated, err := api.Patch(ctx, ref, apitypes.MergePatchType, data)
	if err != nil {
		g.logger.Warn("patch failed",
			"operation", operation,
			"target", ref.String(),
			"key", key,
			"value", value,
			"error", err)
		return zero, &MutationError{Operation: operation, Target: api.Resource() + "/" + ref.String(), Key: key, Value: value, Err: err}
	}

	g.logger.Info("patch submitted",
		"operation", operation,
		"target", ref.String(),
		"key", key,
		"value", value)
	return updated, nil
}
