// Package engine wires the mirrors, watch sessions, capacity aggregator and
// mutation gateway into one unit a presentation layer can drive.
//
// The engine owns four mirrors (nodes, pods, the cost config and the scaled
// deployment). Each is fed by its own watch session. Commands go through the
// mutation gateway and never touch a mirror; their effect becomes visible once
// the corresponding watch event has been applied.
//
// Observers follow the engine through an events.EventBus. A built-in observer
// keeps the Prometheus metrics and a bounded journal of recent events current.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/fields"

	"ci-capacity/pkg/capacity"
	"ci-capacity/pkg/core/config"
	pkgevents "ci-capacity/pkg/events"
	"ci-capacity/pkg/events/ringbuffer"
	"ci-capacity/pkg/k8s/client"
	"ci-capacity/pkg/k8s/store"
	"ci-capacity/pkg/k8s/types"
	"ci-capacity/pkg/k8s/watcher"
	"ci-capacity/pkg/mutation"
)

const (
	// busPreStartCapacity sizes the buffer for events published before Start.
	busPreStartCapacity = 100

	// observerBuffer is the subscription buffer of the built-in observer.
	observerBuffer = 256
)

// API is the cluster boundary the engine needs. *client.Client satisfies it.
type API interface {
	mutation.API
	Pods() client.ResourceAPI[types.PodRecord]
}

// session is the type-erased view of a watcher.Session.
type session interface {
	Run(ctx context.Context) error
	Close() error
	WaitForSync(ctx context.Context) error
	IsSynced() bool
}

type namedSession struct {
	resource string
	session
}

// Engine is one independent instance of the capacity tracker. Several engines
// can coexist in a process; they share no state.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	nodes       *store.Mirror[types.NodeRecord]
	pods        *store.Mirror[types.PodRecord]
	configs     *store.Mirror[types.ConfigRecord]
	deployments *store.Mirror[types.DeploymentRecord]

	sessions   []namedSession
	aggregator *capacity.Aggregator
	gateway    *mutation.Gateway

	bus      *pkgevents.EventBus
	observer *pkgevents.Subscription
	journal  *ringbuffer.RingBuffer[pkgevents.Event]
	metrics  *Metrics

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	failures map[string]error
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an engine. A nil cfg selects config.Default(); a nil registry
// gets a private one.
//
// New does not contact the cluster. Call Start to open the watch sessions.
func New(api API, cfg *config.Config, logger *slog.Logger, registry prometheus.Registerer) (*Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("cluster api is nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.ValidateStructure(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	t := cfg.Tracking
	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		nodes:       store.NewMirror[types.NodeRecord](),
		pods:        store.NewMirror[types.PodRecord](),
		configs:     store.NewMirror[types.ConfigRecord](),
		deployments: store.NewMirror[types.DeploymentRecord](),
		bus:         pkgevents.NewEventBus(busPreStartCapacity),
		journal:     ringbuffer.New[pkgevents.Event](cfg.Controller.EventHistory),
		metrics:     NewMetrics(registry),
		failures:    make(map[string]error),
		done:        make(chan struct{}),
	}
	e.observer = e.bus.Subscribe(observerBuffer)

	e.aggregator = capacity.New(capacity.Settings{
		CapacityLabel: t.CapacityLabel,
		ConfigName:    t.ConfigMapName,
		E2ECostKey:    t.E2ECostKey,
		PRCostKey:     t.PRCostKey,
		E2EMatch:      t.E2EMatch,
	}, e.nodes, e.pods, e.configs)

	e.gateway = mutation.New(api, mutation.Targets{
		ConfigName:          t.ConfigMapName,
		ConfigNamespace:     t.ConfigMapNamespace,
		DeploymentNamespace: t.DeploymentNamespace,
		CapacityLabel:       t.CapacityLabel,
	}, logger)

	if err := addSession(e, api.Nodes(), e.nodes, "", ""); err != nil {
		return nil, err
	}
	if err := addSession(e, api.Pods(), e.pods, t.PodWatchNamespace(), ""); err != nil {
		return nil, err
	}
	if err := addSession(e, api.ConfigMaps(), e.configs, t.ConfigMapNamespace, nameSelector(t.ConfigMapName)); err != nil {
		return nil, err
	}
	if err := addSession(e, api.Deployments(), e.deployments, t.DeploymentNamespace, nameSelector(t.DeploymentName)); err != nil {
		return nil, err
	}

	return e, nil
}

// addSession creates the watch session feeding mirror and routes its
// callbacks onto the bus.
func addSession[T any](e *Engine, api client.ResourceAPI[T], mirror watcher.Sink[T], namespace, fieldSelector string) error {
	resource := api.Resource()
	s, err := watcher.NewSession(types.SessionConfig{
		Resource:         resource,
		Namespace:        namespace,
		FieldSelector:    fieldSelector,
		InitialBackoff:   e.cfg.Watch.GetInitialBackoff(),
		MaxBackoff:       e.cfg.Watch.GetMaxBackoff(),
		MaxRetries:       e.cfg.Watch.MaxRetries,
		DebounceInterval: e.cfg.Watch.GetDebounceInterval(),
		OnChange: func(stats types.ChangeStats) {
			e.bus.Publish(NewMirrorChangedEvent(resource, stats))
		},
		OnSyncComplete: func(count int) {
			e.bus.Publish(NewMirrorSyncedEvent(resource, count))
		},
		OnResync: func(count int) {
			e.bus.Publish(NewMirrorResyncedEvent(resource, count))
		},
	}, api, mirror, e.logger)
	if err != nil {
		return fmt.Errorf("%s session: %w", resource, err)
	}
	e.sessions = append(e.sessions, namedSession{resource: resource, session: s})
	return nil
}

// nameSelector restricts a listing to the single object called name.
func nameSelector(name string) string {
	return fields.OneTermEqualSelector("metadata.name", name).String()
}

// Start runs all watch sessions concurrently and blocks until ctx is
// cancelled, Stop is called, or a session fails terminally. In the last case
// the remaining sessions are stopped and the failure is returned.
//
// Start after Stop returns nil immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.stopped:
		e.mu.Unlock()
		return nil
	case e.started:
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	defer close(e.done)
	defer cancel()

	e.logger.Info("engine starting",
		"sessions", len(e.sessions),
		"pod_namespace", e.cfg.Tracking.PodNamespace)

	e.bus.Start()

	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		e.observe(ctx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.sessions {
		g.Go(func() error {
			err := s.Run(gctx)
			if err == nil {
				return nil
			}
			e.recordFailure(s.resource, err)
			return fmt.Errorf("%s session: %w", s.resource, err)
		})
	}
	err := g.Wait()

	cancel()
	<-observerDone

	if err != nil {
		e.logger.Error("engine stopped", "error", err)
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) recordFailure(resource string, err error) {
	e.mu.Lock()
	e.failures[resource] = err
	e.mu.Unlock()

	e.logger.Error("watch session failed", "resource", resource, "error", err)
	e.bus.Publish(NewSessionFailedEvent(resource, err))
}

// observe feeds bus events into the journal and metrics until ctx is done,
// then drains what is already buffered.
func (e *Engine) observe(ctx context.Context) {
	for {
		select {
		case event, ok := <-e.observer.Events():
			if !ok {
				return
			}
			e.handleEvent(event)
		case <-ctx.Done():
			for {
				select {
				case event, ok := <-e.observer.Events():
					if !ok {
						return
					}
					e.handleEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) handleEvent(event pkgevents.Event) {
	e.journal.Add(event)
	e.metrics.handleEvent(event)

	switch event.(type) {
	case *MirrorChangedEvent, *MirrorSyncedEvent, *MirrorResyncedEvent:
		e.refreshGauges()
	}
}

// refreshGauges recomputes the capacity summary and updates the gauges.
func (e *Engine) refreshGauges() capacity.Summary {
	summary := e.aggregator.Summarize()
	e.metrics.SetSummary(summary)
	e.metrics.SetMirrorRecords("nodes", e.nodes.Size())
	e.metrics.SetMirrorRecords("pods", e.pods.Size())
	e.metrics.SetMirrorRecords("configmaps", e.configs.Size())
	e.metrics.SetMirrorRecords("deployments", e.deployments.Size())
	return summary
}

// WaitForSync blocks until every mirror holds its initial listing, a session
// ends first, or ctx is cancelled.
func (e *Engine) WaitForSync(ctx context.Context) error {
	for _, s := range e.sessions {
		if err := s.WaitForSync(ctx); err != nil {
			return fmt.Errorf("waiting for %s: %w", s.resource, err)
		}
	}
	return nil
}

// Ready reports whether every mirror has been bootstrapped and no session has
// failed.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	failed := len(e.failures) > 0
	e.mu.Unlock()
	if failed {
		return false
	}
	for _, s := range e.sessions {
		if !s.IsSynced() {
			return false
		}
	}
	return true
}

// Failures returns the terminal error of every failed session keyed by resource.
func (e *Engine) Failures() map[string]error {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]error, len(e.failures))
	for k, v := range e.failures {
		out[k] = v
	}
	return out
}

// Stop closes all sessions and waits for Start to return. Safe to call more
// than once and before Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		cancel := e.cancel
		started := e.started
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, s := range e.sessions {
			_ = s.Close()
		}
		if started {
			<-e.done
		}
		e.observer.Unsubscribe()
	})
}

// Nodes returns a copy of the mirrored nodes sorted by name.
func (e *Engine) Nodes() []types.NodeRecord {
	return e.nodes.List()
}

// Pods returns a copy of the mirrored pods sorted by name.
func (e *Engine) Pods() []types.PodRecord {
	return e.pods.List()
}

// ConfigValues returns a copy of the settings held by the cost config and
// whether the config object has been observed.
func (e *Engine) ConfigValues() (map[string]string, bool) {
	record, ok := e.configs.Get(e.cfg.Tracking.ConfigMapName)
	if !ok {
		return nil, false
	}
	values := make(map[string]string, len(record.Data))
	for k, v := range record.Data {
		values[k] = v
	}
	return values, true
}

// DeploymentReplicas returns the desired replica count of the tracked
// deployment and whether it has been observed.
func (e *Engine) DeploymentReplicas() (int32, bool) {
	record, ok := e.deployments.Get(e.cfg.Tracking.DeploymentName)
	if !ok {
		return 0, false
	}
	return record.Replicas, true
}

// ToggleLabels returns the presence-only node labels the engine may toggle.
func (e *Engine) ToggleLabels() []string {
	return slices.Clone(e.cfg.Tracking.ToggleLabels)
}

// CapacityLabel returns the node label holding each node's capacity.
func (e *Engine) CapacityLabel() string {
	return e.cfg.Tracking.CapacityLabel
}

// Available returns the summed capacity of all mirrored nodes.
func (e *Engine) Available() int64 {
	return e.aggregator.Available()
}

// Used returns the capacity consumed by scheduled pods.
func (e *Engine) Used() int64 {
	return e.aggregator.Used()
}

// Summary returns the full accounting view and refreshes the capacity gauges.
func (e *Engine) Summary() capacity.Summary {
	return e.refreshGauges()
}

// Subscribe registers an observer of engine events. The caller must
// Unsubscribe when done.
func (e *Engine) Subscribe(bufferSize int) *pkgevents.Subscription {
	return e.bus.Subscribe(bufferSize)
}

// RecentEvents returns up to n of the most recent events seen by the engine,
// oldest first.
func (e *Engine) RecentEvents(n int) []pkgevents.Event {
	return e.journal.GetLast(n)
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// ToggleNodeLabel sets or removes one of the configured toggle labels on a node.
func (e *Engine) ToggleNodeLabel(ctx context.Context, nodeName, labelKey string, enabled bool) error {
	target := "nodes/" + nodeName
	value := "<unset>"
	if enabled {
		value = ""
	}

	if !slices.Contains(e.cfg.Tracking.ToggleLabels, labelKey) {
		err := &mutation.ValidationError{Field: "label key", Value: labelKey, Reason: "not a toggle label"}
		e.bus.Publish(NewMutationFailedEvent(mutation.OpToggleLabel, target, err, 0))
		return err
	}

	return e.mutate(mutation.OpToggleLabel, target, labelKey, value, func() error {
		_, err := e.gateway.ApplyLabelToggle(ctx, nodeName, labelKey, enabled)
		return err
	})
}

// SetNodeCapacity sets a node's capacity label. value must be a non-negative integer.
func (e *Engine) SetNodeCapacity(ctx context.Context, nodeName, value string) error {
	return e.mutate(mutation.OpSetCapacity, "nodes/"+nodeName, e.cfg.Tracking.CapacityLabel, value, func() error {
		_, err := e.gateway.ApplyNodeCapacity(ctx, nodeName, value)
		return err
	})
}

// EditConfig merges one setting into the cost config.
func (e *Engine) EditConfig(ctx context.Context, key, value string) error {
	target := "configmaps/" + e.cfg.Tracking.ConfigMapNamespace + "/" + e.cfg.Tracking.ConfigMapName
	return e.mutate(mutation.OpEditConfig, target, key, value, func() error {
		_, err := e.gateway.ApplyConfigEdit(ctx, key, value)
		return err
	})
}

// SetReplicas parses input and scales the tracked deployment to it.
// Malformed input is rejected without contacting the cluster.
func (e *Engine) SetReplicas(ctx context.Context, input string) error {
	target := "deployments/" + e.cfg.Tracking.DeploymentNamespace + "/" + e.cfg.Tracking.DeploymentName
	return e.mutate(mutation.OpScale, target, "replicas", input, func() error {
		_, err := e.gateway.SetReplicas(ctx, e.cfg.Tracking.DeploymentName, input)
		return err
	})
}

// mutate runs submit and publishes its outcome.
func (e *Engine) mutate(operation, target, key, value string, submit func() error) error {
	start := time.Now()
	err := submit()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, mutation.ErrValidation) {
			e.logger.Debug("mutation rejected", "operation", operation, "target", target, "error", err)
		}
		e.bus.Publish(NewMutationFailedEvent(operation, target, err, duration))
		return err
	}

	e.bus.Publish(NewMutationAppliedEvent(operation, target, key, value, duration))
	return nil
}
