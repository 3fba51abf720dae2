package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"ci-capacity/pkg/capacity"
	pkgevents "ci-capacity/pkg/events"
	pkgmetrics "ci-capacity/pkg/metrics"
)

// Metrics holds the Prometheus metrics of one engine.
//
// All metrics are registered with the registry passed to NewMetrics, so
// several engines in one process never collide.
type Metrics struct {
	// Capacity metrics
	CapacityAvailable prometheus.Gauge
	CapacityUsed      prometheus.Gauge
	CapacityFree      prometheus.Gauge

	// Mirror metrics
	MirrorRecords *prometheus.GaugeVec
	MirrorChanges *prometheus.CounterVec
	MirrorResyncs *prometheus.CounterVec

	// Session metrics
	SessionFailures *prometheus.CounterVec

	// Mutation metrics
	MutationsTotal   *prometheus.CounterVec
	MutationErrors   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// Event metrics
	EventsObserved prometheus.Counter
}

// NewMetrics creates and registers the engine metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	f := pkgmetrics.New(registry)
	return &Metrics{
		CapacityAvailable: f.Gauge("capacity_available", "Sum of the capacity labels of all mirrored nodes"),
		CapacityUsed:      f.Gauge("capacity_used", "Capacity consumed by scheduled CI pods"),
		CapacityFree:      f.Gauge("capacity_free", "Available minus used capacity"),

		MirrorRecords: f.GaugeVec("mirror_records", "Number of records held per mirror", "resource"),
		MirrorChanges: f.CounterVec("mirror_changes_total", "Mirror changes by resource and change type", "resource", "type"),
		MirrorResyncs: f.CounterVec("mirror_resyncs_total", "Full re-listings after a watch stream failure", "resource"),

		SessionFailures: f.CounterVec("session_failures_total", "Watch sessions that exhausted their retry budget", "resource"),

		MutationsTotal:   f.CounterVec("mutations_total", "Mutations submitted by operation", "operation"),
		MutationErrors:   f.CounterVec("mutation_errors_total", "Failed mutations by operation", "operation"),
		MutationDuration: f.HistogramVec("mutation_duration_seconds", "Time spent submitting a mutation", nil, "operation"),

		EventsObserved: f.Counter("events_observed_total", "Engine events seen by the metrics observer"),
	}
}

// RecordMutation records one mutation outcome.
func (m *Metrics) RecordMutation(operation string, durationSeconds float64, success bool) {
	m.MutationsTotal.WithLabelValues(operation).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(durationSeconds)
	if !success {
		m.MutationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordChanges adds debounced change statistics of one mirror.
func (m *Metrics) RecordChanges(resource string, created, modified, deleted int) {
	m.MirrorChanges.WithLabelValues(resource, "created").Add(float64(created))
	m.MirrorChanges.WithLabelValues(resource, "modified").Add(float64(modified))
	m.MirrorChanges.WithLabelValues(resource, "deleted").Add(float64(deleted))
}

// SetMirrorRecords sets the current record count of a mirror.
func (m *Metrics) SetMirrorRecords(resource string, count int) {
	m.MirrorRecords.WithLabelValues(resource).Set(float64(count))
}

// SetSummary refreshes the capacity gauges.
func (m *Metrics) SetSummary(summary capacity.Summary) {
	m.CapacityAvailable.Set(float64(summary.Available))
	m.CapacityUsed.Set(float64(summary.Used))
	m.CapacityFree.Set(float64(summary.Free()))
}

// handleEvent updates metrics for one bus event.
func (m *Metrics) handleEvent(event pkgevents.Event) {
	m.EventsObserved.Inc()

	switch e := event.(type) {
	case *MirrorChangedEvent:
		m.RecordChanges(e.Resource, e.Stats.Created, e.Stats.Modified, e.Stats.Deleted)

	case *MirrorResyncedEvent:
		m.MirrorResyncs.WithLabelValues(e.Resource).Inc()

	case *SessionFailedEvent:
		m.SessionFailures.WithLabelValues(e.Resource).Inc()

	case *MutationAppliedEvent:
		m.RecordMutation(e.Operation, e.Duration.Seconds(), true)

	case *MutationFailedEvent:
		m.RecordMutation(e.Operation, e.Duration.Seconds(), false)
	}
}
