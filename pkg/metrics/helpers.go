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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric created through a Factory from New.
const Namespace = "ci_capacity"

// Factory creates metrics registered with one registry under one namespace.
//
// IMPORTANT: pass an instance registry (prometheus.NewRegistry()), never
// prometheus.DefaultRegisterer, so that several engines can live in one
// process (tests) without duplicate registration panics.
type Factory struct {
	factory   promauto.Factory
	namespace string
}

// New returns a factory registering with registry under Namespace.
func New(registry prometheus.Registerer) Factory {
	return NewWithNamespace(registry, Namespace)
}

// NewWithNamespace returns a factory registering with registry under namespace.
func NewWithNamespace(registry prometheus.Registerer, namespace string) Factory {
	return Factory{factory: promauto.With(registry), namespace: namespace}
}

// Counter creates a monotonically increasing counter.
func (f Factory) Counter(name, help string) prometheus.Counter {
	return f.factory.NewCounter(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help})
}

// CounterVec creates a counter partitioned by labels.
func (f Factory) CounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return f.factory.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
}

// Gauge creates a gauge.
func (f Factory) Gauge(name, help string) prometheus.Gauge {
	return f.factory.NewGauge(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help})
}

// GaugeVec creates a gauge partitioned by labels.
func (f Factory) GaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return f.factory.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
}

// HistogramVec creates a histogram partitioned by labels. Nil buckets select DurationBuckets.
func (f Factory) HistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = DurationBuckets()
	}
	return f.factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// DurationBuckets returns histogram buckets in seconds covering 10ms to 10s,
// the usual range of an API server round trip.
func DurationBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}
}
