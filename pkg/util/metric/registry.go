// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// exportedName converts a dotted internal metric name (e.g.
// "tso.not_ready_total") into the underscore-separated form Prometheus
// requires (model.IsValidMetricName rejects "."). Internal names stay
// dotted everywhere else in this package and in callers; only the name
// actually handed to client_golang goes through this conversion.
func exportedName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Counter wraps a prometheus.Counter behind a narrower Inc-only surface.
type Counter struct {
	c prometheus.Counter
}

// Inc increments the counter by n.
func (c *Counter) Inc(n float64) {
	c.c.Add(n)
}

// Gauge wraps a prometheus.Gauge.
type Gauge struct {
	g prometheus.Gauge
}

// Update sets the gauge to v.
func (g *Gauge) Update(v float64) {
	g.g.Set(v)
}

// Registry is a named collection of metrics. Unlike the full corpus registry
// this is not hierarchical with a naming-prefix "Add"; the TSO process has
// exactly one registry (one per instance) so that complexity is dropped.
type Registry struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter registers (or returns the existing) counter with the given
// fully-qualified name and help text.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: exportedName(name), Help: help})
	r.registry.MustRegister(pc)
	c := &Counter{c: pc}
	r.counters[name] = c
	return c
}

// Gauge registers (or returns the existing) gauge with the given
// fully-qualified name and help text.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{Name: exportedName(name), Help: help})
	r.registry.MustRegister(pg)
	g := &Gauge{g: pg}
	r.gauges[name] = g
	return g
}

// PrometheusExporter adapts a Registry to prometheus.Gatherer, for serving
// the /metrics HTTP endpoint (see Server) or, via GraphiteExporter, bridging to
// Graphite.
type PrometheusExporter struct {
	reg *Registry
}

// MakePrometheusExporter wraps reg for export.
func MakePrometheusExporter(reg *Registry) *PrometheusExporter {
	return &PrometheusExporter{reg: reg}
}

// Gather implements prometheus.Gatherer.
func (pe *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return pe.reg.registry.Gather()
}

// clearMetrics is a no-op here: unlike the corpus's exporter, which
// snapshots and clears a scratch buffer between pushes, this registry's
// metrics are the durable counters/gauges themselves, so there is nothing
// transient to drop. Kept as a method (rather than removed) so
// GraphiteExporter.Push's deferred call continues to read naturally.
func (pe *PrometheusExporter) clearMetrics() {}
