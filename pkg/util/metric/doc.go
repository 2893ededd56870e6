// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

/*
Package metric provides the tso process's exported counters and gauges, and
a Prometheus-compatible way to scrape or push them.

Adding a new metric

First, add a field to the component's Metrics struct (see pkg/tso/stats.go).
Then, in the constructor that builds that struct, call Counter() or Gauge()
on a *Registry to register it:

	m := &Metrics{
		BatchesIssued: reg.Counter("tso.batches_issued", "Total timestamp batches issued"),
	}

Unlike a CockroachDB node, a tso instance has exactly one Registry for its
whole process lifetime; there is no hierarchy of per-subsystem
sub-registries to assemble.

Export

MakePrometheusExporter wraps a Registry as a prometheus.Gatherer, suitable
for serving a /metrics HTTP endpoint with promhttp.HandlerFor (see Server), or, via
GraphiteExporter, for pushing to a Graphite/Carbon server on an interval.
*/
package metric
