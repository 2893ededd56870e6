// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"time"

	"github.com/cockroachdb/tso/pkg/util/metric"
)

// ClusterStats is the snapshot the controller's stats timer builds by
// aggregating every worker's WorkerStats (resolving spec.md's "collection
// of statistics is stubbed; the schema is not defined" open question).
type ClusterStats struct {
	TotalBatchesIssued      uint64
	TotalTimestampsIssued   uint64
	TotalNotReadyCount      uint64
	ClockUncertaintyClamped uint64
	PerWorker               []WorkerStats
}

func aggregateStats(perWorker []WorkerStats, clockUncertaintyClamped uint64) ClusterStats {
	cs := ClusterStats{PerWorker: perWorker, ClockUncertaintyClamped: clockUncertaintyClamped}
	for _, ws := range perWorker {
		cs.TotalBatchesIssued += ws.BatchesIssued
		cs.TotalTimestampsIssued += ws.TimestampsIssued
		cs.TotalNotReadyCount += ws.NotReadyCount
	}
	return cs
}

// Metrics is the set of Prometheus series the stats timer updates every
// tick, wired through pkg/util/metric the way the rest of the corpus wires
// server metrics into a Registry.
type Metrics struct {
	BatchesIssued           *metric.Counter
	TimestampsIssued        *metric.Counter
	NotReadyTotal           *metric.Counter
	ClockUncertaintyClamped *metric.Counter
	WorkerCount             *metric.Gauge
}

// NewMetrics registers the TSO's metrics in reg and returns the handles.
func NewMetrics(reg *metric.Registry) *Metrics {
	return &Metrics{
		BatchesIssued:           reg.Counter("tso.batches_issued", "Total timestamp batches issued across all workers"),
		TimestampsIssued:        reg.Counter("tso.timestamps_issued", "Total timestamps issued across all workers"),
		NotReadyTotal:           reg.Counter("tso.not_ready_total", "Total getTimestampBatch calls rejected as not ready"),
		ClockUncertaintyClamped: reg.Counter("tso.clock_uncertainty_clamped_total", "Total time-sync ticks where observed uncertainty exceeded the batch window floor"),
		WorkerCount:             reg.Gauge("tso.worker_count", "Number of worker cores configured"),
	}
}

// Update folds a ClusterStats snapshot into the Prometheus series. Counters
// only move forward, so this tracks the last-seen cumulative totals and
// adds the delta; on the first call (lastTotals all zero) it seeds the
// series without double counting since WorkerStats are already cumulative
// per worker for the process lifetime.
type statsDelta struct {
	batches, timestamps, notReady, clamped uint64
}

func (m *Metrics) Update(cs ClusterStats, last *statsDelta) {
	dBatches := cs.TotalBatchesIssued - last.batches
	dTimestamps := cs.TotalTimestampsIssued - last.timestamps
	dNotReady := cs.TotalNotReadyCount - last.notReady
	dClamped := cs.ClockUncertaintyClamped - last.clamped

	m.BatchesIssued.Inc(float64(dBatches))
	m.TimestampsIssued.Inc(float64(dTimestamps))
	m.NotReadyTotal.Inc(float64(dNotReady))
	m.ClockUncertaintyClamped.Inc(float64(dClamped))
	m.WorkerCount.Update(float64(len(cs.PerWorker)))

	last.batches = cs.TotalBatchesIssued
	last.timestamps = cs.TotalTimestampsIssued
	last.notReady = cs.TotalNotReadyCount
	last.clamped = cs.ClockUncertaintyClamped
}

// DefaultAlertingRules returns the Prometheus alerting rules an operator
// should load alongside the exported metrics: a sustained rise in
// not-ready responses usually means either a worker lagging behind a
// broadcast or a master stuck short of its reserved time threshold, and a
// sustained rise in clamped uncertainty windows means the clock source is
// feeding the controller windows wider than the configured batch floor.
func DefaultAlertingRules() []metric.Rule {
	notReadySpike, err := metric.NewAlertingRule(
		"TSONotReadySpike",
		"rate(tso_not_ready_total[5m]) > 0",
		nil, nil,
		2*time.Minute,
		"getTimestampBatch is being rejected NotReady at a sustained rate",
	)
	if err != nil {
		panic(err)
	}
	clockUncertaintyClamped, err := metric.NewAlertingRule(
		"TSOClockUncertaintyClamped",
		"rate(tso_clock_uncertainty_clamped_total[5m]) > 0",
		nil, nil,
		5*time.Minute,
		"the clock source is reporting uncertainty windows wider than the configured batch floor",
	)
	if err != nil {
		panic(err)
	}
	clusterBatchRate, err := metric.NewAggregationRule(
		"tso_cluster_batch_rate",
		"sum(rate(tso_batches_issued[1m]))",
		nil,
		"cluster-wide rate of timestamp batches issued across all tso instances",
	)
	if err != nil {
		panic(err)
	}
	return []metric.Rule{notReadySpike, clockUncertaintyClamped, clusterBatchRate}
}
