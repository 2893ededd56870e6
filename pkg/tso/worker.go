// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"github.com/cockroachdb/tso/pkg/tsopb"
)

// WorkerState enumerates the worker lifecycle named in the component
// design: Initialized until the first control update arrives, then Ready or
// Paused depending on the most recently applied WorkerControlInfo, with
// Stopped reachable one-way from any state.
type WorkerState int32

const (
	// WorkerInitialized is the state before any WorkerControlInfo has been
	// applied. getTimestampBatch always fails NotReady in this state.
	WorkerInitialized WorkerState = iota
	// WorkerReady means the most recently applied WCI had
	// IsReadyToIssueTs == true.
	WorkerReady
	// WorkerPaused means the most recently applied WCI had
	// IsReadyToIssueTs == false.
	WorkerPaused
	// WorkerStopped is terminal; reachable from any other state via Stop.
	WorkerStopped
)

// String implements fmt.Stringer for log lines.
func (s WorkerState) String() string {
	switch s {
	case WorkerInitialized:
		return "initialized"
	case WorkerReady:
		return "ready"
	case WorkerPaused:
		return "paused"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerStats are the counters accumulated by one worker and returned by
// reportStats; the controller's stats timer aggregates these across all
// workers into a ClusterStats snapshot.
type WorkerStats struct {
	BatchesIssued    uint64
	TimestampsIssued uint64
	NotReadyCount    uint64
	LastBatchSize    uint16
	LastIssuedTAI    uint64
}

// Worker is the hot-path role run on every core but core 0. Exactly one
// Worker exists per core and all of its methods are called from that
// core's single owning goroutine; there is no internal locking because the
// cooperative single-threaded scheduling model (see concurrency design)
// guarantees callers never overlap a Worker's methods.
type Worker struct {
	id      int
	tsoID   uint32
	residue uint16
	clock   MonotonicClock

	primed bool
	state  WorkerState
	wci    tsopb.WorkerControlInfo

	lastServedTBE   uint64
	lastServedCount uint16

	stats WorkerStats
}

// NewWorker constructs a Worker for the given 0-indexed worker id (not core
// index: worker 0 is core 1, worker 1 is core 2, and so on). The residue
// class a worker sticks to for its entire lifetime is its id, consistent
// with WorkerControlInfo.TbeNanoSecStep always being set to the worker
// count (striping invariant I2).
func NewWorker(id int, tsoID uint32, clock MonotonicClock) *Worker {
	return &Worker{
		id:      id,
		tsoID:   tsoID,
		residue: uint16(id),
		clock:   clock,
		state:   WorkerInitialized,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return w.state }

// ApplyControlInfo installs a new WorkerControlInfo, high priority: the
// caller (the core's mailbox dispatcher) must ensure this runs to
// completion before the next getTimestampBatch is dispatched, and that
// updates from the controller are applied in the order they were
// broadcast. Stopped workers reject further updates.
func (w *Worker) ApplyControlInfo(wci tsopb.WorkerControlInfo) error {
	if w.state == WorkerStopped {
		return ErrShuttingDown()
	}
	w.wci = wci
	w.primed = true
	if wci.IsReadyToIssueTs {
		w.state = WorkerReady
	} else {
		w.state = WorkerPaused
	}
	return nil
}

// Stop transitions the worker to Stopped. One-way, idempotent.
func (w *Worker) Stop() {
	w.state = WorkerStopped
}

// GetTimestampBatch is the hot path: it issues a batch of up to
// batchSizeRequested timestamps, synchronous and wait-free with respect to
// any other core's activity. See the algorithm walk-through in the
// component design; this is a direct transliteration of its eleven steps.
func (w *Worker) GetTimestampBatch(batchSizeRequested uint16) (tsopb.TimestampBatch, error) {
	if w.state == WorkerStopped {
		return tsopb.TimestampBatch{}, ErrShuttingDown()
	}
	// Step 1.
	if !w.primed || !w.wci.IsReadyToIssueTs {
		w.stats.NotReadyCount++
		return tsopb.TimestampBatch{}, ErrNotReady()
	}

	step := uint64(w.wci.TbeNanoSecStep)
	if step == 0 {
		// Defensive: a WCI broadcast with a zero step is a controller bug,
		// not a condition a retrying client can fix.
		w.stats.NotReadyCount++
		return tsopb.TimestampBatch{}, ErrNotReady()
	}
	slotsPerMicro := uint64(1000) / step

	// Steps 2-4.
	nowLocal := w.clock.NowNanos()
	nowTAI := uint64(nowLocal + w.wci.TbeAdjustment)
	nowMicroRounded := (nowTAI/1000)*1000 + uint64(w.residue)

	// Backward-clock tie-break: never observed with a true monotonic
	// source, but if nowMicroRounded would regress behind the last served
	// TBE, pin it there and re-enter the step-5 comparison as an equality.
	if nowMicroRounded < w.lastServedTBE {
		nowMicroRounded = w.lastServedTBE
	}

	// Steps 5-6.
	var startCount uint16
	if nowMicroRounded == w.lastServedTBE {
		available := slotsPerMicro - uint64(w.lastServedCount)
		if available == 0 {
			nowMicroRounded += 1000
			startCount = 0
		} else {
			startCount = w.lastServedCount
		}
	} else {
		startCount = 0
	}

	// Step 7.
	remaining := slotsPerMicro - uint64(startCount)
	batchSize := batchSizeRequested
	if uint64(batchSize) > remaining {
		batchSize = uint16(remaining)
	}

	batch := tsopb.TimestampBatch{
		TbeBase:          nowMicroRounded,
		UncertaintyDelta: w.wci.TsDelta,
		TsoID:            w.tsoID,
		StepSize:         w.wci.TbeNanoSecStep,
		StartCount:       startCount,
		BatchSize:        batchSize,
		TTL:              w.wci.BatchTTL,
	}

	// Step 9: threshold check (invariant I3).
	if batch.EndOfBatch() > w.wci.ReservedTimeThreshold {
		w.stats.NotReadyCount++
		return tsopb.TimestampBatch{}, ErrNotReady()
	}

	// Step 10.
	w.lastServedTBE = nowMicroRounded
	w.lastServedCount = startCount + batchSize

	w.stats.BatchesIssued++
	w.stats.TimestampsIssued += uint64(batchSize)
	w.stats.LastBatchSize = batchSize
	if batchSize > 0 {
		w.stats.LastIssuedTAI = batch.EndOfBatch()
	}

	return batch, nil
}

// ReportStats returns a snapshot of the accumulated counters; low priority,
// safe to call between getTimestampBatch calls.
func (w *Worker) ReportStats() WorkerStats {
	return w.stats
}
