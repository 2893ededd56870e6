// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/tso/pkg/tsopb"
)

func readyWCI(step uint8, threshold uint64) tsopb.WorkerControlInfo {
	return tsopb.WorkerControlInfo{
		IsReadyToIssueTs:      true,
		TbeNanoSecStep:        step,
		TbeAdjustment:         0,
		TsDelta:               100,
		ReservedTimeThreshold: threshold,
		BatchTTL:              5000,
	}
}

func TestWorkerNotReadyBeforeFirstControlInfo(t *testing.T) {
	clock := NewManualClock(1_000_000)
	w := NewWorker(0, 7, clock)

	_, err := w.GetTimestampBatch(10)
	require.True(t, IsNotReady(err))
}

func TestWorkerNotReadyWhenPaused(t *testing.T) {
	clock := NewManualClock(1_000_000)
	w := NewWorker(0, 7, clock)

	wci := readyWCI(2, ^uint64(0))
	wci.IsReadyToIssueTs = false
	require.NoError(t, w.ApplyControlInfo(wci))
	require.Equal(t, WorkerPaused, w.State())

	_, err := w.GetTimestampBatch(10)
	require.True(t, IsNotReady(err))
}

func TestWorkerBecomesReadyOnControlInfo(t *testing.T) {
	clock := NewManualClock(1_000_000)
	w := NewWorker(0, 7, clock)

	require.NoError(t, w.ApplyControlInfo(readyWCI(2, ^uint64(0))))
	require.Equal(t, WorkerReady, w.State())
}

// TestWorkerStriping exercises invariant I2: two workers sharing a step
// stick to disjoint residue classes, so their issued TEndTAI values never
// collide even when queried at the same clock reading.
func TestWorkerStriping(t *testing.T) {
	clock0 := NewManualClock(5_000_000)
	clock1 := NewManualClock(5_000_000)

	w0 := NewWorker(0, 1, clock0)
	w1 := NewWorker(1, 1, clock1)

	require.NoError(t, w0.ApplyControlInfo(readyWCI(2, ^uint64(0))))
	require.NoError(t, w1.ApplyControlInfo(readyWCI(2, ^uint64(0))))

	b0, err := w0.GetTimestampBatch(1)
	require.NoError(t, err)
	b1, err := w1.GetTimestampBatch(1)
	require.NoError(t, err)

	require.Equal(t, uint64(0), b0.TbeBase%2)
	require.Equal(t, uint64(1), b1.TbeBase%2)
	require.NotEqual(t, b0.EndOfBatch(), b1.EndOfBatch())
}

// TestWorkerMicrosecondPacking exercises the sub-microsecond slot sequencing
// (steps 5-7): repeated calls within the same microsecond consume
// successive slots until the microsecond is exhausted, at which point the
// worker advances to the next one.
func TestWorkerMicrosecondPacking(t *testing.T) {
	clock := NewManualClock(3_000_000) // fixed, worker never observes it move
	w := NewWorker(0, 1, clock)
	require.NoError(t, w.ApplyControlInfo(readyWCI(1, ^uint64(0)))) // step=1: 1000 slots/us

	b1, err := w.GetTimestampBatch(400)
	require.NoError(t, err)
	require.EqualValues(t, 0, b1.StartCount)
	require.EqualValues(t, 400, b1.BatchSize)

	b2, err := w.GetTimestampBatch(400)
	require.NoError(t, err)
	require.Equal(t, b1.TbeBase, b2.TbeBase)
	require.EqualValues(t, 400, b2.StartCount)
	require.EqualValues(t, 400, b2.BatchSize)

	// Only 200 slots remain in this microsecond; a request for 400 is
	// truncated to what's left.
	b3, err := w.GetTimestampBatch(400)
	require.NoError(t, err)
	require.Equal(t, b1.TbeBase, b3.TbeBase)
	require.EqualValues(t, 800, b3.StartCount)
	require.EqualValues(t, 200, b3.BatchSize)

	// The microsecond is now exhausted; the next call rolls over to the
	// next one and starts again at slot 0.
	b4, err := w.GetTimestampBatch(1)
	require.NoError(t, err)
	require.Equal(t, b1.TbeBase+1000, b4.TbeBase)
	require.EqualValues(t, 0, b4.StartCount)
}

// TestReservedTimeThresholdBlocksIssuance exercises invariant I3: a worker
// never issues a timestamp beyond its reserved time threshold, even when
// the caller requests fewer timestamps than the microsecond has room for.
func TestReservedTimeThresholdBlocksIssuance(t *testing.T) {
	clock := NewManualClock(10_000_000)
	w := NewWorker(0, 1, clock)

	nowTAI := uint64(clock.NowNanos())
	nowMicroRounded := (nowTAI / 1000) * 1000
	// Set the threshold inside the current microsecond, below where a
	// 5-slot batch with step=1 would end.
	wci := readyWCI(1, nowMicroRounded+3)
	require.NoError(t, w.ApplyControlInfo(wci))

	_, err := w.GetTimestampBatch(5)
	require.True(t, IsNotReady(err))
}

// TestReservedTimeThresholdAllowsPartialBatch shows that requesting fewer
// timestamps than the threshold allows succeeds even when a larger request
// at the same instant would have been rejected.
func TestReservedTimeThresholdAllowsPartialBatch(t *testing.T) {
	clock := NewManualClock(10_000_000)
	w := NewWorker(0, 1, clock)

	nowTAI := uint64(clock.NowNanos())
	nowMicroRounded := (nowTAI / 1000) * 1000
	wci := readyWCI(1, nowMicroRounded+3)
	require.NoError(t, w.ApplyControlInfo(wci))

	b, err := w.GetTimestampBatch(2)
	require.NoError(t, err)
	require.LessOrEqual(t, b.EndOfBatch(), wci.ReservedTimeThreshold)
}

// TestWorkerBackwardClockTieBreak exercises the documented tie-break: if
// the local monotonic clock is ever observed to move backward relative to
// the last served slot, the worker pins to the last served instant instead
// of regressing a batch's TEndTAI.
func TestWorkerBackwardClockTieBreak(t *testing.T) {
	clock := NewManualClock(20_000_000)
	w := NewWorker(0, 1, clock)
	require.NoError(t, w.ApplyControlInfo(readyWCI(1, ^uint64(0))))

	b1, err := w.GetTimestampBatch(1000) // fully consume this microsecond
	require.NoError(t, err)
	require.EqualValues(t, 1000, b1.BatchSize)

	clock.Set(1_000_000) // clock regresses
	b2, err := w.GetTimestampBatch(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b2.TbeBase, b1.TbeBase)
}

// TestGetTimestampBatchZeroRequested shows that a zero-size request is a
// valid, successful call rather than an error.
func TestGetTimestampBatchZeroRequested(t *testing.T) {
	clock := NewManualClock(30_000_000)
	w := NewWorker(0, 1, clock)
	require.NoError(t, w.ApplyControlInfo(readyWCI(1, ^uint64(0))))

	b, err := w.GetTimestampBatch(0)
	require.NoError(t, err)
	require.EqualValues(t, 0, b.BatchSize)

	stats := w.ReportStats()
	require.EqualValues(t, 1, stats.BatchesIssued)
	require.EqualValues(t, 0, stats.TimestampsIssued)
}

func TestWorkerStopRejectsFurtherWork(t *testing.T) {
	clock := NewManualClock(1_000_000)
	w := NewWorker(0, 1, clock)
	require.NoError(t, w.ApplyControlInfo(readyWCI(1, ^uint64(0))))

	w.Stop()
	require.Equal(t, WorkerStopped, w.State())

	_, err := w.GetTimestampBatch(1)
	require.True(t, IsShuttingDown(err))

	err = w.ApplyControlInfo(readyWCI(1, ^uint64(0)))
	require.True(t, IsShuttingDown(err))
}

func TestTimestampBatchDecode(t *testing.T) {
	clock := NewManualClock(40_000_000)
	w := NewWorker(0, 9, clock)
	require.NoError(t, w.ApplyControlInfo(readyWCI(2, ^uint64(0))))

	b, err := w.GetTimestampBatch(5)
	require.NoError(t, err)

	ts, err := b.Decode()
	require.NoError(t, err)
	require.Len(t, ts, 5)
	for i, t0 := range ts {
		require.Equal(t, uint32(9), t0.TsoID)
		if i > 0 {
			require.True(t, ts[i-1].Less(t0))
		}
	}
	require.Equal(t, ts[len(ts)-1].TEndTAI, b.EndOfBatch())
}
