// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHandleAppliesControlAndServesBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := NewManualClock(1_000_000)
	h := NewWorkerHandle(NewWorker(0, 3, clock))
	go h.Run(ctx)

	require.NoError(t, h.ApplyControlInfo(ctx, readyWCI(1, ^uint64(0))))

	batch, err := h.GetTimestampBatch(ctx, 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, batch.BatchSize)

	stats, err := h.ReportStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.BatchesIssued)
	require.EqualValues(t, 10, stats.TimestampsIssued)
}

func TestWorkerHandleForceNotReadyBlocksFurtherBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := NewManualClock(1_000_000)
	h := NewWorkerHandle(NewWorker(0, 3, clock))
	go h.Run(ctx)

	require.NoError(t, h.ApplyControlInfo(ctx, readyWCI(1, ^uint64(0))))
	_, err := h.GetTimestampBatch(ctx, 1)
	require.NoError(t, err)

	h.ForceNotReady(ctx)

	_, err = h.GetTimestampBatch(ctx, 1)
	require.True(t, IsNotReady(err))
}

func TestWorkerHandleBatchRequestObservesLatestControlUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := NewManualClock(1_000_000)
	h := NewWorkerHandle(NewWorker(0, 3, clock))
	go h.Run(ctx)

	require.NoError(t, h.ApplyControlInfo(ctx, readyWCI(1, ^uint64(0))))

	pausedWCI := readyWCI(1, ^uint64(0))
	pausedWCI.IsReadyToIssueTs = false
	require.NoError(t, h.ApplyControlInfo(ctx, pausedWCI))

	_, err := h.GetTimestampBatch(ctx, 1)
	require.True(t, IsNotReady(err))
}

func TestWorkerHandleStopEndsRun(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(1_000_000)
	h := NewWorkerHandle(NewWorker(0, 3, clock))

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestWorkerHandleContextCancellationUnblocksCallers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Never start Run: every call must unblock via ctx instead of hanging.
	clock := NewManualClock(1_000_000)
	h := NewWorkerHandle(NewWorker(0, 3, clock))
	cancel()

	err := h.ApplyControlInfo(ctx, readyWCI(1, ^uint64(0)))
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.GetTimestampBatch(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.ReportStats(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
