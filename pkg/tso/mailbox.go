// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"context"

	"github.com/cockroachdb/tso/pkg/tsopb"
)

// WorkerHandle is the "submit to core K" primitive for one worker core: it
// owns a *Worker and runs its three-priority mailbox loop on a single
// goroutine, so every call the Worker ever sees is already serialized by
// construction, matching the run-to-completion, shared-nothing concurrency
// model. Every other core talks to a worker exclusively through this
// handle's methods, never by touching the Worker directly.
type WorkerHandle struct {
	worker *Worker

	highPriority   chan func()
	normalPriority chan func()
	lowPriority    chan func()
	stop           chan struct{}
}

// NewWorkerHandle wraps w in a mailbox. Buffer sizes are small: the worker
// is meant to drain its queues as fast as requests arrive, not to
// accumulate backlog.
func NewWorkerHandle(w *Worker) *WorkerHandle {
	return &WorkerHandle{
		worker:         w,
		highPriority:   make(chan func(), 8),
		normalPriority: make(chan func(), 64),
		lowPriority:    make(chan func(), 8),
		stop:           make(chan struct{}),
	}
}

// Run executes the worker's core loop until ctx is canceled or Stop is
// called. It must run on its own goroutine; every other core's calls into
// this worker flow through the channels drained here, so at most one of
// ApplyControlInfo/GetTimestampBatch/ReportStats is ever in flight against
// the underlying Worker at a time.
func (h *WorkerHandle) Run(ctx context.Context) {
	for {
		// Control updates always win a race against client traffic: drain
		// every pending one before considering anything else, so a
		// getTimestampBatch call never observes a WCI older than one the
		// controller has already sent.
		select {
		case fn := <-h.highPriority:
			fn()
			continue
		default:
		}

		select {
		case fn := <-h.highPriority:
			fn()
		case fn := <-h.normalPriority:
			fn()
		case fn := <-h.lowPriority:
			fn()
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts Run. Idempotent is not guaranteed; call at most once.
func (h *WorkerHandle) Stop() {
	close(h.stop)
}

// ApplyControlInfo submits a high-priority control update and blocks until
// it has been applied.
func (h *WorkerHandle) ApplyControlInfo(ctx context.Context, wci tsopb.WorkerControlInfo) error {
	errCh := make(chan error, 1)
	job := func() { errCh <- h.worker.ApplyControlInfo(wci) }
	select {
	case h.highPriority <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTimestampBatch submits a normal-priority batch request and blocks for
// the result.
func (h *WorkerHandle) GetTimestampBatch(
	ctx context.Context, batchSizeRequested uint16,
) (tsopb.TimestampBatch, error) {
	type result struct {
		batch tsopb.TimestampBatch
		err   error
	}
	resCh := make(chan result, 1)
	job := func() {
		b, err := h.worker.GetTimestampBatch(batchSizeRequested)
		resCh <- result{batch: b, err: err}
	}
	select {
	case h.normalPriority <- job:
	case <-ctx.Done():
		return tsopb.TimestampBatch{}, ctx.Err()
	}
	select {
	case r := <-resCh:
		return r.batch, r.err
	case <-ctx.Done():
		return tsopb.TimestampBatch{}, ctx.Err()
	}
}

// ReportStats submits a low-priority stats request and blocks for the
// result.
func (h *WorkerHandle) ReportStats(ctx context.Context) (WorkerStats, error) {
	type result struct {
		stats WorkerStats
		err   error
	}
	resCh := make(chan result, 1)
	job := func() { resCh <- result{stats: h.worker.ReportStats()} }
	select {
	case h.lowPriority <- job:
	case <-ctx.Done():
		return WorkerStats{}, ctx.Err()
	}
	select {
	case r := <-resCh:
		return r.stats, r.err
	case <-ctx.Done():
		return WorkerStats{}, ctx.Err()
	}
}

// ForceNotReady synchronously marks the worker not-ready without going
// through the normal queue ordering. Used only by the controller's
// suicide(), which by design bypasses broadcast serialization; it still
// runs on the worker's own goroutine (via the high-priority channel) to
// avoid a data race with any in-flight GetTimestampBatch.
func (h *WorkerHandle) ForceNotReady(ctx context.Context) {
	done := make(chan struct{})
	job := func() {
		wci := h.worker.wci
		wci.IsReadyToIssueTs = false
		_ = h.worker.ApplyControlInfo(wci)
		close(done)
	}
	select {
	case h.highPriority <- job:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}
