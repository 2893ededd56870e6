// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"context"

	"time"

	"github.com/cockroachdb/tso/pkg/util/timeutil"
)

// PeriodicTask runs fn every interval on its own goroutine, the way the
// controller's heartbeat, time-sync and stats duties each run. It enforces
// non-reentrance by construction: the next firing isn't armed until fn has
// returned, so a slow tick (e.g. a heartbeat blocked on a consensus RPC)
// simply delays the next one rather than overlapping it. This replaces the
// self-captured-closure timers of the source pattern named in the design
// notes with a single reusable, explicitly cancellable abstraction.
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	timer  timeutil.Timer
	stopCh chan struct{}
}

// NewPeriodicTask constructs a task that is not yet running; call Run on a
// dedicated goroutine to start it.
func NewPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context)) *PeriodicTask {
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, firing fn every interval, until ctx is canceled or Stop is
// called.
func (t *PeriodicTask) Run(ctx context.Context) {
	t.timer.Reset(t.interval)
	defer t.timer.Stop()
	for {
		select {
		case <-t.timer.C:
			t.timer.Read = true
			t.fn(ctx)
			t.timer.Reset(t.interval)
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop requests that Run return once its current (if any) firing of fn
// completes. Safe to call more than once.
func (t *PeriodicTask) Stop() {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}
