// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsoclock specifies the ClockSource external collaborator: the
// hardware time source (an atomic or GPS clock, per spec) that the
// controller polls on its time-sync timer to learn the offset between the
// local monotonic clock and TAI, plus how uncertain that offset is. The
// wire verbs GET_ATOMIC_CLOCK_TIME / GET_GPS_CLOCK_TIME / ACK_TIME are
// carried by a real implementation's RPC transport, out of scope here; this
// package defines the Go-level seam (Source) and an in-memory reference
// implementation for tests and single-process demos.
package tsoclock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Source supplies the delta between a local monotonic clock reading and
// TAI, plus the uncertainty of that reading. The controller calls Now on
// every time-sync tick and folds the result into the pending
// WorkerControlInfo (TbeAdjustment, TsDelta).
type Source interface {
	// Now returns the signed nanosecond delta to add to a local monotonic
	// reading to obtain TAI time, and the width of the uncertainty window
	// around that reading.
	Now(ctx context.Context) (taiDeltaNanos int64, uncertainty time.Duration, err error)
}

// InMemorySource is a reference Source for tests and single-process demos:
// it holds a configurable offset and uncertainty, and can be made to fail
// on demand to exercise the controller's ClockUnavailable handling.
type InMemorySource struct {
	mu            sync.Mutex
	taiDeltaNanos int64
	uncertainty   time.Duration
	failuresLeft  int
}

// NewInMemorySource returns a Source fixed at the given offset and
// uncertainty until mutated with SetOffset/SetUncertainty.
func NewInMemorySource(taiDeltaNanos int64, uncertainty time.Duration) *InMemorySource {
	return &InMemorySource{taiDeltaNanos: taiDeltaNanos, uncertainty: uncertainty}
}

// Now implements Source.
func (s *InMemorySource) Now(ctx context.Context) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return 0, 0, errors.New("simulated clock source outage")
	}
	return s.taiDeltaNanos, s.uncertainty, nil
}

// SetOffset updates the TAI delta returned by subsequent calls to Now,
// simulating a drift correction or a step jump (scenario: clock-drift
// correction).
func (s *InMemorySource) SetOffset(taiDeltaNanos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taiDeltaNanos = taiDeltaNanos
}

// SetUncertainty updates the uncertainty window width returned by
// subsequent calls to Now, simulating an uncertainty spike.
func (s *InMemorySource) SetUncertainty(u time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uncertainty = u
}

// InjectFailures makes the next n calls to Now fail, simulating a
// temporarily unreachable hardware clock.
func (s *InMemorySource) InjectFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresLeft = n
}
