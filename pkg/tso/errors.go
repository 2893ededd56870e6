// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import "github.com/cockroachdb/errors"

// The error taxonomy below carries the kinds from the error handling design:
// a small set of marker sentinels, each wrapped onto a descriptive error
// with errors.Mark so callers can test for a kind with errors.Is without
// caring about the message text. No panics or other non-local control flow
// cross a Worker/Controller method boundary; everything is a return value.
var (
	notEnoughCoresMark   = errors.New("not enough cores")
	notReadyMark         = errors.New("not ready")
	shuttingDownMark     = errors.New("shutting down")
	notMasterMark        = errors.New("not master")
	consensusUnavailMark = errors.New("consensus unavailable")
	clockUnavailMark     = errors.New("clock unavailable")
)

// ErrNotEnoughCores is returned by the service shell at process start when
// fewer than two cores are available to assign controller/worker roles.
func ErrNotEnoughCores(haveCores int) error {
	return errors.Mark(errors.Newf("tso requires at least 2 cores (1 controller + 1 worker), have %d", haveCores), notEnoughCoresMark)
}

// ErrNotReady is returned by getTimestampBatch when the worker is paused,
// not yet primed with a first WorkerControlInfo, or would have to issue a
// timestamp beyond the reserved time threshold. It is transient; clients
// retry.
func ErrNotReady() error {
	return errors.Mark(errors.New("worker is not ready to issue timestamps"), notReadyMark)
}

// ErrShuttingDown is returned by client-facing RPCs once gracefulStop has
// set stopRequested. Terminal for the current request; clients fail over.
func ErrShuttingDown() error {
	return errors.Mark(errors.New("tso instance is shutting down"), shuttingDownMark)
}

// NotMasterError is returned when a client contacts a core that does not
// hold mastership for an RPC that requires it, optionally carrying a hint to
// the known master URL.
type NotMasterError struct {
	// MasterURL is the last known master URL, or "" if unknown.
	MasterURL string
}

// Error implements error.
func (e *NotMasterError) Error() string {
	if e.MasterURL == "" {
		return "not master, master unknown"
	}
	return "not master, master is at " + e.MasterURL
}

// ErrNotMaster constructs a NotMasterError, marked so that IsNotMaster
// recognizes it.
func ErrNotMaster(masterURL string) error {
	return errors.Mark(&NotMasterError{MasterURL: masterURL}, notMasterMark)
}

// ErrConsensusUnavailable wraps a failure talking to the consensus store.
// Controller-local: it drives a heartbeat retry or, after three consecutive
// failures while master, a suicide(); it is never returned to a client.
func ErrConsensusUnavailable(cause error) error {
	return errors.Mark(errors.Wrap(cause, "consensus store unavailable"), consensusUnavailMark)
}

// ErrClockUnavailable wraps a failure reading the hardware clock source.
// Controller-local: the controller reuses the last diffTAILocal and, after
// three consecutive failures, clears isReadyToIssueTs on the next broadcast.
func ErrClockUnavailable(cause error) error {
	return errors.Mark(errors.Wrap(cause, "clock source unavailable"), clockUnavailMark)
}

// IsNotReady reports whether err is (or wraps) a NotReady error.
func IsNotReady(err error) bool { return errors.Is(err, notReadyMark) }

// IsShuttingDown reports whether err is (or wraps) a ShuttingDown error.
func IsShuttingDown(err error) bool { return errors.Is(err, shuttingDownMark) }

// IsNotMaster reports whether err is (or wraps) a NotMaster error, and if
// so, returns the hinted master URL (possibly empty).
func IsNotMaster(err error) (string, bool) {
	if !errors.Is(err, notMasterMark) {
		return "", false
	}
	var nme *NotMasterError
	if errors.As(err, &nme) {
		return nme.MasterURL, true
	}
	return "", true
}

// IsConsensusUnavailable reports whether err is (or wraps) a
// ConsensusUnavailable error.
func IsConsensusUnavailable(err error) bool { return errors.Is(err, consensusUnavailMark) }

// IsClockUnavailable reports whether err is (or wraps) a ClockUnavailable
// error.
func IsClockUnavailable(err error) bool { return errors.Is(err, clockUnavailMark) }
