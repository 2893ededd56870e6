// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsopb defines the wire-level data model shared by the TSO
// controller and worker cores: Timestamp, TimestampBatch and
// WorkerControlInfo. The RPC transport that carries these values between
// processes is an external collaborator and is not part of this module; this
// package only defines their shape, field layout mirroring what a
// generated gogoproto type would carry, and the pure functions that
// decode a batch into its constituent timestamps.
package tsopb

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/gogo/protobuf/proto"
	"github.com/google/uuid"
)

// Reset, String and ProtoMessage on Timestamp, TimestampBatch and
// WorkerControlInfo satisfy gogo/protobuf's proto.Message, the same marker
// interface roachpb's hand-written and generated types both implement, so
// these values can be logged and passed through proto.Message-typed call
// sites without a dedicated wire codec.
var (
	_ proto.Message = (*Timestamp)(nil)
	_ proto.Message = (*TimestampBatch)(nil)
	_ proto.Message = (*WorkerControlInfo)(nil)
)

// NewInstanceID generates a fresh durable identity for a TSO instance to
// register with the consensus store. Distinct from TsoID: TsoID is a
// small, operator-assigned wire identifier used as a timestamp tie-break,
// while the instance ID is an opaque key the consensus store uses to
// track lease ownership across restarts.
func NewInstanceID() string {
	return uuid.NewString()
}

// Timestamp is a single, totally ordered wall-clock reading handed out by a
// TSO instance. The real-time interval it represents is
// [TEndTAI-UncertaintyDelta, TEndTAI]; any transaction ordered at this
// timestamp is guaranteed to have started after TEndTAI-UncertaintyDelta and
// before TEndTAI elapsed in real TAI time.
type Timestamp struct {
	// TEndTAI is the upper bound of the real-time interval, in nanoseconds
	// since the TAI epoch.
	TEndTAI uint64
	// UncertaintyDelta is the width, in nanoseconds, of the real-time
	// interval below TEndTAI.
	UncertaintyDelta uint16
	// TsoID identifies the TSO instance that issued this timestamp. Used as
	// the tie-break when two timestamps share a TEndTAI (never true for a
	// single instance, always possible for two racing instances before a
	// safe handover completes).
	TsoID uint32
	// StepSize is the number of workers active on the issuing instance,
	// i.e. the residue class stride used to stripe the sub-microsecond
	// slot space (see WorkerControlInfo.TbeNanoSecStep).
	StepSize uint8
}

// String implements fmt.Stringer and proto.Message.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d(tso=%d,step=%d)", t.TEndTAI, t.UncertaintyDelta, t.TsoID, t.StepSize)
}

// Reset implements proto.Message.
func (t *Timestamp) Reset() { *t = Timestamp{} }

// ProtoMessage implements proto.Message.
func (t *Timestamp) ProtoMessage() {}

// Less orders timestamps first by TEndTAI, then by TsoID, matching the
// tie-break rule in the data model.
func (t Timestamp) Less(o Timestamp) bool {
	if t.TEndTAI != o.TEndTAI {
		return t.TEndTAI < o.TEndTAI
	}
	return t.TsoID < o.TsoID
}

// IntervalStart returns the lower bound of the real-time window this
// timestamp represents.
func (t Timestamp) IntervalStart() uint64 {
	if uint64(t.UncertaintyDelta) > t.TEndTAI {
		return 0
	}
	return t.TEndTAI - uint64(t.UncertaintyDelta)
}

// Contains reports whether the given TAI instant falls within the
// timestamp's uncertainty window [TEndTAI-UncertaintyDelta, TEndTAI].
func (t Timestamp) Contains(taiNanos uint64) bool {
	return taiNanos >= t.IntervalStart() && taiNanos <= t.TEndTAI
}

// TimestampBatch is a contiguous run of timestamps issued by a single
// worker in response to one getTimestampBatch call. It decodes to
// BatchSize timestamps whose TEndTAI values are
// TbeBase + (StartCount+i)*StepSize for i in [0, BatchSize).
type TimestampBatch struct {
	// TbeBase is the microsecond-aligned timestamp batch end that all
	// entries in this batch are offset from.
	TbeBase uint64
	// UncertaintyDelta is copied onto every decoded Timestamp.
	UncertaintyDelta uint16
	// TsoID is copied onto every decoded Timestamp.
	TsoID uint32
	// StepSize is copied onto every decoded Timestamp.
	StepSize uint8
	// StartCount is the first sub-microsecond slot index used by this
	// batch, in [0, 1000/StepSize).
	StartCount uint16
	// BatchSize is the number of timestamps this batch decodes to. May be
	// zero (an empty batch is a valid, successful response).
	BatchSize uint16
	// TTL is the client-side expiry, in nanoseconds, after which unused
	// entries in this batch must not be used.
	TTL uint16
}

// slotsPerMicros returns 1000/StepSize, the number of distinct timestamps a
// single worker can issue within one microsecond.
func (b TimestampBatch) slotsPerMicros() uint16 {
	return 1000 / uint16(b.StepSize)
}

// Validate checks the batch invariant StartCount+BatchSize <= 1000/StepSize
// (spec data model, TimestampBatch invariant).
func (b TimestampBatch) Validate() error {
	if b.StepSize == 0 {
		return errors.AssertionFailedf("timestamp batch has zero step size")
	}
	if uint32(b.StartCount)+uint32(b.BatchSize) > uint32(b.slotsPerMicros()) {
		return errors.AssertionFailedf(
			"timestamp batch overflows microsecond: startCount=%d batchSize=%d slots=%d",
			b.StartCount, b.BatchSize, b.slotsPerMicros())
	}
	return nil
}

// Decode expands the batch into its BatchSize constituent timestamps, in
// increasing TEndTAI order. Returns an empty (non-nil) slice for a
// zero-size batch.
func (b TimestampBatch) Decode() ([]Timestamp, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	out := make([]Timestamp, b.BatchSize)
	for i := range out {
		out[i] = Timestamp{
			TEndTAI:          b.TbeBase + uint64(uint32(b.StartCount)+uint32(i))*uint64(b.StepSize),
			UncertaintyDelta: b.UncertaintyDelta,
			TsoID:            b.TsoID,
			StepSize:         b.StepSize,
		}
	}
	return out, nil
}

// String implements fmt.Stringer and proto.Message.
func (b TimestampBatch) String() string {
	return fmt.Sprintf("batch(base=%d,start=%d,size=%d,step=%d,tso=%d)",
		b.TbeBase, b.StartCount, b.BatchSize, b.StepSize, b.TsoID)
}

// Reset implements proto.Message.
func (b *TimestampBatch) Reset() { *b = TimestampBatch{} }

// ProtoMessage implements proto.Message.
func (b *TimestampBatch) ProtoMessage() {}

// EndOfBatch returns the TEndTAI of the last timestamp this batch would
// decode to, without allocating. Used by the worker hot path to perform the
// reserved-time-threshold check before committing to a batch.
func (b TimestampBatch) EndOfBatch() uint64 {
	if b.BatchSize == 0 {
		return b.TbeBase + uint64(b.StartCount)*uint64(b.StepSize)
	}
	return b.TbeBase + uint64(uint32(b.StartCount)+uint32(b.BatchSize)-1)*uint64(b.StepSize)
}

// WorkerControlInfo is the authoritative control state broadcast by the
// controller to every worker. A worker applies updates to its local copy
// in FIFO order, between client requests, and never reorders or merges two
// updates.
type WorkerControlInfo struct {
	// IsReadyToIssueTs gates getTimestampBatch: if false, the worker fails
	// every request with NotReady.
	IsReadyToIssueTs bool
	// TbeNanoSecStep is the number of active workers, i.e. the residue
	// class stride (see Timestamp.StepSize).
	TbeNanoSecStep uint8
	// TbeAdjustment is the signed delta, in nanoseconds, added to a local
	// monotonic clock reading to obtain TAI time.
	TbeAdjustment int64
	// TsDelta is the uncertainty window width applied to every timestamp
	// issued under this WCI.
	TsDelta uint16
	// ReservedTimeThreshold is the upper bound, in TAI nanoseconds, beyond
	// which this worker must not issue any timestamp (data model invariant
	// I3).
	ReservedTimeThreshold uint64
	// BatchTTL is copied onto every TimestampBatch issued under this WCI.
	BatchTTL uint16
}

// Equal reports whether two WorkerControlInfo values are field-wise equal.
func (w WorkerControlInfo) Equal(o WorkerControlInfo) bool {
	return w == o
}

// String implements fmt.Stringer and proto.Message.
func (w WorkerControlInfo) String() string {
	return fmt.Sprintf("wci(ready=%t,step=%d,adj=%d,delta=%d,threshold=%d)",
		w.IsReadyToIssueTs, w.TbeNanoSecStep, w.TbeAdjustment, w.TsDelta, w.ReservedTimeThreshold)
}

// Reset implements proto.Message.
func (w *WorkerControlInfo) Reset() { *w = WorkerControlInfo{} }

// ProtoMessage implements proto.Message.
func (w *WorkerControlInfo) ProtoMessage() {}

// ControllerState is the controller's private bookkeeping; it is never
// serialized or sent across a core boundary (WorkerControlInfo is the only
// thing that crosses that boundary).
type ControllerState struct {
	IsMaster                bool
	MasterURL               string
	WorkerURLs              []string
	DiffTAILocal            int64
	PrevReservedTimeThresh  uint64
	MyLease                 uint64
	LastSentWCI             WorkerControlInfo
	PendingWCI              WorkerControlInfo
	StopRequested           bool
}
