// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tso/pkg/tsoclock"
	"github.com/cockroachdb/tso/pkg/tsoconsensus"
	"github.com/cockroachdb/tso/pkg/tsopb"
	"github.com/cockroachdb/tso/pkg/util/log"
	"github.com/cockroachdb/tso/pkg/util/syncutil"
)

// maxConsecutiveFailures is the "three consecutive failures" threshold
// named in the failure semantics for both the consensus and clock-source
// collaborators.
const maxConsecutiveFailures = 3

// Controller is the role run on core 0: cluster membership, lease
// management, time synchronization and worker coordination. Exactly one
// Controller exists per process. Its public methods are called from the
// core's single owning goroutine (the client-facing RPC handlers and the
// three timers below); the mutex exists to let tests call tick methods
// directly without standing up a full core loop, and to make misuse by a
// future caller safe rather than a data race.
type Controller struct {
	cfg Config

	tsoID      uint32
	instanceID string
	selfURL    string
	numWorkers int

	consensus   tsoconsensus.Client
	clockSource tsoclock.Source
	monoClock   MonotonicClock

	// BroadcastFunc fans a WorkerControlInfo out to every worker core and
	// returns once every worker has acknowledged applying it (the
	// broadcast is complete only when every worker acknowledges, per the
	// concurrency design). Wired by the service shell to the real
	// cross-core mailbox; tests substitute a stub that just records the
	// last WCI sent.
	BroadcastFunc func(ctx context.Context, wci tsopb.WorkerControlInfo) error

	// ForceNotReadyFunc synchronously marks every worker not-ready,
	// bypassing the normal broadcast serialization. Only suicide() calls
	// this.
	ForceNotReadyFunc func(ctx context.Context)

	// CollectStatsFunc gathers every worker's counters for the stats
	// timer. Returns a nil slice if unset.
	CollectStatsFunc func(ctx context.Context) []WorkerStats

	// ScheduleFunc arranges for fn to run once, after d elapses. Defaults
	// to time.AfterFunc; the safe-handover wait-out uses it to fire a
	// deferred broadcast the instant a new master's TAI-now crosses the
	// previous master's reserved time threshold, without waiting for the
	// next regular heartbeat tick.
	ScheduleFunc func(d time.Duration, fn func())

	// OnSuicide is invoked, after every worker has been forced not-ready,
	// to actually terminate the process (the service shell wires it to
	// os.Exit). suicide() does not call ExitCluster. Tests leave it nil and
	// assert on state instead.
	OnSuicide func()

	// Metrics, if set, is updated by RunStatsTick every tick.
	Metrics *Metrics

	mu syncutil.Mutex

	state                   tsopb.ControllerState
	consensusFailures       int
	clockFailures           int
	clockDegraded           bool
	clockUncertaintyClamped uint64
	lastStatsTotals         statsDelta
}

// NewController constructs a Controller for the given config and instance
// identity. consensus and clockSource are the external collaborators;
// monoClock is the controller's own local monotonic clock (production code
// passes RealMonotonicClock, tests pass a ManualClock).
func NewController(
	cfg Config,
	tsoID uint32,
	instanceID, selfURL string,
	numWorkers int,
	consensus tsoconsensus.Client,
	clockSource tsoclock.Source,
	monoClock MonotonicClock,
) *Controller {
	return &Controller{
		cfg:           cfg,
		tsoID:         tsoID,
		instanceID:    instanceID,
		selfURL:       selfURL,
		numWorkers:    numWorkers,
		consensus:     consensus,
		clockSource:   clockSource,
		monoClock:     monoClock,
		ScheduleFunc:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// State returns a copy of the controller's bookkeeping state, for tests and
// for the stats timer's logging.
func (c *Controller) State() tsopb.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// nowTAILocked returns TAI-now given the controller's current
// diffTAILocal. Caller must hold c.mu.
func (c *Controller) nowTAILocked() int64 {
	return c.monoClock.NowNanos() + c.state.DiffTAILocal
}

// clampUncertainty implements "tsDelta = max(uncertainty, batchWindowFloor)"
// from the time-sync duty, additionally clamped to the wire-level uint16
// nanosecond width of WorkerControlInfo.TsDelta. See DESIGN.md for why a
// default 8ms-wide config floor is clamped down to ~65.5µs here.
func clampUncertainty(uncertainty, floor time.Duration) uint16 {
	w := uncertainty
	if floor > w {
		w = floor
	}
	ns := w.Nanoseconds()
	if ns < 0 {
		ns = 0
	}
	if ns > maxTsDeltaNanos {
		ns = maxTsDeltaNanos
	}
	return uint16(ns)
}

// Bootstrap implements the controller's first duty: initialize WCI
// defaults, collect worker endpoints, read the clock once, join the
// cluster, and assume whichever role the consensus store hands back.
// collectWorkerURLs is the cross-core query the service shell performs to
// learn every worker's transport URL(s); it is a parameter rather than a
// field so tests can supply a fixed list without a real core loop.
func (c *Controller) Bootstrap(
	ctx context.Context, collectWorkerURLs func(ctx context.Context) ([]string, error),
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.PendingWCI = tsopb.WorkerControlInfo{
		TbeNanoSecStep: uint8(c.numWorkers),
		BatchTTL:       c.cfg.BatchTTL,
	}

	urls, err := collectWorkerURLs(ctx)
	if err != nil {
		return err
	}
	c.state.WorkerURLs = urls

	taiDelta, uncertainty, err := c.clockSource.Now(ctx)
	if err != nil {
		return ErrClockUnavailable(err)
	}
	c.state.DiffTAILocal = taiDelta
	c.state.PendingWCI.TbeAdjustment = taiDelta
	c.state.PendingWCI.TsDelta = clampUncertainty(uncertainty, c.cfg.BatchWindowSize)

	nowTAI := c.nowTAILocked()
	isMaster, prevThresh, err := c.consensus.JoinCluster(ctx, c.instanceID, c.selfURL, uint64(nowTAI))
	if err != nil {
		return ErrConsensusUnavailable(err)
	}
	return c.setRoleLocked(ctx, isMaster, prevThresh)
}

// setRoleLocked implements setRole(isMaster, prevReservedTimeThreshold).
// Caller must hold c.mu.
func (c *Controller) setRoleLocked(
	ctx context.Context, isMaster bool, prevReservedTimeThreshold uint64,
) error {
	c.state.IsMaster = isMaster
	if !isMaster {
		c.state.PendingWCI.IsReadyToIssueTs = false
		return c.broadcastWCILocked(ctx)
	}

	c.state.PrevReservedTimeThresh = prevReservedTimeThreshold
	c.state.PendingWCI.ReservedTimeThreshold = prevReservedTimeThreshold
	c.state.MasterURL = c.selfURL

	wait := c.safeHandoverWaitLocked(prevReservedTimeThreshold)
	if wait <= 0 {
		return c.broadcastWCILocked(ctx)
	}

	// Invariant I5: do not allow issuance until TAI-now has crossed the
	// previous master's reserved time threshold. broadcastWCILocked will
	// compute IsReadyToIssueTs as false on its own (nowTAI <= threshold),
	// but we arm a deferred broadcast so the cluster learns the instant it
	// becomes safe, rather than waiting for the next heartbeat tick.
	if err := c.broadcastWCILocked(ctx); err != nil {
		return err
	}
	c.ScheduleFunc(wait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.broadcastWCILocked(ctx)
	})
	return nil
}

// safeHandoverWaitLocked returns how long, in wall-clock terms, until
// TAI-now exceeds prevThreshold; zero or negative means it already has.
// Caller must hold c.mu.
func (c *Controller) safeHandoverWaitLocked(prevThreshold uint64) time.Duration {
	now := c.nowTAILocked()
	if now > int64(prevThreshold) {
		return 0
	}
	return time.Duration(int64(prevThreshold) - now + 1)
}

// broadcastWCILocked implements broadcastWCI(). Caller must hold c.mu.
//
// Readiness is gated on the previous master's reserved time threshold
// (invariant I5), not on this master's own continuously-advancing
// threshold: PendingWCI.ReservedTimeThreshold is always pushed ahead of
// nowTAI by every heartbeat (runMasterHeartbeatLocked), so comparing
// against it here would make IsReadyToIssueTs permanently false. Once
// nowTAI has crossed PrevReservedTimeThresh, safe handover is satisfied
// for good; PrevReservedTimeThresh itself never advances again after
// setRoleLocked sets it.
func (c *Controller) broadcastWCILocked(ctx context.Context) error {
	now := c.nowTAILocked()
	ready := c.state.IsMaster &&
		now > int64(c.state.PrevReservedTimeThresh) &&
		!c.state.StopRequested &&
		!c.clockDegraded
	c.state.PendingWCI.IsReadyToIssueTs = ready

	wci := c.state.PendingWCI
	if c.BroadcastFunc == nil {
		return errors.AssertionFailedf("controller.BroadcastFunc is unset")
	}
	if err := c.BroadcastFunc(ctx, wci); err != nil {
		return err
	}
	c.state.LastSentWCI = wci
	return nil
}

// RunHeartbeatTick implements the heartbeat timer duty. One tick runs to
// completion before the next is dispatched; the service shell's periodic
// task wrapper enforces this in production, and direct sequential calls do
// so in tests.
func (c *Controller) RunHeartbeatTick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.StopRequested {
		return
	}
	nowTAI := c.nowTAILocked()

	if c.state.IsMaster {
		c.runMasterHeartbeatLocked(ctx, nowTAI)
		return
	}
	c.runStandbyHeartbeatLocked(ctx, nowTAI)
}

func (c *Controller) runMasterHeartbeatLocked(ctx context.Context, nowTAI int64) {
	// The reservation must be pushed ahead of nowTAI by at least as much as
	// the lease is, and durably recorded before any worker issues a
	// timestamp under it: if this instance crashed the instant after this
	// call commits, the next master still must not reissue anything up to
	// proposedThreshold, which is exactly what safe handover enforces on
	// its side.
	reservationMargin := uint64(3*c.cfg.HeartbeatInterval) + uint64(c.cfg.LeaseSlack)
	proposedLease := uint64(nowTAI) + reservationMargin
	proposedThreshold := uint64(nowTAI) + reservationMargin
	newLease, newThreshold, err := c.consensus.RenewLease(
		ctx, c.instanceID, uint64(nowTAI), proposedLease, proposedThreshold)
	if err != nil {
		var lost *tsoconsensus.LeaseLostError
		if errors.As(err, &lost) {
			log.Ops.Shoutf(ctx, log.SeverityError, "tso instance %s lost master lease: %v", c.instanceID, err)
			c.suicideLocked(ctx)
			return
		}
		c.consensusFailures++
		log.Health.Warningf(ctx, "consensus renew-lease failed (%d/%d consecutive): %v",
			c.consensusFailures, maxConsecutiveFailures, err)
		if c.consensusFailures >= maxConsecutiveFailures {
			c.suicideLocked(ctx)
		}
		return
	}
	c.consensusFailures = 0
	c.state.MyLease = newLease
	if newThreshold > c.state.PendingWCI.ReservedTimeThreshold {
		c.state.PendingWCI.ReservedTimeThreshold = newThreshold
	}
	if err := c.broadcastWCILocked(ctx); err != nil {
		log.Warningf(ctx, "broadcastWCI failed: %v", err)
	}
}

func (c *Controller) runStandbyHeartbeatLocked(ctx context.Context, nowTAI int64) {
	masterGone, _, err := c.consensus.StandbyHeartbeat(ctx, uint64(nowTAI))
	if err != nil {
		c.consensusFailures++
		log.Health.Warningf(ctx, "consensus standby heartbeat failed: %v", err)
		return
	}
	c.consensusFailures = 0
	if !masterGone {
		return
	}
	proposedLease := uint64(nowTAI) + uint64(3*c.cfg.HeartbeatInterval) + uint64(c.cfg.LeaseSlack)
	claimed, prevThresh, err := c.consensus.ClaimMastership(ctx, c.instanceID, c.selfURL, uint64(nowTAI), proposedLease)
	if err != nil {
		log.Health.Warningf(ctx, "claim mastership failed: %v", err)
		return
	}
	if !claimed {
		return
	}
	c.state.MyLease = proposedLease
	log.Ops.Infof(ctx, "tso instance %s promoted to master, prevReservedTimeThreshold=%d", c.instanceID, prevThresh)
	if err := c.setRoleLocked(ctx, true, prevThresh); err != nil {
		log.Warningf(ctx, "setRole(master) failed: %v", err)
	}
}

// suicideLocked implements suicide(): force every worker not-ready
// synchronously, bypassing the normal broadcast serialization, then signal
// process termination. Caller must hold c.mu.
func (c *Controller) suicideLocked(ctx context.Context) {
	c.state.PendingWCI.IsReadyToIssueTs = false
	if c.ForceNotReadyFunc != nil {
		c.ForceNotReadyFunc(ctx)
	}
	c.state.StopRequested = true
	if c.OnSuicide != nil {
		c.OnSuicide()
	}
}

// RunTimeSyncTick implements the time-sync timer duty: it never
// broadcasts directly, only updates pendingWCI fields the next heartbeat
// will ship.
func (c *Controller) RunTimeSyncTick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.StopRequested {
		return
	}
	taiDelta, uncertainty, err := c.clockSource.Now(ctx)
	if err != nil {
		c.clockFailures++
		log.Health.Warningf(ctx, "clock source unavailable (%d/%d consecutive), reusing last diffTAILocal=%d: %v",
			c.clockFailures, maxConsecutiveFailures, c.state.DiffTAILocal, err)
		if c.clockFailures >= maxConsecutiveFailures {
			c.clockDegraded = true
		}
		return
	}
	c.clockFailures = 0
	c.clockDegraded = false
	c.state.DiffTAILocal = taiDelta
	c.state.PendingWCI.TbeAdjustment = taiDelta
	if uncertainty > c.cfg.BatchWindowSize {
		c.clockUncertaintyClamped++
	}
	c.state.PendingWCI.TsDelta = clampUncertainty(uncertainty, c.cfg.BatchWindowSize)
}

// RunStatsTick implements the stats timer duty: collect every worker's
// counters and fold them into a ClusterStats snapshot.
func (c *Controller) RunStatsTick(ctx context.Context) ClusterStats {
	c.mu.Lock()
	var perWorker []WorkerStats
	if c.CollectStatsFunc != nil {
		perWorker = c.CollectStatsFunc(ctx)
	}
	clamped := c.clockUncertaintyClamped
	c.mu.Unlock()

	cs := aggregateStats(perWorker, clamped)
	log.VInfof(ctx, 1, "cluster stats: batches=%d timestamps=%d notReady=%d clampedUncertainty=%d",
		cs.TotalBatchesIssued, cs.TotalTimestampsIssued, cs.TotalNotReadyCount, cs.ClockUncertaintyClamped)

	c.mu.Lock()
	if c.Metrics != nil {
		c.Metrics.Update(cs, &c.lastStatsTotals)
	}
	c.mu.Unlock()
	return cs
}

// GetMasterURL implements the GET_TSO_MASTER_URL client-facing RPC: any
// core can answer it, hinting the known master URL if it isn't the master
// itself.
func (c *Controller) GetMasterURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.StopRequested {
		return "", ErrShuttingDown()
	}
	if c.state.IsMaster {
		return c.selfURL, nil
	}
	hint, err := c.consensus.LeaderURL(ctx)
	if err == nil {
		c.state.MasterURL = hint
	}
	return "", ErrNotMaster(c.state.MasterURL)
}

// GetWorkersURLs implements the GET_TSO_WORKERS_URLS client-facing RPC,
// served only by the controller.
func (c *Controller) GetWorkersURLs(ctx context.Context) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.StopRequested {
		return nil, ErrShuttingDown()
	}
	if !c.state.IsMaster {
		return nil, ErrNotMaster(c.state.MasterURL)
	}
	out := make([][]string, len(c.state.WorkerURLs))
	for i, u := range c.state.WorkerURLs {
		out[i] = []string{u}
	}
	return out, nil
}

// GracefulStop implements the service shell's shutdown sequence's
// controller half: run one final heartbeat cycle (bounded by timeout, an
// additive safety net beyond the documented "one full cycle" wait), then
// mark stopRequested so no further tick does any work, then exitCluster.
// stopRequested must stay false until the final cycle has actually run or
// timed out: RunHeartbeatTick bails immediately once it's set, so setting
// it first would make this "final cycle" a no-op.
func (c *Controller) GracefulStop(ctx context.Context, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		c.RunHeartbeatTick(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		log.Warningf(ctx, "gracefulStop timeout elapsed before final heartbeat cycle finished")
	}

	c.mu.Lock()
	c.state.StopRequested = true
	instanceID := c.instanceID
	c.mu.Unlock()
	return c.consensus.ExitCluster(ctx, instanceID)
}
