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

	"github.com/cockroachdb/tso/pkg/tsoclock"
	"github.com/cockroachdb/tso/pkg/tsoconsensus"
	"github.com/cockroachdb/tso/pkg/tsopb"
	"github.com/cockroachdb/tso/pkg/util/metric"
)

// broadcastRecorder stubs Controller.BroadcastFunc, recording every WCI the
// controller tried to ship instead of fanning it out to real workers.
type broadcastRecorder struct {
	sent []tsopb.WorkerControlInfo
	err  error
}

func (r *broadcastRecorder) broadcast(ctx context.Context, wci tsopb.WorkerControlInfo) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, wci)
	return nil
}

func (r *broadcastRecorder) last() tsopb.WorkerControlInfo {
	return r.sent[len(r.sent)-1]
}

func newTestController(
	consensus tsoconsensus.Client, clockSource tsoclock.Source, monoClock MonotonicClock,
	instanceID, selfURL string,
) (*Controller, *broadcastRecorder) {
	cfg := DefaultConfig()
	cfg.NumCores = 3
	cfg.LeaseSlack = 0
	c := NewController(cfg, 1, instanceID, selfURL, cfg.NumWorkers(), consensus, clockSource, monoClock)
	rec := &broadcastRecorder{}
	c.BroadcastFunc = rec.broadcast
	// Tests drive timers explicitly; a real AfterFunc would fire on a
	// goroutine racing with assertions made immediately after setRoleLocked
	// returns.
	c.ScheduleFunc = func(d time.Duration, fn func()) {}
	return c, rec
}

func fixedWorkerURLs(urls ...string) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		return urls, nil
	}
}

func TestBootstrapBecomesMasterOnEmptyCluster(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)

	c, rec := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0", "w1")))

	st := c.State()
	require.True(t, st.IsMaster)
	require.Equal(t, "url-a", st.MasterURL)
	require.Equal(t, []string{"w0", "w1"}, st.WorkerURLs)
	require.Len(t, rec.sent, 1)
	require.True(t, rec.last().IsReadyToIssueTs)
	require.EqualValues(t, 2, rec.last().TbeNanoSecStep)
}

func TestBootstrapBecomesStandbyWhenMasterExists(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	// Seed a live master directly against the shared store. JoinCluster alone
	// records no lease expiry, so renew once to give inst-a a lease that
	// outlasts the joiner's clock reading below.
	_, _, err := consensus.JoinCluster(context.Background(), "inst-a", "url-a", 1000)
	require.NoError(t, err)
	_, _, err = consensus.RenewLease(context.Background(), "inst-a", 1000, 2_000_000, 2_000_000)
	require.NoError(t, err)

	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, rec := newTestController(consensus, clockSource, clock, "inst-b", "url-b")

	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0", "w1")))

	st := c.State()
	require.False(t, st.IsMaster)
	require.Len(t, rec.sent, 1)
	require.False(t, rec.last().IsReadyToIssueTs)
}

func TestBootstrapPropagatesClockUnavailable(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clockSource.InjectFailures(1)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")

	err := c.Bootstrap(context.Background(), fixedWorkerURLs("w0"))
	require.True(t, IsClockUnavailable(err))
}

func TestRunHeartbeatTickMasterSuicidesOnLeaseLost(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))
	require.True(t, c.State().IsMaster)

	var forcedNotReady, suicided bool
	c.ForceNotReadyFunc = func(ctx context.Context) { forcedNotReady = true }
	c.OnSuicide = func() { suicided = true }

	consensus.InjectLeaseLoss()
	c.RunHeartbeatTick(context.Background())

	require.True(t, forcedNotReady)
	require.True(t, suicided)
	require.True(t, c.State().StopRequested)
}

func TestRunHeartbeatTickMasterSuicidesAfterThreeConsecutiveFailures(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	var suicided bool
	c.OnSuicide = func() { suicided = true }

	consensus.InjectTransientFailures(maxConsecutiveFailures)
	for i := 0; i < maxConsecutiveFailures-1; i++ {
		c.RunHeartbeatTick(context.Background())
		require.False(t, suicided, "should not suicide before %d consecutive failures", maxConsecutiveFailures)
	}
	c.RunHeartbeatTick(context.Background())
	require.True(t, suicided)
}

func TestRunHeartbeatTickMasterRecoversAfterTransientFailure(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	var suicided bool
	c.OnSuicide = func() { suicided = true }

	consensus.InjectTransientFailures(maxConsecutiveFailures - 1)
	for i := 0; i < maxConsecutiveFailures-1; i++ {
		c.RunHeartbeatTick(context.Background())
	}
	require.False(t, suicided)
	// One more successful tick should reset the consecutive-failure counter.
	c.RunHeartbeatTick(context.Background())
	require.False(t, suicided)
}

func TestStandbyPromotesToMasterWhenLeaseExpires(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)

	masterClock := NewManualClock(1_000_000)
	master, _ := newTestController(consensus, clockSource, masterClock, "inst-master", "url-master")
	require.NoError(t, master.Bootstrap(context.Background(), fixedWorkerURLs("w0")))
	require.True(t, master.State().IsMaster)
	// Renew once so the store records a real future lease expiry; without
	// this, the zero-value leaseExpiresTAI would let the standby's own
	// Bootstrap claim mastership immediately below.
	master.RunHeartbeatTick(context.Background())

	standbyClock := NewManualClock(1_000_000)
	standby, standbyRec := newTestController(consensus, clockSource, standbyClock, "inst-standby", "url-standby")
	require.NoError(t, standby.Bootstrap(context.Background(), fixedWorkerURLs("w0")))
	require.False(t, standby.State().IsMaster)

	// Advance the standby's clock well past any lease the master could have
	// proposed (master.cfg.HeartbeatInterval default is 10ms, LeaseSlack 0 in
	// these tests) without the master ever renewing.
	standbyClock.Advance(1 * time.Second)
	standby.RunHeartbeatTick(context.Background())

	st := standby.State()
	require.True(t, st.IsMaster)
	require.Equal(t, "url-standby", st.MasterURL)
	require.NotEmpty(t, standbyRec.sent)
}

func TestSafeHandoverDefersReadinessUntilThresholdSafe(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, rec := newTestController(consensus, clockSource, clock, "inst-a", "url-a")

	var scheduled func()
	var scheduledAfter time.Duration
	c.ScheduleFunc = func(d time.Duration, fn func()) {
		scheduledAfter = d
		scheduled = fn
	}

	// Force setRoleLocked to see a prevReservedTimeThreshold beyond nowTAI by
	// seeding the store with a prior master whose threshold is in the future
	// relative to our clock.
	_, _, err := consensus.JoinCluster(context.Background(), "inst-prev", "url-prev", 1_000_000)
	require.NoError(t, err)
	_, _, err = consensus.RenewLease(context.Background(), "inst-prev", 1_000_000, 1_500_000, 2_000_000)
	require.NoError(t, err)
	// Expire inst-prev's lease so JoinCluster below hands mastership to c,
	// but stay below inst-prev's reserved time threshold so the handover
	// isn't immediately safe.
	clock.Set(1_900_000)

	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	st := c.State()
	require.True(t, st.IsMaster)
	require.EqualValues(t, 2_000_000, st.PrevReservedTimeThresh)
	require.False(t, rec.last().IsReadyToIssueTs, "must not be ready before crossing the previous threshold")
	require.NotNil(t, scheduled, "a deferred broadcast must be armed")
	require.Greater(t, scheduledAfter, time.Duration(0))

	// Simulate the wait elapsing and the deferred broadcast firing.
	clock.Set(2_000_001)
	scheduled()

	require.True(t, rec.last().IsReadyToIssueTs)
}

func TestRunTimeSyncTickClampsUncertaintyAndCounts(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 1*time.Millisecond)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	// Uncertainty far wider than the wire-level uint16 nanosecond ceiling.
	clockSource.SetUncertainty(1 * time.Second)
	c.RunTimeSyncTick(context.Background())

	cs := c.RunStatsTick(context.Background())
	require.EqualValues(t, 1, cs.ClockUncertaintyClamped)
	require.EqualValues(t, maxTsDeltaNanos, c.State().PendingWCI.TsDelta)
}

func TestRunTimeSyncTickReusesLastOffsetOnFailure(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(42, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))
	require.EqualValues(t, 42, c.State().DiffTAILocal)

	clockSource.InjectFailures(1)
	c.RunTimeSyncTick(context.Background())
	require.EqualValues(t, 42, c.State().DiffTAILocal)
}

func TestGetMasterURLHintsWhenNotMaster(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	// Seed a live master: join, then renew so inst-a holds a lease that
	// outlasts the joiner's clock reading below.
	_, _, err := consensus.JoinCluster(context.Background(), "inst-a", "url-a", 1000)
	require.NoError(t, err)
	_, _, err = consensus.RenewLease(context.Background(), "inst-a", 1000, 2_000_000, 2_000_000)
	require.NoError(t, err)

	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-b", "url-b")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	url, err := c.GetMasterURL(context.Background())
	require.Empty(t, url)
	hint, ok := IsNotMaster(err)
	require.True(t, ok)
	require.Equal(t, "url-a", hint)
}

func TestGetMasterURLAndWorkersURLsWhenMaster(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0", "w1")))

	url, err := c.GetMasterURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, "url-a", url)

	urls, err := c.GetWorkersURLs(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]string{{"w0"}, {"w1"}}, urls)
}

func TestGracefulStopExitsCluster(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))
	require.True(t, c.State().IsMaster)

	require.NoError(t, c.GracefulStop(context.Background(), time.Second))
	require.True(t, c.State().StopRequested)

	// ExitCluster should have released the lease: a fresh JoinCluster
	// immediately succeeds in becoming master.
	isMaster, _, err := consensus.JoinCluster(context.Background(), "inst-b", "url-b", 2_000_000)
	require.NoError(t, err)
	require.True(t, isMaster)
}

func TestRunStatsTickCollectsAndAggregates(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0", "w1")))

	c.CollectStatsFunc = func(ctx context.Context) []WorkerStats {
		return []WorkerStats{
			{BatchesIssued: 3, TimestampsIssued: 30, NotReadyCount: 1},
			{BatchesIssued: 5, TimestampsIssued: 50, NotReadyCount: 0},
		}
	}

	cs := c.RunStatsTick(context.Background())
	require.EqualValues(t, 8, cs.TotalBatchesIssued)
	require.EqualValues(t, 80, cs.TotalTimestampsIssued)
	require.EqualValues(t, 1, cs.TotalNotReadyCount)
	require.Len(t, cs.PerWorker, 2)
}

func TestRunStatsTickUpdatesMetrics(t *testing.T) {
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, 0)
	clock := NewManualClock(1_000_000)
	c, _ := newTestController(consensus, clockSource, clock, "inst-a", "url-a")
	require.NoError(t, c.Bootstrap(context.Background(), fixedWorkerURLs("w0")))

	reg := metric.NewRegistry()
	c.Metrics = NewMetrics(reg)
	c.CollectStatsFunc = func(ctx context.Context) []WorkerStats {
		return []WorkerStats{{BatchesIssued: 2, TimestampsIssued: 20}}
	}

	c.RunStatsTick(context.Background())
	require.Equal(t, float64(2), counterValue(t, reg, "tso_batches_issued"))
	require.Equal(t, float64(20), counterValue(t, reg, "tso_timestamps_issued"))

	// A second tick with cumulative totals should report the delta, not
	// double-count.
	c.CollectStatsFunc = func(ctx context.Context) []WorkerStats {
		return []WorkerStats{{BatchesIssued: 5, TimestampsIssued: 50}}
	}
	c.RunStatsTick(context.Background())
	require.Equal(t, float64(5), counterValue(t, reg, "tso_batches_issued"))
	require.Equal(t, float64(50), counterValue(t, reg, "tso_timestamps_issued"))
}

// counterValue scrapes reg through the same PrometheusExporter path a real
// /metrics handler would use, rather than reaching into Counter's internals.
func counterValue(t *testing.T, reg *metric.Registry, name string) float64 {
	t.Helper()
	mfs, err := metric.MakePrometheusExporter(reg).Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
