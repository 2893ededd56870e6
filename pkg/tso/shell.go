// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tso/pkg/cli/exit"
	"github.com/cockroachdb/tso/pkg/tsoclock"
	"github.com/cockroachdb/tso/pkg/tsoconsensus"
	"github.com/cockroachdb/tso/pkg/tsopb"
	"github.com/cockroachdb/tso/pkg/util/log"
	"github.com/cockroachdb/tso/pkg/util/metric"
	"golang.org/x/sync/errgroup"
)

// Shell assigns one process's cores to roles (core 0 runs the Controller,
// every other core runs a Worker behind a WorkerHandle) and wires the
// cross-core primitives the Controller needs to reach every worker:
// broadcasting a WorkerControlInfo, forcing workers not-ready on suicide,
// and collecting stats. It is the thing the start command in pkg/cli
// constructs and drives; Controller and Worker themselves know nothing
// about goroutines or channels.
type Shell struct {
	cfg Config

	controller *Controller
	workers    []*WorkerHandle
	workerURLs []string

	metricsReg *metric.Registry

	wg     sync.WaitGroup
	tasks  []*PeriodicTask
	cancel context.CancelFunc
}

// NewShell constructs a Shell for cfg. workerURLs must have exactly
// cfg.NumWorkers() entries, the transport addresses the controller hands
// back from GetWorkersURLs; selfURL is this process's own address, used
// both as the controller's master-hint and to tag consensus calls.
func NewShell(
	cfg Config,
	instanceID, selfURL string,
	workerURLs []string,
	consensus tsoconsensus.Client,
	clockSource tsoclock.Source,
) (*Shell, error) {
	if cfg.NumCores < 2 {
		return nil, ErrNotEnoughCores(cfg.NumCores)
	}
	numWorkers := cfg.NumWorkers()
	if len(workerURLs) != numWorkers {
		return nil, errors.AssertionFailedf(
			"NewShell: got %d worker URLs, want %d for NumCores=%d", len(workerURLs), numWorkers, cfg.NumCores)
	}

	workers := make([]*WorkerHandle, numWorkers)
	for i := 0; i < numWorkers; i++ {
		workers[i] = NewWorkerHandle(NewWorker(i, cfg.TsoID, RealMonotonicClock))
	}

	s := &Shell{
		cfg:        cfg,
		workers:    workers,
		workerURLs: workerURLs,
	}
	s.controller = NewController(cfg, cfg.TsoID, instanceID, selfURL, numWorkers, consensus, clockSource, RealMonotonicClock)
	s.controller.BroadcastFunc = s.broadcastWCI
	s.controller.ForceNotReadyFunc = s.forceNotReady
	s.controller.CollectStatsFunc = s.collectStats
	s.controller.OnSuicide = func() { os.Exit(exit.FatalError().AsInt()) }
	return s, nil
}

// Controller returns the shell's controller, for tests and for the
// client-facing RPC layer to call GetMasterURL/GetWorkersURLs directly.
func (s *Shell) Controller() *Controller { return s.controller }

// SetMetrics wires a *Metrics into the controller's stats timer and
// retains reg so armTimers can also arm the Graphite push task if
// cfg.GraphiteEndpoint is set. Kept separate from NewController's
// signature so metrics are optional: tests that don't care about
// Prometheus/Graphite output can skip this call entirely.
func (s *Shell) SetMetrics(reg *metric.Registry, m *Metrics) {
	s.metricsReg = reg
	s.controller.Metrics = m
}

// broadcastWCI fans wci out to every worker core concurrently and returns
// once every worker has acknowledged, implementing the concurrency
// design's "the broadcast completes only once every worker has
// acknowledged" rule. A single worker's failure aborts the whole
// broadcast; the controller logs and retries on the next tick.
func (s *Shell) broadcastWCI(ctx context.Context, wci tsopb.WorkerControlInfo) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, wh := range s.workers {
		wh := wh
		g.Go(func() error { return wh.ApplyControlInfo(gCtx, wci) })
	}
	return g.Wait()
}

// forceNotReady implements the cross-core half of suicide(): every worker
// is told to stop issuing timestamps, in parallel, before the controller
// terminates the process.
func (s *Shell) forceNotReady(ctx context.Context) {
	var wg sync.WaitGroup
	for _, wh := range s.workers {
		wh := wh
		wg.Add(1)
		go func() {
			defer wg.Done()
			wh.ForceNotReady(ctx)
		}()
	}
	wg.Wait()
}

// collectStats gathers every worker's counters concurrently for the stats
// timer. A worker that fails to respond (context canceled) is reported
// with a zero WorkerStats rather than dropped, so PerWorker stays aligned
// with worker index.
func (s *Shell) collectStats(ctx context.Context) []WorkerStats {
	out := make([]WorkerStats, len(s.workers))
	var wg sync.WaitGroup
	for i, wh := range s.workers {
		i, wh := i, wh
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := wh.ReportStats(ctx)
			if err == nil {
				out[i] = st
			}
		}()
	}
	wg.Wait()
	return out
}

// Start brings every worker core's loop up, bootstraps the controller
// (joining the cluster and assuming whichever role the consensus store
// hands back), and arms the periodic timers (see armTimers). It returns once
// Bootstrap completes; the timers and worker loops continue running on
// their own goroutines until GracefulStop.
func (s *Shell) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, wh := range s.workers {
		wh := wh
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			wh.Run(runCtx)
		}()
	}

	collect := func(context.Context) ([]string, error) { return s.workerURLs, nil }
	if err := s.controller.Bootstrap(ctx, collect); err != nil {
		cancel()
		return err
	}

	s.armTimers(runCtx)
	return nil
}

// armTimers starts the heartbeat, time-sync and stats PeriodicTasks,
// grounded on the corpus's ticker-driven, run-to-completion timer loop.
// If cfg.GraphiteEndpoint is set, it also arms a fourth task that pushes
// the stats registry to that endpoint at the same cadence as the stats
// timer.
func (s *Shell) armTimers(ctx context.Context) {
	s.tasks = []*PeriodicTask{
		NewPeriodicTask("heartbeat", s.cfg.HeartbeatInterval, s.controller.RunHeartbeatTick),
		NewPeriodicTask("time-sync", s.cfg.TimeSyncInterval, s.controller.RunTimeSyncTick),
		NewPeriodicTask("stats", s.cfg.StatsInterval, func(ctx context.Context) { s.controller.RunStatsTick(ctx) }),
	}
	if s.cfg.GraphiteEndpoint != "" && s.metricsReg != nil {
		ge := metric.MakeGraphiteExporter(metric.MakePrometheusExporter(s.metricsReg))
		endpoint := s.cfg.GraphiteEndpoint
		s.tasks = append(s.tasks, NewPeriodicTask("graphite-push", s.cfg.StatsInterval, func(ctx context.Context) {
			if err := ge.Push(ctx, endpoint); err != nil {
				log.Health.Warningf(ctx, "graphite push to %s failed: %v", endpoint, err)
			}
		}))
	}
	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t.Run(ctx)
		}()
	}
}

// GetTimestampBatch implements the hot-path client RPC, routed to the
// worker whose index the client was told to talk to by GetWorkersURLs.
func (s *Shell) GetTimestampBatch(
	ctx context.Context, workerIdx int, batchSizeRequested uint16,
) (tsopb.TimestampBatch, error) {
	if workerIdx < 0 || workerIdx >= len(s.workers) {
		return tsopb.TimestampBatch{}, errors.Newf("worker index %d out of range [0,%d)", workerIdx, len(s.workers))
	}
	return s.workers[workerIdx].GetTimestampBatch(ctx, batchSizeRequested)
}

// GetMasterURL implements the GET_TSO_MASTER_URL client RPC.
func (s *Shell) GetMasterURL(ctx context.Context) (string, error) {
	return s.controller.GetMasterURL(ctx)
}

// GetWorkersURLs implements the GET_TSO_WORKERS_URLS client RPC.
func (s *Shell) GetWorkersURLs(ctx context.Context) ([][]string, error) {
	return s.controller.GetWorkersURLs(ctx)
}

// GracefulStop implements the shutdown sequence: stop accepting new work
// at the controller (one final heartbeat cycle, then exitCluster), then
// tear down the timers and worker core loops. timeout bounds how long the
// final heartbeat cycle is allowed to take.
func (s *Shell) GracefulStop(ctx context.Context, timeout time.Duration) error {
	err := s.controller.GracefulStop(ctx, timeout)

	for _, t := range s.tasks {
		t.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	for _, wh := range s.workers {
		wh.Stop()
	}
	s.wg.Wait()

	if err != nil {
		log.Ops.Warningf(ctx, "gracefulStop: exitCluster failed: %v", err)
	}
	return err
}
