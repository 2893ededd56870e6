// Copyright 2015 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cockroachdb/tso/pkg/base"
	"github.com/cockroachdb/tso/pkg/build"
	"github.com/cockroachdb/tso/pkg/tso"
	"github.com/cockroachdb/tso/pkg/tsoclock"
	"github.com/cockroachdb/tso/pkg/tsoconsensus"
	"github.com/cockroachdb/tso/pkg/tsopb"
	"github.com/cockroachdb/tso/pkg/util/log"
	"github.com/cockroachdb/tso/pkg/util/metric"
)

var startCfg = tso.DefaultConfig()
var startAdvertiseAddr string
var startHTTPAddr string

// startVerbosityFlag and startBatchTTLFlag are parsed into pflag's widest
// convenient integer types; runStart narrows them into startVerbosity and
// startCfg.BatchTTL once cobra has actually populated them; converting
// inside init() would run before flag parsing and always observe the zero
// value.
var startVerbosityFlag int
var startBatchTTLFlag uint32
var startVerbosity int32

// isInteractive indicates whether stdout refers to a terminal, the way the
// corpus's cli package decides between a human-readable and a
// machine-readable logging encoder.
var isInteractive = isatty.IsTerminal(os.Stdout.Fd())

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "output version information",
	Long:  `Output build version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(build.GetInfo().Short())
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start a tso instance",
	Long: `
Start a tso instance: boot the controller and worker cores, join the
cluster via the consensus store, and serve timestamp batches until
interrupted.
`,
	RunE: runStart,
}

func init() {
	cobra.EnableCommandSorting = false

	tsoCmd.AddCommand(
		startCmd,
		versionCmd,
	)

	f := startCmd.Flags()
	IntFlag(f, &startCfg.NumCores, flagCores, startCfg.NumCores)
	Uint32Flag(f, &startCfg.TsoID, flagTsoID, startCfg.TsoID)
	DurationFlag(f, &startCfg.HeartbeatInterval, flagHeartbeatInterval, startCfg.HeartbeatInterval)
	DurationFlag(f, &startCfg.TimeSyncInterval, flagTimeSyncInterval, startCfg.TimeSyncInterval)
	DurationFlag(f, &startCfg.StatsInterval, flagStatsInterval, startCfg.StatsInterval)
	DurationFlag(f, &startCfg.BatchWindowSize, flagBatchWindowSize, startCfg.BatchWindowSize)
	Uint32Flag(f, &startBatchTTLFlag, flagBatchTTL, uint32(startCfg.BatchTTL))
	DurationFlag(f, &startCfg.LeaseSlack, flagLeaseSlack, startCfg.LeaseSlack)
	StringFlag(f, &startAdvertiseAddr, flagAdvertiseAddr, "127.0.0.1:"+base.DefaultPort)
	StringFlag(f, &startHTTPAddr, flagHTTPAddr, ":"+base.DefaultHTTPPort)
	StringFlag(f, &startCfg.GraphiteEndpoint, flagGraphiteEndpoint, "")
	IntFlag(f, &startVerbosityFlag, flagVerbosity, 0)
}

// tsoCmd is the root command, the way cockroachCmd roots the corpus's CLI.
var tsoCmd = &cobra.Command{
	Use:   "tso [command] (flags)",
	Short: "TSO timestamp oracle command-line interface and server",
	Long:  `TSO timestamp oracle command-line interface and server.`,
}

// Run executes the CLI with the given arguments, the package's sole public
// entry point (called from cmd/tso/main.go).
func Run(args []string) error {
	tsoCmd.SetArgs(args)
	return tsoCmd.Execute()
}

// runStart wires up a single-process TSO instance against in-memory
// reference implementations of the consensus store and clock source (no
// real transport or hardware clock is in scope here) and runs it until
// SIGINT/SIGTERM, performing a graceful shutdown on the way out.
func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	startVerbosity = int32(startVerbosityFlag)
	startCfg.BatchTTL = uint16(startBatchTTLFlag)
	log.SetVerbosity(startVerbosity)
	if isInteractive {
		if devLogger, err := zap.NewDevelopment(); err == nil {
			log.SetOutput(devLogger)
		}
	}

	workerURLs := make([]string, startCfg.NumWorkers())
	for i := range workerURLs {
		workerURLs[i] = fmt.Sprintf("%s/worker/%d", startAdvertiseAddr, i)
	}

	instanceID := tsopb.NewInstanceID()
	consensus := tsoconsensus.NewInMemoryClient()
	clockSource := tsoclock.NewInMemorySource(0, startCfg.BatchWindowSize)

	shell, err := tso.NewShell(startCfg, instanceID, startAdvertiseAddr, workerURLs, consensus, clockSource)
	if err != nil {
		return err
	}

	reg := metric.NewRegistry()
	shell.SetMetrics(reg, tso.NewMetrics(reg))
	for _, r := range tso.DefaultAlertingRules() {
		log.VInfof(ctx, 1, "loaded alerting rule %s: %s", r.Name(), r.Expr())
	}

	if err := shell.Start(ctx); err != nil {
		return err
	}
	log.Ops.Infof(ctx, "tso instance %s started, advertising %s with %d workers",
		instanceID, startAdvertiseAddr, startCfg.NumWorkers())

	metricsSrv := metric.NewServer(startHTTPAddr, metric.MakePrometheusExporter(reg))
	go func() {
		if err := metricsSrv.Serve(); err != nil {
			log.Ops.Warningf(ctx, "metrics server on %s stopped: %v", startHTTPAddr, err)
		}
	}()
	log.Ops.Infof(ctx, "tso instance %s serving metrics on %s", instanceID, startHTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Ops.Infof(ctx, "tso instance %s shutting down", instanceID)
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(stopCtx); err != nil {
		log.Ops.Warningf(ctx, "metrics server shutdown: %v", err)
	}
	return shell.GracefulStop(stopCtx, 5*time.Second)
}
