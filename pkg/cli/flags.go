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
	"os"
	"time"

	"github.com/spf13/pflag"
)

// flagInfo is a minimal stand-in for the corpus's cliflags.FlagInfo: a
// flag's name, optional shorthand, env var fallback and usage text. The
// corpus's own cliflags package carries far more (deprecation, docs
// generation hooks) than a single binary with one real command needs.
type flagInfo struct {
	Name      string
	Shorthand string
	EnvVar    string
	Usage     string
}

func setFlagFromEnv(f *pflag.FlagSet, info flagInfo) {
	if info.EnvVar == "" {
		return
	}
	if value, set := os.LookupEnv(info.EnvVar); set {
		if err := f.Set(info.Name, value); err != nil {
			panic(err)
		}
	}
}

// StringFlag registers a string flag and applies its env var fallback.
func StringFlag(f *pflag.FlagSet, valPtr *string, info flagInfo, defaultVal string) {
	f.StringVarP(valPtr, info.Name, info.Shorthand, defaultVal, info.Usage)
	setFlagFromEnv(f, info)
}

// IntFlag registers an int flag and applies its env var fallback.
func IntFlag(f *pflag.FlagSet, valPtr *int, info flagInfo, defaultVal int) {
	f.IntVarP(valPtr, info.Name, info.Shorthand, defaultVal, info.Usage)
	setFlagFromEnv(f, info)
}

// Uint32Flag registers a uint32 flag and applies its env var fallback.
func Uint32Flag(f *pflag.FlagSet, valPtr *uint32, info flagInfo, defaultVal uint32) {
	f.Uint32VarP(valPtr, info.Name, info.Shorthand, defaultVal, info.Usage)
	setFlagFromEnv(f, info)
}

// DurationFlag registers a duration flag and applies its env var fallback.
func DurationFlag(f *pflag.FlagSet, valPtr *time.Duration, info flagInfo, defaultVal time.Duration) {
	f.DurationVarP(valPtr, info.Name, info.Shorthand, defaultVal, info.Usage)
	setFlagFromEnv(f, info)
}

// cliflags holds the flagInfo for every tso.ctrol_* configuration key,
// named to match the corpus's convention of a dedicated cliflags value per
// flag rather than inline string literals scattered through flags.go.
var (
	flagCores = flagInfo{
		Name: "cores", EnvVar: "TSO_CORES",
		Usage: "total execution contexts: core 0 runs the controller, the rest run workers (minimum 2)",
	}
	flagTsoID = flagInfo{
		Name: "tso-id", EnvVar: "TSO_ID",
		Usage: "identifies this instance in every timestamp it issues and breaks ties during handover",
	}
	flagHeartbeatInterval = flagInfo{
		Name: "heartbeat-interval", EnvVar: "TSO_HEARTBEAT_INTERVAL",
		Usage: "tso.ctrol_heart_beat_interval: lease renewal and control-broadcast cadence",
	}
	flagTimeSyncInterval = flagInfo{
		Name: "time-sync-interval", EnvVar: "TSO_TIME_SYNC_INTERVAL",
		Usage: "tso.ctrol_time_sync_interval: how often the clock source is polled for a fresh TAI offset",
	}
	flagStatsInterval = flagInfo{
		Name: "stats-interval", EnvVar: "TSO_STATS_UPDATE_INTERVAL",
		Usage: "tso.ctrol_stats_update_interval: how often per-worker counters are collected and exported",
	}
	flagBatchWindowSize = flagInfo{
		Name: "batch-window-size", EnvVar: "TSO_BATCH_WIN_SIZE",
		Usage: "tso.ctrol_ts_batch_win_size: floor applied to the per-batch uncertainty window",
	}
	flagBatchTTL = flagInfo{
		Name: "batch-ttl", EnvVar: "TSO_BATCH_TTL",
		Usage: "client-side expiry, in nanoseconds, stamped onto every issued timestamp batch",
	}
	flagLeaseSlack = flagInfo{
		Name: "lease-slack", EnvVar: "TSO_LEASE_SLACK",
		Usage: "slack term added to the proposed lease duration on top of 3x the heartbeat interval",
	}
	flagAdvertiseAddr = flagInfo{
		Name: "advertise-addr", EnvVar: "TSO_ADVERTISE_ADDR",
		Usage: "address this instance advertises to the consensus store and to clients",
	}
	flagVerbosity = flagInfo{
		Name: "verbosity", EnvVar: "TSO_LOG_VERBOSITY",
		Usage: "log.V() verbosity threshold",
	}
	flagHTTPAddr = flagInfo{
		Name: "http-addr", EnvVar: "TSO_HTTP_ADDR",
		Usage: "address the Prometheus /metrics endpoint is served on",
	}
	flagGraphiteEndpoint = flagInfo{
		Name: "graphite-endpoint", EnvVar: "TSO_GRAPHITE_ENDPOINT",
		Usage: "Carbon/Graphite server to push metrics to at stats-interval cadence; empty disables the push",
	}
)
