// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tso

import "time"

// Config holds every tunable named in the external interfaces section: the
// three controller timer periods, the uncertainty-window floor, and the
// instance identity. Field names mirror the tso.ctrol_* configuration keys;
// pkg/cli wires these to pflag flags with env var fallback, the same pattern
// the rest of the corpus uses for its own flags.
type Config struct {
	// NumCores is the total number of execution contexts for this process,
	// core 0 is always the controller and cores [1, NumCores) are workers.
	// Must be >= 2 (see ErrNotEnoughCores).
	NumCores int

	// TsoID identifies this TSO instance in every Timestamp it issues, and
	// is the tie-break key when two racing instances' timestamps share a
	// TEndTAI during a handover window.
	TsoID uint32

	// HeartbeatInterval is tso.ctrol_heart_beat_interval: the lease renewal
	// cadence and, correspondingly, the master's control-broadcast cadence.
	HeartbeatInterval time.Duration

	// TimeSyncInterval is tso.ctrol_time_sync_interval: how often the
	// controller polls the hardware clock source for a fresh TAI offset.
	TimeSyncInterval time.Duration

	// StatsInterval is tso.ctrol_stats_update_interval: how often the
	// controller collects and logs/exports per-worker counters.
	StatsInterval time.Duration

	// BatchWindowSize is tso.ctrol_ts_batch_win_size: the floor applied to
	// the per-batch uncertainty window (WorkerControlInfo.TsDelta). Because
	// TsDelta is a wire-level uint16 nanosecond field (max 65.535µs), the
	// controller additionally clamps to that hard ceiling; see
	// clampUncertainty in controller.go and the corresponding DESIGN.md
	// entry.
	BatchWindowSize time.Duration

	// BatchTTL is the client-side expiry, in nanoseconds, stamped onto
	// every issued TimestampBatch.
	BatchTTL uint16

	// LeaseSlack is the "+1ms" term in the lease generation formula
	// TAI-now + 3*HeartbeatInterval + LeaseSlack. Broken out as a config
	// field rather than a hardcoded constant so tests can shrink it.
	LeaseSlack time.Duration

	// GraphiteEndpoint, if non-empty, is the Carbon/Graphite server the
	// service shell pushes this instance's metrics to at StatsInterval
	// cadence, alongside the Prometheus pull endpoint. Empty disables the
	// push path entirely.
	GraphiteEndpoint string
}

// DefaultConfig returns the configuration defaults named in the external
// interfaces section.
func DefaultConfig() Config {
	return Config{
		NumCores:           4,
		HeartbeatInterval:  10 * time.Millisecond,
		TimeSyncInterval:   10 * time.Millisecond,
		StatsInterval:      1 * time.Second,
		BatchWindowSize:    8 * time.Millisecond,
		BatchTTL:           5000,
		LeaseSlack:         1 * time.Millisecond,
	}
}

// maxTsDeltaNanos is the hard ceiling imposed by WorkerControlInfo.TsDelta's
// wire width (uint16 nanoseconds). A configured BatchWindowSize larger than
// this (the default of 8ms is, deliberately: see DESIGN.md's "uncertainty
// window units" entry) is clamped down to this value before ever being
// assigned to TsDelta.
const maxTsDeltaNanos = 65535

// NumWorkers returns the number of worker cores implied by this config.
func (c Config) NumWorkers() int {
	if c.NumCores <= 1 {
		return 0
	}
	return c.NumCores - 1
}
