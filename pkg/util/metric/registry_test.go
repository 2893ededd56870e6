// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterExportsUnderscoredName(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("tso.batches_issued", "help").Inc(3)

	mfs, err := MakePrometheusExporter(reg).Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "tso_batches_issued", mfs[0].GetName())
	require.Equal(t, float64(3), mfs[0].GetMetric()[0].GetCounter().GetValue())
}

func TestGaugeExportsUnderscoredName(t *testing.T) {
	reg := NewRegistry()
	reg.Gauge("tso.worker_count", "help").Update(4)

	mfs, err := MakePrometheusExporter(reg).Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "tso_worker_count", mfs[0].GetName())
	require.Equal(t, float64(4), mfs[0].GetMetric()[0].GetGauge().GetValue())
}

func TestCounterLookupByInternalDottedNameReturnsSameInstance(t *testing.T) {
	reg := NewRegistry()
	c1 := reg.Counter("tso.not_ready_total", "help")
	c2 := reg.Counter("tso.not_ready_total", "help")
	c1.Inc(1)
	c2.Inc(1)

	mfs, err := MakePrometheusExporter(reg).Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, float64(2), mfs[0].GetMetric()[0].GetCounter().GetValue())
}

func TestExportedNameReplacesDotsAndHyphens(t *testing.T) {
	require.Equal(t, "tso_not_ready_total", exportedName("tso.not_ready_total"))
	require.Equal(t, "tso_batch_ttl", exportedName("tso-batch-ttl"))
}
