// Copyright 2023 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	defer TestingOverrideTag("v1.2.3")()
	info := GetInfo()
	require.Equal(t, "v1.2.3", info.Tag)
	require.NotEmpty(t, info.GoVersion)
	require.NotEmpty(t, info.Platform)
}

func TestShort(t *testing.T) {
	defer TestingOverrideTag("v1.2.3")()
	info := GetInfo()
	info.Time = "2025/01/01 00:00:00"
	require.Contains(t, info.Short(), "v1.2.3")
	require.Contains(t, info.Short(), "2025/01/01 00:00:00")
}

func TestGoTime(t *testing.T) {
	info := Info{Time: "2025/06/15 12:30:00"}
	require.Equal(t, 2025, info.GoTime().Year())

	info.Time = "not a time"
	require.True(t, info.GoTime().IsZero())
}
