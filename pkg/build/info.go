// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package build

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// TimeFormat is the reference format for build.Time. Make sure it stays in
// sync with the string passed to the linker in the Makefile.
const TimeFormat = "2006/01/02 15:04:05"

var (
	// These variables are initialized via the linker -X flag when compiling
	// release binaries.
	tag      = "unknown" // Tag of this build (git describe --tags w/ optional '-dirty' suffix)
	utcTime  string      // Build time in UTC (year/month/day hour:min:sec)
	rev      string      // SHA-1 of this build (git rev-parse)
	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
	typ      string // Type of this build: <empty>, "development", or "release"
)

// Info describes a build of the tso binary.
type Info struct {
	GoVersion string
	Tag       string
	Time      string
	Revision  string
	Platform  string
	Type      string
}

func init() {
	if tagOverride := os.Getenv("TSO_TESTING_VERSION_TAG"); tagOverride != "" {
		tag = tagOverride
	}
}

// IsRelease returns true if the binary was produced by a "release" build.
func IsRelease() bool {
	return typ == "release"
}

// Short returns a pretty printed build and version summary.
func (b Info) Short() string {
	return fmt.Sprintf("tso %s (%s, built %s, %s)", b.Tag, b.Platform, b.Time, b.GoVersion)
}

// GoTime parses the build time and returns a time.Time, the zero value if
// unset or unparsable (e.g. a binary built outside the release process).
func (b Info) GoTime() time.Time {
	val, err := time.Parse(TimeFormat, b.Time)
	if err != nil {
		return time.Time{}
	}
	return val
}

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Tag:       tag,
		Time:      utcTime,
		Revision:  rev,
		Platform:  platform,
		Type:      typ,
	}
}

// TestingOverrideTag allows tests to override the build tag.
func TestingOverrideTag(t string) func() {
	prev := tag
	tag = t
	return func() { tag = prev }
}
