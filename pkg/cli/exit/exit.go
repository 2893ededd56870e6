// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package exit defines the process exit codes the tso binary can
// terminate with. Using named constructors instead of bare ints (see
// codes.go) means a call site like os.Exit(exit.NotEnoughCores().AsInt())
// is self-documenting at the call site and grep-able by name.
package exit

import "strconv"

// Code is an opaque process exit code. The zero Code is not meaningful on
// its own; always obtain one from a constructor in codes.go.
type Code struct {
	value int
}

// AsInt returns the raw exit code, for passing to os.Exit.
func (c Code) AsInt() int {
	return c.value
}

// String implements fmt.Stringer.
func (c Code) String() string {
	return strconv.Itoa(c.value)
}
