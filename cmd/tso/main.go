// Copyright 2014 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// This is the entry point for the tso binary.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/tso/pkg/cli"
	"github.com/cockroachdb/tso/pkg/cli/exit"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exit.UnspecifiedError().AsInt())
	}
}
