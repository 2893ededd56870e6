// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License included
// in the file licenses/BSL.txt and at www.mariadb.com/bsl11.
//
// Change Date: 2022-10-01
//
// On the date above, in accordance with the Business Source License, use
// of this software will be governed by the Apache License, Version 2.0,
// included in the file licenses/APL.txt and at
// https://www.apache.org/licenses/LICENSE-2.0

package base

const (
	// DefaultPort is the port in the start command's default
	// --advertise-addr (127.0.0.1:<DefaultPort>).
	DefaultPort = "26358"

	// DefaultHTTPPort is the default port the start command exposes its
	// Prometheus /metrics endpoint on.
	DefaultHTTPPort = "28080"
)
