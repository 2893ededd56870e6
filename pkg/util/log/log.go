// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides the ctx-first, leveled logging API used throughout
// the TSO core and control plane. It mirrors the shape of the logging
// package used elsewhere in the corpus (log.Infof(ctx, ...), log.V(n) guards
// for expensive debug logging, named channels for operational vs. health
// events) while being backed by go.uber.org/zap instead of a custom sink.
package log

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"go.uber.org/zap"
)

// verbosity gates VInfof calls; raised with SetVerbosity (normally from a
// --verbosity flag), defaults to 0 (only V(0) fires).
var verbosity atomic.Int32

// SetVerbosity adjusts the global V() threshold.
func SetVerbosity(level int32) {
	verbosity.Store(level)
}

// V reports whether logging at the given verbosity level is enabled. Callers
// guard expensive log argument construction with it:
//
//	if log.V(2) {
//		log.Infof(ctx, "expensive: %s", computeDebugString())
//	}
func V(level int32) bool {
	return verbosity.Load() >= level
}

var base *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// SetOutput replaces the underlying zap logger, e.g. to redirect to a file
// or to install a development (human-readable) encoder. Intended to be
// called once, early in process startup.
func SetOutput(l *zap.Logger) {
	if l != nil {
		base = l
	}
}

// tagsFromContext renders any logtags.Buffer attached to ctx (see
// WithLogTag) into zap fields, in order. Mirrors the corpus's ctx-scoped
// log-tag convention: tags like "core" or "tso-id" are attached once near
// the root of a goroutine and ride along on every subsequent log line.
func tagsFromContext(ctx context.Context) []zap.Field {
	buf := logtags.FromContext(ctx)
	if buf == nil {
		return nil
	}
	tags := buf.Get()
	fields := make([]zap.Field, len(tags))
	for i, t := range tags {
		fields[i] = zap.Any(t.Key(), t.Value())
	}
	return fields
}

func logf(ctx context.Context, level zapcoreLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fields := tagsFromContext(ctx)
	switch level {
	case levelInfo:
		base.Info(msg, fields...)
	case levelWarning:
		base.Warn(msg, fields...)
	case levelError:
		base.Error(msg, fields...)
	case levelFatal:
		base.Fatal(msg, fields...)
	}
}

// zapcoreLevel is a tiny local enum so this file doesn't need to import
// zapcore directly for the switch above.
type zapcoreLevel int

const (
	levelInfo zapcoreLevel = iota
	levelWarning
	levelError
	levelFatal
)

// Infof logs at info level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelInfo, format, args...)
}

// Warningf logs at warning level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelWarning, format, args...)
}

// Errorf logs at error level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelError, format, args...)
}

// Fatalf logs at fatal level and terminates the process. Reserved for
// conditions the service shell treats as unrecoverable (e.g.
// NotEnoughCores at startup).
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelFatal, format, args...)
	os.Exit(1)
}

// VInfof logs at info level if V(level) is enabled, avoiding the cost of the
// call entirely otherwise.
func VInfof(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	Infof(ctx, format, args...)
}

// InfofDepth logs at info level; depth is accepted for API compatibility
// with call sites that want to attribute the log line to a caller's frame
// (e.g. a logging adapter handed to a third-party library) but is otherwise
// unused since the zap backend here is not configured with caller skip.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	_ = depth
	Infof(ctx, format, args...)
}

// Safe marks a value as safe to include verbatim in redacted log output,
// mirroring the corpus's use of redact.Safe for values like node IDs that
// carry no customer data. Use it when logging WCI fields and lease values:
// they are operational timing numbers, never user data.
func Safe(v interface{}) redact.SafeValue {
	return redact.Safe(v)
}

// WithLogTag attaches a key/value pair to ctx that every subsequent log call
// on that ctx (and any ctx derived from it) will render as a structured
// field.
func WithLogTag(ctx context.Context, key string, value interface{}) context.Context {
	buf := logtags.FromContext(ctx)
	if buf == nil {
		buf = &logtags.Buffer{}
	}
	buf = buf.Add(key, value)
	return logtags.WithTags(ctx, buf)
}

// Channel is a named sub-logger, mirroring the corpus's log.Ops / log.Health
// convention for routing a component's messages to an operationally
// distinct stream while sharing the same backend and tag plumbing.
type Channel struct {
	name string
}

// Ops carries messages about cluster membership, lease acquisition and
// handover: the events an operator watching the fleet cares about.
var Ops = Channel{name: "ops"}

// Health carries messages about clock sync and consensus RPC health: the
// events that precede a suicide() or a paused worker.
var Health = Channel{name: "health"}

func (c Channel) field() zap.Field {
	return zap.String("channel", c.name)
}

// Infof logs an info-level message on this channel.
func (c Channel) Infof(ctx context.Context, format string, args ...interface{}) {
	base.Info(fmt.Sprintf(format, args...), append(tagsFromContext(ctx), c.field())...)
}

// Warningf logs a warning-level message on this channel.
func (c Channel) Warningf(ctx context.Context, format string, args ...interface{}) {
	base.Warn(fmt.Sprintf(format, args...), append(tagsFromContext(ctx), c.field())...)
}

// Shoutf logs at the given severity and also mirrors the message so it is
// guaranteed to reach an operator even if normal log output is quiesced
// (e.g. during suicide()). Mirrors the corpus's log.Ops.Shoutf use at
// cluster-name mismatch in pkg/rpc/heartbeat.go.
func (c Channel) Shoutf(ctx context.Context, sev Severity, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fields := append(tagsFromContext(ctx), c.field())
	switch sev {
	case SeverityError, SeverityFatal:
		base.Error(msg, fields...)
	case SeverityWarning:
		base.Warn(msg, fields...)
	default:
		base.Info(msg, fields...)
	}
}

// Severity is the small set of levels Shoutf accepts.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)
