// SPDX-License-Identifier: Apache-2.0

// Package synclog is the logging surface shared by every component in this
// module. There is no package-level singleton: a Logger is threaded through
// each constructor, the same way pgroll threads a migrations.Logger through
// its Roll instance, so that tests can pass a no-op implementation instead
// of shelling out to a real sink.
package synclog

import "github.com/pterm/pterm"

// Logger is the logging surface used throughout the replication engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// Critical logs a resource-exhaustion or process-level failure — the
	// chunk/time budget being hit, or the catalog store being unreachable.
	Critical(msg string, args ...any)
}

type termLogger struct {
	logger pterm.Logger
}

// New returns a Logger backed by pterm's structured logger.
func New() Logger {
	return &termLogger{logger: pterm.DefaultLogger}
}

func (l *termLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.logger.Args(args...))
}

func (l *termLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

func (l *termLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(args...))
}

func (l *termLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.logger.Args(args...))
}

func (l *termLogger) Critical(msg string, args ...any) {
	l.logger.Error("CRITICAL: "+msg, l.logger.Args(args...))
}

type noopLogger struct{}

// NewNoop returns a Logger that discards everything — used by tests and by
// any component that hasn't been given a real sink.
func NewNoop() Logger {
	return &noopLogger{}
}

func (*noopLogger) Debug(string, ...any)    {}
func (*noopLogger) Info(string, ...any)     {}
func (*noopLogger) Warn(string, ...any)     {}
func (*noopLogger) Error(string, ...any)    {}
func (*noopLogger) Critical(string, ...any) {}
