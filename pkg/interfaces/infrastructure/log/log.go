// Package log defines the structured logging interface every component in
// this module takes as a dependency. Implementations are expected to be
// zap-backed (see internal/obslog), but nothing outside this package knows
// that.
package log

import "go.uber.org/zap"

// Logger is the structured logging interface used throughout the host.
// Every method must be safe to call with a nil receiver check already done
// by the caller (components hold Logger behind a nil-checked field, not a
// guaranteed-non-nil one) so tests can omit a logger entirely.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	Fatal(msg string)
	Fatalf(format string, args ...interface{})

	// With returns a Logger annotated with additional structured fields.
	With(args ...interface{}) Logger

	// Sync flushes any buffered log entries.
	Sync() error

	// GetZapLogger exposes the underlying zap logger for callers that need
	// zap-native structured fields.
	GetZapLogger() *zap.Logger
}
