// Package obslog is the zap-backed implementation of log.Logger.
package obslog

import (
	"go.uber.org/zap"

	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
	base  *zap.Logger
}

var _ log.Logger = (*zapLogger)(nil)

// NewProduction returns a Logger backed by zap's production configuration
// (JSON encoding, info level and above).
func NewProduction() (log.Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return wrap(base), nil
}

// NewDevelopment returns a Logger backed by zap's development configuration
// (console encoding, debug level and above, stack traces on warn+).
func NewDevelopment() (log.Logger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return wrap(base), nil
}

// NewNop returns a Logger that discards everything, for tests that want to
// pass a non-nil logger without asserting on its output.
func NewNop() log.Logger {
	return wrap(zap.NewNop())
}

func wrap(base *zap.Logger) log.Logger {
	return &zapLogger{base: base, sugar: base.Sugar()}
}

func (l *zapLogger) Debug(msg string) { l.sugar.Debug(msg) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(msg string)  { l.sugar.Info(msg) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(msg string)  { l.sugar.Warn(msg) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(msg string) { l.sugar.Error(msg) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatal(msg string) { l.sugar.Fatal(msg) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

func (l *zapLogger) With(args ...interface{}) log.Logger {
	return wrap(l.base.Sugar().With(args...).Desugar())
}

func (l *zapLogger) Sync() error { return l.base.Sync() }

func (l *zapLogger) GetZapLogger() *zap.Logger { return l.base }
