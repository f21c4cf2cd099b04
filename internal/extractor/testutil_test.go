package extractor

import "github.com/nucleus/bridge-sync/internal/obslog"

// noopLogger satisfies obslog.LoggerI without emitting anything, for tests
// that construct an Extractor directly.
type noopLogger struct{}

func (noopLogger) Debug(args ...interface{})                 {}
func (noopLogger) Info(args ...interface{})                  {}
func (noopLogger) Warn(args ...interface{})                  {}
func (noopLogger) Error(args ...interface{})                 {}
func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}
func (noopLogger) IsDebugLevel() bool                         { return false }
func (noopLogger) Child(name string) obslog.LoggerI           { return noopLogger{} }
