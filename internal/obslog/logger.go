// Package obslog provides the leveled, child-scoped logger used across bridge-sync.
package obslog

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerI is the logging surface every component depends on. Components never
// import zap directly; they take a LoggerI so the backend can be swapped in
// tests.
type LoggerI interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	IsDebugLevel() bool
	Child(name string) LoggerI
}

const envLevel = "BRIDGE_LOG_LEVEL"

var levelMap = map[string]zapcore.Level{
	"DEBUG": zapcore.DebugLevel,
	"INFO":  zapcore.InfoLevel,
	"WARN":  zapcore.WarnLevel,
	"ERROR": zapcore.ErrorLevel,
}

type zapLogger struct {
	sugar *zap.SugaredLogger
	level zapcore.Level
}

var (
	rootOnce sync.Once
	root     *zapLogger
)

// Root returns the process-wide root logger, built once from BRIDGE_LOG_LEVEL.
func Root() LoggerI {
	rootOnce.Do(func() {
		root = newZapLogger(resolveLevel())
	})
	return root
}

func resolveLevel() zapcore.Level {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv(envLevel)))
	if lvl, ok := levelMap[v]; ok {
		return lvl
	}
	return zapcore.InfoLevel
}

func newZapLogger(level zapcore.Level) *zapLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)

	logger := zap.New(core)
	return &zapLogger{sugar: logger.Sugar(), level: level}
}

func (l *zapLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *zapLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *zapLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *zapLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) IsDebugLevel() bool { return l.level <= zapcore.DebugLevel }

// Child returns a scoped logger carrying name as a "component" field, the
// same composition the teacher uses for
// logger.NewLogger().Child("batchrouter").Child(destType).
func (l *zapLogger) Child(name string) LoggerI {
	return &zapLogger{sugar: l.sugar.With("component", name), level: l.level}
}
