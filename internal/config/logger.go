package config

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for installer operations.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// zapLogger adapts a zap SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debug(msg string, keysAndValues ...interface{}) { z.s.Debugw(msg, keysAndValues...) }
func (z *zapLogger) Info(msg string, keysAndValues ...interface{})  { z.s.Infow(msg, keysAndValues...) }
func (z *zapLogger) Warn(msg string, keysAndValues ...interface{})  { z.s.Warnw(msg, keysAndValues...) }
func (z *zapLogger) Error(msg string, keysAndValues ...interface{}) { z.s.Errorw(msg, keysAndValues...) }

// NewLogger builds the console logger used by the CLI, writing to w.
// verbose enables debug level and caller annotations. The returned func
// flushes buffered entries.
func NewLogger(w io.Writer, verbose bool) (Logger, func()) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		CallerKey:      "caller",
		MessageKey:     "msg",
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	sink := zapcore.Lock(zapcore.AddSync(w))

	opts := []zap.Option{zap.ErrorOutput(sink)}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}

	l := zap.New(zapcore.NewCore(encoder, sink, level), opts...)
	return FromZap(l), func() { _ = l.Sync() }
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}
