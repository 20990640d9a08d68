// Package logger provides module-scoped structured logging on top of log/slog.
//
// Components receive a Logger through their constructor and narrow it with
// Module:
//
//	log := central.Module("annotations")
//	log.Info("subscription opened", logger.String("container", name))
//
// The console gets text, log files get JSON.
package logger

import (
	"context"
	"time"
)

// LogLevel is a level name as written in configuration.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is one key/value pair attached to a record.
type Field struct {
	Key   string
	Value any
}

// Logger is implemented by every logger handed to components.
type Logger interface {
	// Module scopes the logger to a component. Nested calls join names with dots.
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)

	// With returns a logger that adds fields to every record.
	With(fields ...Field) Logger
	// WithContext picks up the trace id stored by WithTraceID.
	WithContext(ctx context.Context) Logger

	Flush() error
}

func String(key, value string) Field { return Field{key, value} }

func Int(key string, value int) Field { return Field{key, value} }

func Int64(key string, value int64) Field { return Field{key, value} }

func Float64(key string, value float64) Field { return Field{key, value} }

func Bool(key string, value bool) Field { return Field{key, value} }

func Duration(key string, value time.Duration) Field { return Field{key, value} }

func Strings(key string, values []string) Field { return Field{key, values} }

func Any(key string, value any) Field { return Field{key, value} }

// Error keys err under "error". A nil error logs as null.
func Error(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}
