package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	moduleKey  = "module"
	traceIDKey = "trace_id"

	// LogFilePermissions restricts log files to the owner.
	LogFilePermissions = 0o600
)

// newTextHandler returns the console handler: no timestamps, fixed-width upper-case
// levels and a TRACE label for the custom trace level.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, formatLevel(lvl))
			}
			if t, ok := a.Value.Any().(time.Time); ok && tz != nil {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	})
}

// newJSONHandler returns the file handler.
func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		},
	})
}

// formatLevel pads level names so console columns line up.
func formatLevel(level slog.Level) string {
	name := level.String()
	if level <= traceLevelValue {
		name = "TRACE"
	}
	if len(name) < maxLevelWidth {
		name += strings.Repeat(" ", maxLevelWidth-len(name))
	}
	return name
}

// parseSlogLevel maps a LogLevel to its slog.Level.
func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// fanoutHandler passes each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func fanout(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanoutHandler(handlers)
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes records by value
func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
