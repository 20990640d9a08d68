package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewSlogLogger returns a standalone Logger writing text output to w.
// A nil writer logs to stderr, a nil timezone uses time.Local. It is used by
// command line tools and tests that do not need the central router.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stderr
	}
	if tz == nil {
		tz = time.Local
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, lvl, tz)),
		level:    lvl,
		timezone: tz,
	}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, time.UTC)
}
