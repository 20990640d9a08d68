package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type gormLogger struct {
	log  Logger
	slow time.Duration
}

// NewGormLogger routes GORM output to log. Statements are logged at trace
// level; failures and statements slower than slow (0 disables) at warn.
func NewGormLogger(log Logger, slow time.Duration) gormlogger.Interface {
	if log == nil {
		log = NewDiscardLogger()
	}
	return &gormLogger{log: log, slow: slow}
}

// LogMode is ignored; the module level applies.
func (g *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *gormLogger) Info(_ context.Context, msg string, data ...any) {
	g.log.Debug(fmt.Sprintf(msg, data...))
}

func (g *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	g.log.Warn(fmt.Sprintf(msg, data...))
}

func (g *gormLogger) Error(_ context.Context, msg string, data ...any) {
	g.log.Error(fmt.Sprintf(msg, data...))
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	stmt, rows := fc()
	fields := []Field{String("sql", stmt), Int64("rows", rows), Duration("took", took)}

	// a missing document is an ordinary lookup result
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		g.log.Warn("statement failed", append(fields, Error(err))...)
		return
	}
	if g.slow > 0 && took > g.slow {
		g.log.Warn("slow statement", fields...)
		return
	}
	g.log.Trace("statement", fields...)
}
