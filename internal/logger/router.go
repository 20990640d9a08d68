package logger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Embedded IANA database so configured timezones resolve on every platform.
	_ "time/tzdata"
)

const (
	// traceLevelValue sits below slog.LevelDebug
	traceLevelValue = slog.Level(-8)

	// maxLevelWidth pads console level names
	maxLevelWidth = 5

	logDirPermissions = 0o700
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal installs the process wide logger. Call it once after configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the process wide logger. Before SetGlobal it returns a
// console logger at info level.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = &CentralLogger{
			config:   &LoggingConfig{DefaultLevel: DefaultLogLevel},
			timezone: time.Local,
			base:     newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
			sinks:    map[string]*fileSink{},
		}
	}
	return globalLogger
}

// CentralLogger routes module loggers to the console, the main JSON log file
// and optional dedicated per-module files.
type CentralLogger struct {
	config   *LoggingConfig
	timezone *time.Location
	base     slog.Handler

	mu    sync.RWMutex
	main  *fileSink
	sinks map[string]*fileSink // keyed by file path; modules may share a file
}

// NewCentralLogger builds a logger from cfg. Missing sections get defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{config: cfg, timezone: tz, sinks: map[string]*fileSink{}}

	var handlers []slog.Handler
	if cfg.Console != nil && cfg.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.FileOutput != nil && cfg.FileOutput.Enabled {
		sink, err := openFileSink(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		cl.main = sink
		handlers = append(handlers, newJSONHandler(sink, parseLogLevel(cfg.FileOutput.Level)))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cfg.DefaultLevel), tz))
	}
	cl.base = fanout(handlers...)

	for module, out := range cfg.ModuleOutputs {
		if !out.Enabled || cl.sinks[out.FilePath] != nil {
			continue
		}
		sink, err := openFileSink(out.FilePath)
		if err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("module %s: %w", module, err)
		}
		cl.sinks[out.FilePath] = sink
	}

	return cl, nil
}

// Module returns a logger for name. A module with a dedicated output writes
// there, and to the console when ConsoleAlso is set; others use the base outputs.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level := parseLogLevel(cl.config.DefaultLevel)
	if lvl, ok := cl.config.ModuleLevels[name]; ok {
		level = parseLogLevel(lvl)
	}

	handler := cl.base
	if out, ok := cl.config.ModuleOutputs[name]; ok && out.Enabled {
		if out.Level != "" {
			level = parseLogLevel(out.Level)
		}
		var handlers []slog.Handler
		if sink := cl.sinks[out.FilePath]; sink != nil {
			handlers = append(handlers, newJSONHandler(sink, level))
		}
		if out.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
			handlers = append(handlers, newTextHandler(os.Stdout, level, cl.timezone))
		}
		if len(handlers) > 0 {
			handler = fanout(handlers...)
		}
	}

	return &moduleLogger{
		module:   name,
		logger:   slog.New(handler),
		level:    level,
		timezone: cl.timezone,
	}
}

// Flush writes buffered file output to the OS.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for _, sink := range cl.allSinks() {
		errs = append(errs, sink.Flush())
	}
	return errors.Join(errs...)
}

// Close flushes and closes every log file. Loggers created earlier keep
// working for console output only.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs []error
	for _, sink := range cl.allSinks() {
		errs = append(errs, sink.Close())
	}
	cl.main = nil
	cl.sinks = map[string]*fileSink{}
	return errors.Join(errs...)
}

func (cl *CentralLogger) allSinks() []*fileSink {
	sinks := make([]*fileSink, 0, len(cl.sinks)+1)
	if cl.main != nil {
		sinks = append(sinks, cl.main)
	}
	for _, s := range cl.sinks {
		sinks = append(sinks, s)
	}
	return sinks
}

// ensureFileDirectory creates the parent directory of path.
func ensureFileDirectory(path string) error {
	dir := filepath.Dir(path)
	if path == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
