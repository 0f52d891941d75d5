// Package logging provides structured logging for the engine using slog.
//
// One handler per Init, JSON or human-readable text (Options.JSON),
// writing to the console and, when Options.Dir is set, also to a
// lumberjack-rotated file; both outputs get the same format. Per-component
// loggers carry a "component" attribute so RAC/PH/SO/WG output can be
// filtered independently.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu          sync.RWMutex
	base        *slog.Logger
	levelVar    = new(slog.LevelVar)
	initialized bool
)

// Options configures the global logging sinks.
type Options struct {
	Dir        string // directory for rotated log files; empty disables file logging
	Level      slog.Level
	JSON       bool // true: JSON console output, false: human-readable text
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func defaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// Init sets up the global logger. Safe to call once at process startup;
// subsequent calls replace the sinks (used by tests and config reloads).
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if opts.MaxSizeMB == 0 {
		d := defaultOptions()
		opts.MaxSizeMB, opts.MaxBackups, opts.MaxAgeDays = d.MaxSizeMB, d.MaxBackups, d.MaxAgeDays
	}
	levelVar.Set(opts.Level)

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return fmt.Errorf("logging: create log dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "engine.log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	out := io.MultiWriter(writers...)
	handlerOpts := &slog.HandlerOptions{Level: levelVar, ReplaceAttr: replaceAttr}
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	base = slog.New(handler)
	initialized = true
	return nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return a
}

// SetLevel adjusts the dynamic log level without reinitializing sinks.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// ForService returns a logger tagged with the given component name. If Init
// has not been called, falls back to slog.Default() so packages can log
// safely during early startup or in unit tests.
func ForService(component string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !initialized || base == nil {
		return slog.Default().With("component", component)
	}
	return base.With("component", component)
}
