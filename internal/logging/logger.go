// Package logging provides structured logging for the bridge process.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Logger wraps slog.Logger with component scoping.
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or file path
	Component string
}

// New creates a new logger instance.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writer io.Writer
	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = file
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	component := cfg.Component
	if component == "" {
		component = "bridge"
	}

	l := slog.New(handler).With("component", component)

	return &Logger{Logger: l, component: component}, nil
}

// Initialize sets up the global logger with configuration.
func Initialize(level, format, output string) error {
	var initErr error
	once.Do(func() {
		l, err := New(Config{Level: level, Format: format, Output: output, Component: "bridge"})
		if err != nil {
			initErr = fmt.Errorf("initialize logger: %w", err)
			return
		}
		globalLogger = l
		globalLogger.Info("logger initialized", "level", level, "format", format, "output", output)
	})
	return initErr
}

// Global returns the global logger, falling back to defaults if Initialize
// was never called (e.g. in tests).
func Global() *Logger {
	if globalLogger == nil {
		l, _ := New(Config{Level: "info", Format: "text", Output: "stdout", Component: "bridge"})
		return l
	}
	return globalLogger
}

// WithComponent returns a logger scoped to the named component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), component: component}
}

// WithFields returns a logger with the given key/value pairs attached.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), component: l.component}
}
