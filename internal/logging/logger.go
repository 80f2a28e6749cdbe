package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
}

// Logger wraps slog.Logger with secure logging practices
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// NewLoggerFromSettings creates a logger from application configuration
func NewLoggerFromSettings(logLevel, logFormat string, quiet bool) *Logger {
	var level LogLevel
	switch logLevel {
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	default:
		format = FormatText
	}

	return NewLogger(Config{Level: level, Format: format, Quiet: quiet})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// IsQuiet returns whether the logger is in quiet mode
func (l *Logger) IsQuiet() bool {
	return l.config.Quiet
}

// LogSessionOpen logs a device session being established. Identity file
// paths and credentials are never logged.
func (l *Logger) LogSessionOpen(name, host string, duration time.Duration) {
	l.Info("session established",
		"device", name,
		"host", host,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogSessionError logs a device session failure
func (l *Logger) LogSessionError(name, host string, err error) {
	l.Error("session failed",
		"device", name,
		"host", host,
		"error", err.Error(),
	)
}

// LogResolution logs the outcome of target resolution
func (l *Logger) LogResolution(expression string, resolved, unknown int, ipMode bool) {
	l.Info("targets resolved",
		"expression", expression,
		"resolved", resolved,
		"unknown", unknown,
		"ip_mode", ipMode,
	)
}

// LogFanoutStart logs the start of a fan-out operation
func (l *Logger) LogFanoutStart(operation string, deviceCount, workers int) {
	l.Info("fan-out started",
		"operation", operation,
		"device_count", deviceCount,
		"workers", workers,
	)
}

// LogFanoutComplete logs the completion of a fan-out operation
func (l *Logger) LogFanoutComplete(operation string, total, succeeded, failed int, duration time.Duration) {
	l.Info("fan-out completed",
		"operation", operation,
		"total", total,
		"succeeded", succeeded,
		"failed", failed,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogDeviceError logs a per-device operation failure. The batch continues.
func (l *Logger) LogDeviceError(operation, name string, err error, errorType string) {
	l.Error("device operation failed",
		"operation", operation,
		"device", name,
		"error", err.Error(),
		"error_type", errorType,
	)
}

// LogPoolCloseFailures logs the summary warning for sessions whose
// disconnect failed during pool teardown.
func (l *Logger) LogPoolCloseFailures(names []string) {
	l.Warn("failed to disconnect pooled sessions",
		"count", len(names),
		"devices", names,
	)
}
