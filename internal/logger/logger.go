// Package logger provides structured logging setup for Forgeline.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/forgeline/forgeline/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
func New(cfg config.Logging) *slog.Logger {
	level := parseLevel(cfg.Level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("service", cfg.Service)
}

// WithTrace returns a logger that stamps every record with the trace id
// grouping one delegation's execution events.
func WithTrace(log *slog.Logger, traceID string) *slog.Logger {
	return log.With("trace_id", traceID)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
