// Package logging provides structured logging configuration using log/slog.
//
// Pipeline code retrieves loggers through FromContext so that every log
// entry emitted while a batch is in flight carries its batch_id, enabling
// correlation of all entries for a single ingestion run.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey struct{}

var batchIDKey contextKey

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithBatchID returns a context carrying the batch id for log enrichment.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// FromContext returns a logger enriched with batch context.
//
// When the context was created via WithBatchID, the returned logger
// automatically includes batch_id in all log entries.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("validation completed", "valid_rows", n)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if id, ok := ctx.Value(batchIDKey).(string); ok && id != "" {
		logger = logger.With("batch_id", id)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// This is useful for creating stage-specific loggers that carry
// consistent context through a multi-step run.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
