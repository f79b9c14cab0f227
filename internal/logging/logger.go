// Package logging configures the process-wide slog logger.
//
// Request handlers get a logger tagged with chi's request ID via FromContext;
// pipeline runs get one tagged with the run ID and operation kind via ForRun.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// Setup installs the default logger.
//
// Level: debug, info, warn, error (default info).
// Format: text or json (default text). Use json when logs are shipped.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

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

// FromContext returns the logger carried by ctx, or the default logger
// enriched with chi's request_id when one is present.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}

	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithLogger stores logger in ctx for downstream FromContext calls.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// ForRun returns a context whose logger carries the run's identity.
//
//	ctx, log := logging.ForRun(ctx, "ingest", runID, "trigger", "manual")
//	log.Info("ingest started")
func ForRun(ctx context.Context, kind, runID string, args ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(append([]any{"op", kind, "run_id", runID}, args...)...)
	return WithLogger(ctx, logger), logger
}
