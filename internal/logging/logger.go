// Package logging builds the slog loggers used across loadengine.
//
// Loggers are passed explicitly to the engine. The HTTP server stores its
// logger in each request context, and FromContext adds chi's request ID so
// every entry for a request can be correlated.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
)

// New returns a logger writing to w.
//
// Level values: "debug", "info", "warn", "error" (default: "info").
// Format values: "text", "json" (default: "text").
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup builds a stderr logger, also appending to file when it is set, and
// installs it as the slog default. Only main should call it. The returned
// func closes the log file.
func Setup(fs afero.Fs, level, format, file string) (*slog.Logger, func() error, error) {
	w, closeFn, err := Sink(fs, os.Stderr, file)
	if err != nil {
		return nil, nil, err
	}
	logger := New(level, format, w)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// Sink returns w unchanged when path is empty. Otherwise it opens path for
// append on fs, creating it if needed, and returns a writer to both.
func Sink(fs afero.Fs, w io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(w, f), f.Close, nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type ctxKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default, with the
// chi request ID attached when present.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithFields returns the context logger with additional fields.
//
//	runLogger := logging.WithFields(ctx, "run_id", id)
//	runLogger.Info("run started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
