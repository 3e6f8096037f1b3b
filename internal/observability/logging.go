// Package observability builds the process logger, carries per-transition
// log attributes on a context and wires OpenTelemetry tracing.
package observability

import (
	"context"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/anchorstream/internal/logfields"
)

// LoggerOptions selects the handler and level of a logger.
type LoggerOptions struct {
	Level slog.Level
	JSON  bool
}

// NewLogger returns a slog logger writing to w.
func NewLogger(w io.Writer, opts LoggerOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// LogContext holds structured logging context information.
type LogContext struct {
	Transition   string
	TransitionID string
	RequestID    string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithTransition records the transition name and id on the context.
func WithTransition(ctx context.Context, name, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.Transition = name
	lc.TransitionID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithRequestID records the HTTP request id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	lc := extractLogContext(ctx)
	lc.RequestID = requestID
	return context.WithValue(ctx, logContextKey, lc)
}

// GetContext returns the structured log context carried by ctx.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// ContextAttrs returns the slog attributes carried by ctx.
func ContextAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := make([]slog.Attr, 0, 3)
	if lc.Transition != "" {
		attrs = append(attrs, logfields.Transition(lc.Transition))
	}
	if lc.TransitionID != "" {
		attrs = append(attrs, logfields.TransitionID(lc.TransitionID))
	}
	if lc.RequestID != "" {
		attrs = append(attrs, logfields.RequestID(lc.RequestID))
	}
	return attrs
}

// Log writes msg to logger (the default logger when nil) with the context
// attributes prepended.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, level, msg, append(ContextAttrs(ctx), attrs...)...)
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelInfo, msg, attrs...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelWarn, msg, attrs...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelError, msg, attrs...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelDebug, msg, attrs...)
}
