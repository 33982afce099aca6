package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceIDKey
)

// GenerateTraceID returns a fresh request trace ID.
func GenerateTraceID() string {
	return uuid.New().String()
}

// NewContext returns a context carrying the logger.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, falling back to the
// default logger so callers never get nil.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// WithTraceContext stamps ctx with a new trace ID and returns it along
// with a logger carrying the same ID, so logs across a request
// correlate.
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return NewContext(ctx, l), l
}

// TraceIDFromContext returns the trace ID stamped by WithTraceContext,
// or an empty string.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
