package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for session ID.
	SessionIDKey ContextKey = "session_id"
)

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestContext returns a context carrying a fresh trace ID.
func NewRequestContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return WithTraceID(ctx, NewTraceID())
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// LoggerFromContext returns a logger enriched with any tracing fields carried
// by the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}

	logCtx := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		logCtx = logCtx.Str("session_id", sessionID)
	}
	return logCtx.Logger()
}
