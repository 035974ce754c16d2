package services

import "context"

type contextKey string

const (
	daemonKey    contextKey = "daemon"
	requestIDKey contextKey = "request_id"
)

// WithDaemon annotates context with the engine daemon name.
func WithDaemon(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, daemonKey, name)
}

// DaemonFromContext returns the daemon name if present.
func DaemonFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(daemonKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
