package logging

import (
	"context"
	"log/slog"

	"orgrender/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldDaemon is the standardized key for the engine daemon name.
	FieldDaemon = "daemon"
	// FieldRequestID is the standardized key for render request identifiers.
	FieldRequestID = "request_id"
	// FieldAttempt is the standardized key for 1-based attempt numbers.
	FieldAttempt = "attempt"
	// FieldSource is the standardized key for render source paths.
	FieldSource = "source"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if name, ok := services.DaemonFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDaemon, name))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRequestID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
