package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrDaemonStartup reports that the engine daemon could not be launched.
	ErrDaemonStartup = errors.New("engine daemon startup failed")
	// ErrDaemonUnreachable reports that the client exhausted its retry budget.
	ErrDaemonUnreachable = errors.New("engine daemon unreachable")
	// ErrDaemonDead reports that the engine recorded a fatal startup error.
	ErrDaemonDead = errors.New("engine daemon dead")
	// ErrDaemonStopped reports that the daemon was stopped on request.
	ErrDaemonStopped = errors.New("engine daemon stopped")
)

// Outcome labels used in render history and status output.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeDead        = "dead"
	OutcomeUnreachable = "unreachable"
	OutcomeTimeout     = "timeout"
	OutcomeFailed      = "failed"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Outcome maps a render error to the label persisted in history.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrDaemonDead), errors.Is(err, ErrDaemonStopped):
		return OutcomeDead
	case errors.Is(err, ErrDaemonUnreachable):
		return OutcomeUnreachable
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
