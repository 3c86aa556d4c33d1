package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureKind is the closed set of failure signals the state machine handles.
// Port adapters translate collaborator-specific errors into one of these so
// the engine never depends on an SDK's error types.
type FailureKind string

const (
	// FailureRetryable marks transient faults worth retrying with backoff.
	FailureRetryable FailureKind = "retryable"
	// FailureValidation marks locally rejected output, never retried.
	FailureValidation FailureKind = "validation"
	// FailureFatal marks non-retryable collaborator failures.
	FailureFatal FailureKind = "fatal"
)

// PortError wraps a collaborator error with its port name and failure kind.
type PortError struct {
	Port string
	Kind FailureKind
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s port %s failure: %v", e.Port, e.Kind, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// NewPortError builds a classified port error.
func NewPortError(port string, kind FailureKind, err error) *PortError {
	return &PortError{Port: port, Kind: kind, Err: err}
}

// Retryable wraps err as a transient failure of the named port.
func Retryable(port string, err error) *PortError {
	return NewPortError(port, FailureRetryable, err)
}

// Validation wraps err as a local validation rejection at the port boundary.
func Validation(port string, err error) *PortError {
	return NewPortError(port, FailureValidation, err)
}

// Fatal wraps err as a non-retryable failure of the named port.
func Fatal(port string, err error) *PortError {
	return NewPortError(port, FailureFatal, err)
}

// Classify wraps an untyped collaborator error, sniffing transient markers
// (rate limits, 5xx, timeouts) to decide retryability.
func Classify(port string, err error) *PortError {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe
	}
	if isTransient(err) {
		return Retryable(port, err)
	}
	return Fatal(port, err)
}

// KindOf extracts the failure kind, defaulting untyped errors to fatal.
func KindOf(err error) FailureKind {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if isTransient(err) {
		return FailureRetryable
	}
	return FailureFatal
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"timeout", "ECONNRESET", "ETIMEDOUT", "connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
