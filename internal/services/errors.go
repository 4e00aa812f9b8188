package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks recoverable failures (network, timeout, busy engine).
	// Transient failures trigger retry with backoff and never alone cause
	// abandonment.
	ErrTransient = errors.New("transient failure")
	// ErrNotFound marks candidates that no longer exist at the source.
	// Permanent; the job is abandoned and never retried.
	ErrNotFound = errors.New("not found")
	// ErrBudget marks budget-controller failures. These raise operator alerts
	// only and must never affect admission or download paths.
	ErrBudget = errors.New("budget insufficient")
	// ErrDuplicate marks re-enqueues of an already-queued candidate. Absorbed
	// as a no-op, never surfaced as a failure.
	ErrDuplicate = errors.New("duplicate candidate")
	// ErrConfiguration marks invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrExternalTool marks failures reported by an external collaborator
	// (engine, catalog, import pipeline) that are not clearly transient.
	ErrExternalTool = errors.New("external service error")
	// ErrTimeout marks deadline expiry talking to an external collaborator.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
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

// IsPermanent reports whether an error should terminate retries outright.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfiguration)
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
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
