package remote

import (
	"errors"
	"fmt"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors should be retried with backoff: network failures, 5xx, 408, 429,
	// unparsable bodies.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail immediately: other 4xx responses.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps a backend failure with retry metadata.
type ClassifiedError struct {
	Op         string
	Category   ErrorCategory
	StatusCode int // 0 for non-HTTP errors
	Body       string
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: [%s] HTTP %d: %v", e.Op, e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("%s: [%s] %v", e.Op, e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

func categoryFor(status int) ErrorCategory {
	switch {
	case status == 408 || status == 429:
		return Recoverable
	case status >= 400 && status < 500:
		return Irrecoverable
	default:
		return Recoverable
	}
}

func newHTTPError(op string, status int, body string) *ClassifiedError {
	return &ClassifiedError{
		Op:         op,
		Category:   categoryFor(status),
		StatusCode: status,
		Body:       body,
		Underlying: fmt.Errorf("unexpected status %d", status),
	}
}

func newNetworkError(op string, err error) *ClassifiedError {
	return &ClassifiedError{Op: op, Category: Recoverable, Underlying: fmt.Errorf("network error: %w", err)}
}

func newDecodeError(op string, err error) *ClassifiedError {
	return &ClassifiedError{Op: op, Category: Recoverable, Underlying: fmt.Errorf("malformed response: %w", err)}
}

// IsIrrecoverable reports whether err should not be retried.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
