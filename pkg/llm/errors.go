package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransient marks failures worth retrying: rate limits, server
	// errors, timeouts and dropped connections.
	ErrTransient = errors.New("transient backend error")

	// ErrFatal marks failures that will not go away on retry, such as a bad
	// request or rejected credentials.
	ErrFatal = errors.New("fatal backend error")
)

// StatusError is a non-2xx HTTP response from a backend.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Body)
}

// Unwrap classifies the status: 408, 429 and 5xx are transient, every other
// status is fatal.
func (e *StatusError) Unwrap() error {
	if IsTransientStatus(e.Status) {
		return ErrTransient
	}
	return ErrFatal
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal wraps err as not retryable.
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsTransient reports whether err should be retried. Unclassified network
// errors and deadlines count as transient; cancellation does not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsFatal reports whether err is a terminal backend failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
