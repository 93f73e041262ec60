package storage

import "errors"

// ErrClosed is returned by drivers used after Close.
var ErrClosed = errors.New("storage: driver closed")

// UnavailableError wraps a backend failure that makes the store unusable,
// such as a refused connection or a locked database.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Op == "" {
		return "storage unavailable: " + e.Err.Error()
	}
	return "storage unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a requested record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}
