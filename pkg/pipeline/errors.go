package pipeline

import (
	"fmt"

	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
)

// StageError reports the failure of one stage of one window. Window
// failures are isolated: the run continues with the next window.
type StageError struct {
	Window      identity.ID
	Index       int
	Stage       ledger.Stage
	Fingerprint identity.ID

	// Terminal failures are not retried until the stage inputs change.
	Terminal bool

	Err error
}

func (e *StageError) Error() string {
	if e.Fingerprint == identity.Nil {
		return fmt.Sprintf("window %d (%s) %s: %v", e.Index, e.Window, e.Stage, e.Err)
	}
	return fmt.Sprintf("window %d (%s) %s [fingerprint %s]: %v", e.Index, e.Window, e.Stage, e.Fingerprint, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StoreError reports that the cache or the ledger could not be read or
// written. It aborts the run, since progress can no longer be recorded.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
