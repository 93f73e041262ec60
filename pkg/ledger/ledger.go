// Package ledger records durable per-window, per-stage progress so that an
// interrupted run resumes without repeating finished work.
//
// A stage is skipped only when its record is done and the stored input hash
// matches the hash of the current inputs. Wall-clock time and run identity
// play no part in that decision.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/spool/pkg/identity"
)

// Stage names one step of window processing.
type Stage string

const (
	// StageEnrich resolves lookups for the window's URLs and attachments.
	StageEnrich Stage = "enrich"

	// StageGenerate produces the window's artifact.
	StageGenerate Stage = "generate"

	// StageIndex embeds the artifact and inserts it into the retrieval index.
	StageIndex Stage = "index"

	// StageEmit publishes the finalized artifact to the document sink.
	StageEmit Stage = "emit"
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageEnrich, StageGenerate, StageIndex, StageEmit}
}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Status is the state of one (window, stage) record.
type Status string

const (
	StatusAbsent      Status = ""
	StatusPending     Status = "pending"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusProvisional Status = "provisional"
)

// Key addresses a record.
type Key struct {
	Window identity.ID `json:"window_id"`
	Stage  Stage       `json:"stage"`
}

func (k Key) String() string {
	return k.Window.String() + "/" + string(k.Stage)
}

// Record is the stored progress of one stage of one window.
type Record struct {
	Key

	Status    Status      `json:"status"`
	InputHash identity.ID `json:"input_hash"`

	// Output is an opaque reference to what the stage produced, such as a
	// cache fingerprint or artifact ID.
	Output string `json:"output,omitempty"`

	Reason   string `json:"reason,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`

	// Attempts counts how many times the stage was started.
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Failure describes why a stage failed.
type Failure struct {
	Reason string

	// Terminal failures are not retried until the stage inputs change.
	Terminal bool
}

// Filter selects records for List. Zero fields match everything.
type Filter struct {
	Window identity.ID
	Stage  Stage
	Status Status
}

// Matches reports whether r is selected by f.
func (f Filter) Matches(r Record) bool {
	if f.Window != identity.Nil && r.Window != f.Window {
		return false
	}
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if f.Status != StatusAbsent && r.Status != f.Status {
		return false
	}
	return true
}

// Ledger persists progress records. Every write is atomic.
type Ledger interface {
	// MarkPending records that a stage started with the given inputs.
	MarkPending(ctx context.Context, key Key, inputHash identity.ID) error

	// MarkDone records that a stage finished for the given inputs.
	MarkDone(ctx context.Context, key Key, inputHash identity.ID, output string) error

	// MarkProvisional records a finished stage of a partial window that has
	// not yet been confirmed by a later run.
	MarkProvisional(ctx context.Context, key Key, inputHash identity.ID, output string) error

	// MarkFailed records a failed stage.
	MarkFailed(ctx context.Context, key Key, inputHash identity.ID, failure Failure) error

	// Status returns the record for key. A missing record is returned with
	// StatusAbsent and a nil error.
	Status(ctx context.Context, key Key) (Record, error)

	// List returns the records selected by filter.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Reset deletes every record of the given stages so they run again.
	Reset(ctx context.Context, stages ...Stage) (int, error)
}
