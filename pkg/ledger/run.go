package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunCounts aggregates per-window outcomes of a run.
type RunCounts struct {
	Windows      int `json:"windows"`
	Done         int `json:"done"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	Provisional  int `json:"provisional"`
	Degraded     int `json:"degraded"`
	Rejected     int `json:"rejected"`
	BackendCalls int `json:"backend_calls"`
	CacheHits    int `json:"cache_hits"`
	CacheMisses  int `json:"cache_misses"`
}

// RunRecord is the history row of one run.
type RunRecord struct {
	ID         uuid.UUID `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Refresh    string    `json:"refresh"`
	Counts     RunCounts `json:"counts"`
	Error      string    `json:"error,omitempty"`
}

// Duration is the wall time of a finished run.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore keeps run history.
type RunStore interface {
	// SaveRun inserts or replaces the record with the same ID.
	SaveRun(ctx context.Context, run RunRecord) error

	// ListRuns returns up to limit runs, most recent first. A limit of zero
	// or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
