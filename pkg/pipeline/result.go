package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
)

// WindowStatus is the outcome of one window in a run.
type WindowStatus string

const (
	// WindowDone means every stage completed in this run or an earlier one
	// and at least one stage ran now.
	WindowDone WindowStatus = "done"

	// WindowFailed means a stage failed. Later stages did not run.
	WindowFailed WindowStatus = "failed"

	// WindowSkipped means every stage was already done with the current
	// inputs. No backend was called.
	WindowSkipped WindowStatus = "skipped-cached"

	// WindowProvisional means the window is a trailing partial window. Its
	// artifact is generated but not indexed or emitted until a later run
	// confirms no further events arrived.
	WindowProvisional WindowStatus = "provisional"
)

// WindowResult reports one window of a run.
type WindowResult struct {
	WindowID   identity.ID  `json:"window_id"`
	Index      int          `json:"index"`
	Status     WindowStatus `json:"status"`
	ArtifactID identity.ID  `json:"artifact_id,omitempty"`

	// ContextDegraded is set when retrieval was unavailable and the window
	// was generated without historical context.
	ContextDegraded bool `json:"context_degraded,omitempty"`

	Partial bool  `json:"partial,omitempty"`
	Err     error `json:"-"`
}

// Summary reports a finished run.
type Summary struct {
	RunID      uuid.UUID          `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Refresh    cache.RefreshScope `json:"-"`
	Windows    []WindowResult     `json:"windows"`
	Counts     ledger.RunCounts   `json:"counts"`
}

// Failed returns the results of failed windows.
func (s *Summary) Failed() []WindowResult {
	var out []WindowResult
	for _, w := range s.Windows {
		if w.Status == WindowFailed {
			out = append(out, w)
		}
	}
	return out
}

func (s *Summary) add(r WindowResult) {
	s.Windows = append(s.Windows, r)
	s.Counts.Windows++
	switch r.Status {
	case WindowDone:
		s.Counts.Done++
	case WindowFailed:
		s.Counts.Failed++
	case WindowSkipped:
		s.Counts.Skipped++
	case WindowProvisional:
		s.Counts.Provisional++
	}
	if r.ContextDegraded {
		s.Counts.Degraded++
	}
}
