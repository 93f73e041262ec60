package ledger

import "github.com/papercomputeco/spool/pkg/identity"

// Decision is what the orchestrator should do with a stage.
type Decision int

const (
	// Run executes the stage.
	Run Decision = iota

	// Skip leaves a finished stage alone.
	Skip

	// Finalize promotes a provisional stage to done without recomputing it:
	// a later run observed the same inputs, so the window is settled.
	Finalize

	// SkipFailed leaves a terminally failed stage alone until its inputs
	// change.
	SkipFailed
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Skip:
		return "skip"
	case Finalize:
		return "finalize"
	case SkipFailed:
		return "skip-failed"
	}
	return "unknown"
}

// Decide compares a stored record with the current input hash. Pending
// records left behind by a crash are treated like absent ones.
func Decide(r Record, inputHash identity.ID) Decision {
	if r.InputHash != inputHash {
		return Run
	}

	switch r.Status {
	case StatusDone:
		return Skip
	case StatusProvisional:
		return Finalize
	case StatusFailed:
		if r.Terminal {
			return SkipFailed
		}
	}
	return Run
}
