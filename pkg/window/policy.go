package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects the boundary condition that closes a window.
type Mode string

const (
	ModeTime  Mode = "time"
	ModeCount Mode = "count"
	ModeSize  Mode = "size"
)

// Unit is the calendar unit of a time window step.
type Unit string

const (
	UnitHours Unit = "hours"
	UnitDays  Unit = "days"
)

// ParseUnit accepts the common spellings of a time unit.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h", "hour", "hours":
		return UnitHours, nil
	case "d", "day", "days":
		return UnitDays, nil
	default:
		return "", fmt.Errorf("unknown window unit %q (want hours or days)", s)
	}
}

// Policy partitions a stream into windows. Exactly one of the boundary
// parameters is meaningful, selected by Mode.
type Policy struct {
	Mode Mode `json:"mode"`

	// Step and Unit size ModeTime windows, e.g. 6 hours or 1 day.
	Step int  `json:"step,omitempty"`
	Unit Unit `json:"unit,omitempty"`

	// Count sizes ModeCount windows in events.
	Count int `json:"count,omitempty"`

	// MaxBytes sizes ModeSize windows by cumulative payload bytes.
	MaxBytes int `json:"max_bytes,omitempty"`

	// Overlap is the trailing fraction of each window repeated at the start
	// of the next one. 0 disables overlap.
	Overlap float64 `json:"overlap"`
}

// TimePolicy windows by calendar-aligned steps of unit.
func TimePolicy(step int, unit Unit, overlap float64) Policy {
	return Policy{Mode: ModeTime, Step: step, Unit: unit, Overlap: overlap}
}

// CountPolicy windows by a fixed number of events.
func CountPolicy(count int, overlap float64) Policy {
	return Policy{Mode: ModeCount, Count: count, Overlap: overlap}
}

// SizePolicy windows by cumulative payload bytes.
func SizePolicy(maxBytes int, overlap float64) Policy {
	return Policy{Mode: ModeSize, MaxBytes: maxBytes, Overlap: overlap}
}

// ErrInvalidPolicy wraps every Validate failure.
var ErrInvalidPolicy = errors.New("invalid window policy")

// Validate reports whether p can drive a Builder.
func (p Policy) Validate() error {
	if p.Overlap < 0 || p.Overlap >= 1 {
		return fmt.Errorf("%w: overlap %v outside [0, 1)", ErrInvalidPolicy, p.Overlap)
	}

	switch p.Mode {
	case ModeTime:
		if p.Step < 1 {
			return fmt.Errorf("%w: time step must be positive", ErrInvalidPolicy)
		}
		if p.Unit != UnitHours && p.Unit != UnitDays {
			return fmt.Errorf("%w: unknown unit %q", ErrInvalidPolicy, p.Unit)
		}
	case ModeCount:
		if p.Count < 1 {
			return fmt.Errorf("%w: count must be positive", ErrInvalidPolicy)
		}
	case ModeSize:
		if p.MaxBytes < 1 {
			return fmt.Errorf("%w: max bytes must be positive", ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}
	return nil
}

func (p Policy) String() string {
	switch p.Mode {
	case ModeTime:
		return fmt.Sprintf("time(%d %s, overlap %.2f)", p.Step, p.Unit, p.Overlap)
	case ModeCount:
		return fmt.Sprintf("count(%d, overlap %.2f)", p.Count, p.Overlap)
	case ModeSize:
		return fmt.Sprintf("size(%d bytes, overlap %.2f)", p.MaxBytes, p.Overlap)
	}
	return string(p.Mode)
}

// stepSeconds is the length of one time step.
func (p Policy) stepSeconds() int64 {
	unit := int64(3600)
	if p.Unit == UnitDays {
		unit = 86400
	}
	return unit * int64(p.Step)
}

// bucket returns the calendar-aligned cut points surrounding t. Cuts are
// multiples of the step since the Unix epoch in UTC.
func (p Policy) bucket(t time.Time) (time.Time, time.Time) {
	step := p.stepSeconds()
	sec := t.Unix()
	start := sec - (sec%step+step)%step
	return time.Unix(start, 0).UTC(), time.Unix(start+step, 0).UTC()
}

// overlapCount is the number of trailing events carried into the next
// window from a window with n fresh events. The epsilon keeps fractions such
// as 0.29 * 100 from flooring to 28.
func (p Policy) overlapCount(n int) int {
	return int(p.Overlap*float64(n) + 1e-9)
}
