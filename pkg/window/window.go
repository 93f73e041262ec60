// Package window partitions an ordered event stream into deterministic,
// optionally overlapping windows.
package window

import (
	"time"

	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/identity"
)

// Window is a bounded slice of the stream processed as a unit.
type Window struct {
	// ID is derived from the policy and the ordered member event IDs.
	ID identity.ID

	// Index is the zero-based position of the window in the stream.
	Index int

	// Events holds the members in stream order. The first Overlap events
	// are repeated from the previous window.
	Events []event.Event

	// Start and End bound the window. Time windows use their calendar cut
	// points; other windows use the first and last member timestamps.
	Start time.Time
	End   time.Time

	// Overlap is the number of events shared with the predecessor.
	Overlap int

	// Partial is set on a trailing window whose boundary condition was not
	// met before the stream ended.
	Partial bool
}

// MemberIDs returns the ordered source identifiers of the members.
func (w Window) MemberIDs() []string {
	ids := make([]string, len(w.Events))
	for i, e := range w.Events {
		ids[i] = e.ID
	}
	return ids
}

// Fresh returns the members that were not carried over from the
// predecessor.
func (w Window) Fresh() []event.Event {
	return w.Events[w.Overlap:]
}

// ContentHash identifies the full content of every member. It changes when
// any member event is edited upstream even though the window ID does not.
func (w Window) ContentHash() identity.ID {
	hashes := make([]identity.ID, len(w.Events))
	for i, e := range w.Events {
		hashes[i] = e.ContentHash()
	}
	return identity.Identify(identity.KindInput, "window-content", w.ID, hashes)
}

func newWindow(p Policy, index int, seed, fresh []event.Event, start, end time.Time, partial bool) Window {
	members := make([]event.Event, 0, len(seed)+len(fresh))
	members = append(members, seed...)
	members = append(members, fresh...)

	if p.Mode != ModeTime {
		start = members[0].Timestamp
		end = members[len(members)-1].Timestamp
	}

	w := Window{
		Index:   index,
		Events:  members,
		Start:   start,
		End:     end,
		Overlap: len(seed),
		Partial: partial,
	}
	w.ID = identity.Identify(identity.KindWindow, p, w.MemberIDs())
	return w
}
