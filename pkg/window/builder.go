package window

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/papercomputeco/spool/pkg/event"
)

// ErrOutOfOrder rejects events earlier than their predecessor by more than
// the configured tolerance. Events without an ID are rejected with
// event.ErrMissingID.
var ErrOutOfOrder = errors.New("event timestamp out of order")

// Rejection describes an input the builder skipped.
type Rejection struct {
	// Position is the zero-based index of the record in the source stream.
	Position int
	Event    event.Event
	Err      error
}

// Option configures a Builder.
type Option func(*Builder)

// WithTolerance accepts events up to d earlier than the previous event.
// Such events are binned at the previous event's time.
func WithTolerance(d time.Duration) Option {
	return func(b *Builder) {
		b.tolerance = d
	}
}

// WithRejectHandler is called for every skipped input.
func WithRejectHandler(fn func(Rejection)) Option {
	return func(b *Builder) {
		b.onReject = fn
	}
}

// Builder turns an event stream into windows in a single forward pass.
// A Builder has no per-stream state and may be reused.
type Builder struct {
	policy    Policy
	tolerance time.Duration
	onReject  func(Rejection)
}

// NewBuilder validates p and returns a Builder.
func NewBuilder(p Policy, opts ...Option) (*Builder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := &Builder{policy: p}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Policy returns the builder's policy.
func (b *Builder) Policy() Policy {
	return b.policy
}

// Build windows a stream of well-formed events with p.
func Build(events iter.Seq[event.Event], p Policy) (iter.Seq[Window], error) {
	b, err := NewBuilder(p)
	if err != nil {
		return nil, err
	}
	return b.Windows(func(yield func(event.Event, error) bool) {
		for e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}), nil
}

// Windows lazily yields the windows of events. Memory use is bounded by the
// largest window. Source errors and invalid events are reported to the
// reject handler and skipped.
func (b *Builder) Windows(events iter.Seq2[event.Event, error]) iter.Seq[Window] {
	p := b.policy

	return func(yield func(Window) bool) {
		var (
			seed, fresh []event.Event
			bytes       int
			index       int
			position    = -1
			last        time.Time
			started     bool
			cutStart    time.Time
			cutEnd      time.Time
		)

		emit := func(partial bool) bool {
			w := newWindow(p, index, seed, fresh, cutStart, cutEnd, partial)
			index++

			n := p.overlapCount(len(fresh))
			seed = append([]event.Event(nil), fresh[len(fresh)-n:]...)
			fresh = nil
			bytes = 0

			return yield(w)
		}

		for e, err := range events {
			position++
			if err != nil {
				b.reject(Rejection{Position: position, Err: err})
				continue
			}
			if e.ID == "" {
				b.reject(Rejection{Position: position, Event: e, Err: event.ErrMissingID})
				continue
			}

			at := e.Timestamp
			if started && at.Before(last) {
				if last.Sub(at) > b.tolerance {
					b.reject(Rejection{
						Position: position,
						Event:    e,
						Err:      fmt.Errorf("%w: %s is %s before previous event", ErrOutOfOrder, e.ID, last.Sub(at)),
					})
					continue
				}
				at = last
			}
			last = at
			started = true

			switch p.Mode {
			case ModeTime:
				if len(fresh) > 0 && !at.Before(cutEnd) {
					if !emit(false) {
						return
					}
				}
				if len(fresh) == 0 {
					cutStart, cutEnd = p.bucket(at)
				}
				fresh = append(fresh, e)

			case ModeCount:
				fresh = append(fresh, e)
				if len(fresh) >= p.Count {
					if !emit(false) {
						return
					}
				}

			case ModeSize:
				fresh = append(fresh, e)
				bytes += e.Size()
				if bytes >= p.MaxBytes {
					if !emit(false) {
						return
					}
				}
			}
		}

		if len(fresh) > 0 {
			emit(true)
		}
	}
}

func (b *Builder) reject(r Rejection) {
	if b.onReject != nil {
		b.onReject(r)
	}
}
