package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
)

// ErrStoreDown is returned by a CountingLedger with Down set.
var ErrStoreDown = errors.New("mock ledger unavailable")

// CountingLedger wraps a ledger and counts every state transition.
type CountingLedger struct {
	ledger.Ledger

	// Down fails every call with ErrStoreDown.
	Down bool

	mu          sync.Mutex
	transitions map[ledger.Status]int
}

// NewCountingLedger wraps l.
func NewCountingLedger(l ledger.Ledger) *CountingLedger {
	return &CountingLedger{
		Ledger:      l,
		transitions: make(map[ledger.Status]int),
	}
}

func (c *CountingLedger) count(s ledger.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return ErrStoreDown
	}
	c.transitions[s]++
	return nil
}

func (c *CountingLedger) MarkPending(ctx context.Context, key ledger.Key, inputHash identity.ID) error {
	if err := c.count(ledger.StatusPending); err != nil {
		return err
	}
	return c.Ledger.MarkPending(ctx, key, inputHash)
}

func (c *CountingLedger) MarkDone(ctx context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	if err := c.count(ledger.StatusDone); err != nil {
		return err
	}
	return c.Ledger.MarkDone(ctx, key, inputHash, output)
}

func (c *CountingLedger) MarkProvisional(ctx context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	if err := c.count(ledger.StatusProvisional); err != nil {
		return err
	}
	return c.Ledger.MarkProvisional(ctx, key, inputHash, output)
}

func (c *CountingLedger) MarkFailed(ctx context.Context, key ledger.Key, inputHash identity.ID, failure ledger.Failure) error {
	if err := c.count(ledger.StatusFailed); err != nil {
		return err
	}
	return c.Ledger.MarkFailed(ctx, key, inputHash, failure)
}

func (c *CountingLedger) Status(ctx context.Context, key ledger.Key) (ledger.Record, error) {
	c.mu.Lock()
	down := c.Down
	c.mu.Unlock()
	if down {
		return ledger.Record{}, ErrStoreDown
	}
	return c.Ledger.Status(ctx, key)
}

// Transitions is the total number of Mark calls so far.
func (c *CountingLedger) Transitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.transitions {
		n += v
	}
	return n
}

// TransitionsTo counts Mark calls that set status s.
func (c *CountingLedger) TransitionsTo(s ledger.Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions[s]
}

// ResetCounts zeroes the counters.
func (c *CountingLedger) ResetCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = make(map[ledger.Status]int)
}
