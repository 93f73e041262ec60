// Package inmemory provides a map backed storage driver for tests and
// throwaway runs.
package inmemory

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/storage"
)

type cacheKey struct {
	tier cache.Tier
	fp   identity.ID
}

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards every map below
	mu sync.RWMutex

	entries  map[cacheKey]cache.Entry
	progress map[ledger.Key]ledger.Record
	runs     map[string]ledger.RunRecord

	closed bool
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		entries:  make(map[cacheKey]cache.Entry),
		progress: make(map[ledger.Key]ledger.Record),
		runs:     make(map[string]ledger.RunRecord),
	}
}

// Get implements cache.Store.
func (d *Driver) Get(_ context.Context, tier cache.Tier, fp identity.ID) (cache.Entry, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return cache.Entry{}, false, storage.ErrClosed
	}

	e, ok := d.entries[cacheKey{tier, fp}]
	if !ok {
		return cache.Entry{}, false, nil
	}
	e.Value = bytes.Clone(e.Value)
	return e, true, nil
}

// Put implements cache.Store.
func (d *Driver) Put(_ context.Context, tier cache.Tier, fp identity.ID, value []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, storage.ErrClosed
	}

	k := cacheKey{tier, fp}
	if existing, ok := d.entries[k]; ok {
		if !bytes.Equal(existing.Value, value) {
			return false, cache.ErrConflict
		}
		return false, nil
	}

	d.entries[k] = cache.Entry{
		Tier:        tier,
		Fingerprint: fp,
		Value:       bytes.Clone(value),
		Size:        len(value),
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil
}

// Invalidate implements cache.Store.
func (d *Driver) Invalidate(_ context.Context, tier cache.Tier, pred cache.Predicate) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, storage.ErrClosed
	}

	n := 0
	for k, e := range d.entries {
		if k.tier == tier && pred.Matches(e) {
			delete(d.entries, k)
			n++
		}
	}
	return n, nil
}

// MarkPending implements ledger.Ledger.
func (d *Driver) MarkPending(_ context.Context, key ledger.Key, inputHash identity.ID) error {
	return d.update(key, func(r *ledger.Record) {
		r.Status = ledger.StatusPending
		r.InputHash = inputHash
		r.Output = ""
		r.Reason = ""
		r.Terminal = false
		r.Attempts++
	})
}

// MarkDone implements ledger.Ledger.
func (d *Driver) MarkDone(_ context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	return d.update(key, func(r *ledger.Record) {
		r.Status = ledger.StatusDone
		r.InputHash = inputHash
		r.Output = output
		r.Reason = ""
		r.Terminal = false
	})
}

// MarkProvisional implements ledger.Ledger.
func (d *Driver) MarkProvisional(_ context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	return d.update(key, func(r *ledger.Record) {
		r.Status = ledger.StatusProvisional
		r.InputHash = inputHash
		r.Output = output
		r.Reason = ""
		r.Terminal = false
	})
}

// MarkFailed implements ledger.Ledger.
func (d *Driver) MarkFailed(_ context.Context, key ledger.Key, inputHash identity.ID, failure ledger.Failure) error {
	return d.update(key, func(r *ledger.Record) {
		r.Status = ledger.StatusFailed
		r.InputHash = inputHash
		r.Output = ""
		r.Reason = failure.Reason
		r.Terminal = failure.Terminal
	})
}

func (d *Driver) update(key ledger.Key, fn func(*ledger.Record)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return storage.ErrClosed
	}

	r, ok := d.progress[key]
	if !ok {
		r = ledger.Record{Key: key}
	}
	fn(&r)
	r.UpdatedAt = time.Now().UTC()
	d.progress[key] = r
	return nil
}

// Status implements ledger.Ledger.
func (d *Driver) Status(_ context.Context, key ledger.Key) (ledger.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ledger.Record{}, storage.ErrClosed
	}

	r, ok := d.progress[key]
	if !ok {
		return ledger.Record{Key: key, Status: ledger.StatusAbsent}, nil
	}
	return r, nil
}

// List implements ledger.Ledger. Records are ordered by window then stage.
func (d *Driver) List(_ context.Context, filter ledger.Filter) ([]ledger.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, storage.ErrClosed
	}

	var out []ledger.Record
	for _, r := range d.progress {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Record) int {
		if c := bytes.Compare(a.Window[:], b.Window[:]); c != 0 {
			return c
		}
		if a.Stage < b.Stage {
			return -1
		}
		if a.Stage > b.Stage {
			return 1
		}
		return 0
	})
	return out, nil
}

// Reset implements ledger.Ledger.
func (d *Driver) Reset(_ context.Context, stages ...ledger.Stage) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, storage.ErrClosed
	}

	n := 0
	for k := range d.progress {
		if slices.Contains(stages, k.Stage) {
			delete(d.progress, k)
			n++
		}
	}
	return n, nil
}

// SaveRun implements ledger.RunStore.
func (d *Driver) SaveRun(_ context.Context, run ledger.RunRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return storage.ErrClosed
	}

	d.runs[run.ID.String()] = run
	return nil
}

// ListRuns implements ledger.RunStore.
func (d *Driver) ListRuns(_ context.Context, limit int) ([]ledger.RunRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, storage.ErrClosed
	}

	runs := make([]ledger.RunRecord, 0, len(d.runs))
	for _, r := range d.runs {
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b ledger.RunRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}
