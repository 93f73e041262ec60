package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/spool/pkg/vector"
)

// FlakyVectorDriver wraps a vector driver and fails selected calls with
// vector.ErrConnection.
type FlakyVectorDriver struct {
	vector.Driver

	// FailQuery is consulted before every Query with the 1-based call
	// number. Returning true fails the call.
	FailQuery func(call int) bool

	// FailAdd fails every Add.
	FailAdd bool

	mu      sync.Mutex
	queries int
	adds    int
}

// NewFlakyVectorDriver wraps d.
func NewFlakyVectorDriver(d vector.Driver) *FlakyVectorDriver {
	return &FlakyVectorDriver{Driver: d}
}

func (f *FlakyVectorDriver) Add(ctx context.Context, docs []vector.Document) error {
	f.mu.Lock()
	f.adds++
	fail := f.FailAdd
	f.mu.Unlock()

	if fail {
		return vector.ErrConnection
	}
	return f.Driver.Add(ctx, docs)
}

func (f *FlakyVectorDriver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	f.mu.Lock()
	f.queries++
	call := f.queries
	hook := f.FailQuery
	f.mu.Unlock()

	if hook != nil && hook(call) {
		return nil, vector.ErrConnection
	}
	return f.Driver.Query(ctx, embedding, topK)
}

// Queries is the number of Query calls so far.
func (f *FlakyVectorDriver) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// Adds is the number of Add calls so far.
func (f *FlakyVectorDriver) Adds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds
}
