// Package inmemory provides a brute-force vector driver for tests and small
// corpora.
package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/papercomputeco/spool/pkg/vector"
)

// Driver implements vector.Driver with a linear cosine scan.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document
	dims int
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver creates an empty driver. A dims of zero accepts the length of the
// first stored embedding.
func NewDriver(dims int) *Driver {
	return &Driver{
		docs: make(map[string]vector.Document),
		dims: dims,
	}
}

// Add implements vector.Driver.
func (d *Driver) Add(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		if d.dims == 0 {
			d.dims = len(doc.Embedding)
		}
		if len(doc.Embedding) != d.dims {
			return fmt.Errorf("%w: document %s has %d dimensions, want %d",
				vector.ErrDimensions, doc.ID, len(doc.Embedding), d.dims)
		}
		doc.Embedding = slices.Clone(doc.Embedding)
		doc.Metadata = maps.Clone(doc.Metadata)
		d.docs[doc.ID] = doc
	}
	return nil
}

// Query implements vector.Driver.
func (d *Driver) Query(_ context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	results := make([]vector.QueryResult, 0, len(d.docs))
	for _, doc := range d.docs {
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    vector.CosineSimilarity(embedding, doc.Embedding),
		})
	}
	d.mu.RUnlock()

	vector.Rank(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Get implements vector.Driver.
func (d *Driver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var docs []vector.Document
	for _, id := range ids {
		if doc, ok := d.docs[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Delete implements vector.Driver.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.docs, id)
	}
	return nil
}

// Len is the number of stored documents.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

// Close implements vector.Driver.
func (d *Driver) Close() error {
	return nil
}
