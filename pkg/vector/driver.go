// Package vector defines the vector store behind the retrieval index.
package vector

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"
)

// Document is a stored embedding of one artifact.
type Document struct {
	// ID is the artifact identifier.
	ID string

	// Embedding is the vector representation of the artifact content.
	Embedding []float32

	// Metadata is carried through queries untouched.
	Metadata map[string]string

	// CreatedAt orders equally similar results, most recent first. Spool
	// sets it from the source window's end time, not the wall clock.
	CreatedAt time.Time
}

// QueryResult is a document with its similarity to the query.
type QueryResult struct {
	Document

	// Score is higher for more similar documents.
	Score float32
}

// Driver stores and searches embeddings.
type Driver interface {
	// Add stores documents, replacing any existing document with the same ID.
	Add(ctx context.Context, docs []Document) error

	// Query returns up to topK documents most similar to embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Get returns the stored documents among ids. Missing IDs are skipped.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}

// Rank orders results by score descending, then most recent first, then by
// ID so the order is total.
func Rank(results []QueryResult) {
	slices.SortStableFunc(results, func(a, b QueryResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// CosineSimilarity of a and b, or 0 when either is empty, zero, or the
// lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// DistanceScore maps a non-negative distance to a similarity in (0, 1].
func DistanceScore(distance float64) float32 {
	return float32(1.0 / (1.0 + distance))
}
