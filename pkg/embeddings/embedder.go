// Package embeddings defines the embedding backend used by the retrieval
// index.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model names the embedding model. It is part of every embedding
	// fingerprint, so switching models never reuses cached vectors.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
