package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// MockEmbedderDims is the length of vectors produced by MockEmbedder.
const MockEmbedderDims = 8

// MockEmbedder is a test embedder that returns predictable embeddings and
// counts its calls. Unless overridden, a text is embedded as a bag of its
// lower-cased words hashed into MockEmbedderDims buckets, so texts sharing
// words are similar.
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	// Err, when set, is returned by every call.
	Err error

	ModelName string

	mu    sync.Mutex
	calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		ModelName:  "mock-embed",
	}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.Err != nil {
		return nil, m.Err
	}
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}
	return BagOfWords(text), nil
}

// Calls is the number of Embed calls so far.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbedder) Model() string {
	return m.ModelName
}

func (m *MockEmbedder) Close() error {
	return nil
}

// BagOfWords embeds text the way MockEmbedder does by default.
func BagOfWords(text string) []float32 {
	v := make([]float32, MockEmbedderDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%MockEmbedderDims]++
	}
	return v
}
