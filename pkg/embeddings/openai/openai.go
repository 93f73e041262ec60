// Package openai implements embeddings.Embedder against the OpenAI
// embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/embeddings"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/vector"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultBaseURL        = "https://api.openai.com"
)

type EmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Dimensions asks models that support it for shorter vectors.
	Dimensions int

	Timeout time.Duration
}

// Embedder calls /v1/embeddings.
type Embedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

var _ embeddings.Embedder = (*Embedder)(nil)

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder requires an API key")
	}

	e := &Embedder{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.model == "" {
		e.model = DefaultEmbeddingModel
	}
	if e.httpClient.Timeout <= 0 {
		e.httpClient.Timeout = 60 * time.Second
	}
	return e, nil
}

// Model implements embeddings.Embedder. Requested dimensions change the
// vectors, so they are part of the reported model.
func (e *Embedder) Model() string {
	if e.dimensions > 0 {
		return fmt.Sprintf("%s@%d", e.model, e.dimensions)
	}
	return e.model
}

// Embed implements embeddings.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.apiKey)

	var resp embedResponse
	err := llm.PostJSON(ctx, e.httpClient, "openai", e.baseURL+"/v1/embeddings", header,
		embedRequest{Model: e.model, Input: text, Dimensions: e.dimensions}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, llm.Fatal(errors.New("no embeddings returned")))
	}
	return resp.Data[0].Embedding, nil
}

func (e *Embedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
