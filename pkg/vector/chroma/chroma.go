// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for storing
	// artifact embeddings.
	DefaultCollectionName = "spool"

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

	// createdAtKey carries Document.CreatedAt inside Chroma metadata.
	createdAtKey = "spool_created_at"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

var _ vector.Driver = (*Driver)(nil)

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds the attempts made to reach Chroma at startup.
	// Defaults to 1.
	MaxRetries int

	// RetryDelay is the first wait between startup attempts, doubled after
	// each failure up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// NewDriver creates a Chroma vector driver, getting or creating the
// configured collection.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	d := &Driver{
		baseURL:        strings.TrimRight(c.URL, "/"),
		collectionName: collectionName,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}

	policy := retry.Policy{
		MaxAttempts: c.MaxRetries,
		Backoff:     retry.Exponential(c.RetryDelay, c.MaxRetryDelay),
		OnRetry: func(attempt int, wait time.Duration, err error) {
			logger.Warn("chroma not ready, retrying",
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
	}

	collectionID, err := retry.Value(context.Background(), policy, d.getOrCreateCollection)
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", collectionName, err)
	}
	d.collectionID = collectionID

	logger.Info("connected to Chroma",
		"url", d.baseURL,
		"collection", collectionName,
		"collection_id", collectionID,
	)

	return d, nil
}

// statusError is a non-2xx response from Chroma.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Transport failures are wrapped in vector.ErrConnection.
func (d *Driver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", vector.ErrConnection, serr)
		}
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// getOrCreateCollection gets an existing collection or creates a new one.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	err := d.do(ctx, http.MethodGet, collectionsPath+"/"+d.collectionName, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}

	create := chromaCreateRequest{
		Name:     d.collectionName,
		Metadata: map[string]any{"hnsw:space": "cosine"},
	}
	if err := d.do(ctx, http.MethodPost, collectionsPath, create, &collection); err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}
	return collection.ID, nil
}

func (d *Driver) collectionPath(op string) string {
	return collectionsPath + "/" + d.collectionID + "/" + op
}

func toMetadata(doc vector.Document) map[string]any {
	m := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		m[k] = v
	}
	if !doc.CreatedAt.IsZero() {
		m[createdAtKey] = doc.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func fromMetadata(doc *vector.Document, m map[string]any) {
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if k == createdAtKey {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				doc.CreatedAt = t
			}
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string, len(m))
		}
		doc.Metadata[k] = s
	}
}

// Add implements vector.Driver with Chroma's upsert endpoint so a repeated ID
// replaces the stored document.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
	}
	for i, doc := range docs {
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = toMetadata(doc)
	}

	if err := d.do(ctx, http.MethodPost, d.collectionPath("upsert"), req, nil); err != nil {
		return fmt.Errorf("upserting documents: %w", err)
	}

	d.logger.Debug("added documents to chroma", "count", len(docs))
	return nil
}

// Query implements vector.Driver.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"metadatas", "distances", "embeddings"},
	}

	var resp chromaQueryResponse
	if err := d.do(ctx, http.MethodPost, d.collectionPath("query"), req, &resp); err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}

	if len(resp.IDs) == 0 {
		return nil, nil
	}

	// Only one query embedding is sent, so only the first group matters.
	ids := resp.IDs[0]
	results := make([]vector.QueryResult, 0, len(ids))
	for i, id := range ids {
		r := vector.QueryResult{Document: vector.Document{ID: id}}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			fromMetadata(&r.Document, resp.Metadatas[0][i])
		}
		if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
			r.Embedding = resp.Embeddings[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Score = vector.DistanceScore(resp.Distances[0][i])
		}
		results = append(results, r)
	}

	vector.Rank(results)

	d.logger.Debug("queried chroma", "results", len(results))
	return results, nil
}

// Get implements vector.Driver.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req := chromaGetRequest{
		IDs:     ids,
		Include: []string{"metadatas", "embeddings"},
	}

	var resp chromaGetResponse
	if err := d.do(ctx, http.MethodPost, d.collectionPath("get"), req, &resp); err != nil {
		return nil, fmt.Errorf("getting documents: %w", err)
	}

	docs := make([]vector.Document, len(resp.IDs))
	for i, id := range resp.IDs {
		docs[i].ID = id
		if i < len(resp.Metadatas) {
			fromMetadata(&docs[i], resp.Metadatas[i])
		}
		if i < len(resp.Embeddings) {
			docs[i].Embedding = resp.Embeddings[i]
		}
	}
	return docs, nil
}

// Delete implements vector.Driver.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := d.do(ctx, http.MethodPost, d.collectionPath("delete"), chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	d.logger.Debug("deleted documents from chroma", "count", len(ids))
	return nil
}

// Close implements vector.Driver.
func (d *Driver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}
