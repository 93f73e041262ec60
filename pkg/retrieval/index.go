// Package retrieval keeps the vector index of produced artifacts that
// supplies historical context to later generation calls.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/embeddings"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/vector"
)

// Metadata keys written with every indexed artifact.
const (
	MetaWindowID    = "window_id"
	MetaWindowIndex = "window_index"
	MetaContent     = "content"
)

// maxFetch bounds how many neighbours a filtered query asks the driver for.
const maxFetch = 1024

// ErrCache wraps failures of the retrieval cache tier. Those are store
// failures, not backend failures, and are never reported as degraded.
var ErrCache = errors.New("retrieval cache unavailable")

// Config wires an Index.
type Config struct {
	Vectors  vector.Driver
	Embedder embeddings.Embedder
	Cache    *cache.Cache

	// Retry governs embedding and vector store calls.
	Retry retry.Policy

	Logger *slog.Logger
}

// Item is an artifact to index.
type Item struct {
	ArtifactID  identity.ID
	WindowID    identity.ID
	WindowIndex int
	Content     string

	// CreatedAt breaks score ties, most recent first. Callers pass the end
	// of the source window so ordering is reproducible.
	CreatedAt time.Time

	Metadata map[string]string
}

// Result is one neighbour returned by Query.
type Result struct {
	ArtifactID  identity.ID       `json:"artifact_id"`
	WindowID    identity.ID       `json:"window_id"`
	WindowIndex int               `json:"window_index"`
	Content     string            `json:"content"`
	Score       float32           `json:"score"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Scope restricts which artifacts a query may return.
type Scope struct {
	// Window is never returned.
	Window identity.ID

	// Before keeps only artifacts of windows with a smaller index when
	// Bounded is set.
	Before  int
	Bounded bool

	// Keep, when set, must also accept a result.
	Keep func(Result) bool
}

// Earlier scopes a query to the windows preceding index, excluding id.
func Earlier(id identity.ID, index int) Scope {
	return Scope{Window: id, Before: index, Bounded: true}
}

func (s Scope) allows(r Result) bool {
	if s.Window != identity.Nil && r.WindowID == s.Window {
		return false
	}
	if s.Bounded && r.WindowIndex >= s.Before {
		return false
	}
	return s.Keep == nil || s.Keep(r)
}

// Stats counts backend traffic.
type Stats struct {
	Embeds  int64 `json:"embeds"`
	Inserts int64 `json:"inserts"`
	Queries int64 `json:"queries"`
}

// Index is the retrieval index. It is safe for concurrent use.
type Index struct {
	vectors  vector.Driver
	embedder embeddings.Embedder
	cache    *cache.Cache
	retry    retry.Policy
	logger   *slog.Logger

	embeds  atomic.Int64
	inserts atomic.Int64
	queries atomic.Int64
}

// New returns an Index over c.
func New(c Config) (*Index, error) {
	if c.Vectors == nil {
		return nil, errors.New("vector driver is required")
	}
	if c.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if c.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Index{
		vectors:  c.Vectors,
		embedder: c.Embedder,
		cache:    c.Cache,
		retry:    c.Retry,
		logger:   c.Logger,
	}, nil
}

// Model is the embedding model the index was built with.
func (x *Index) Model() string {
	return x.embedder.Model()
}

// Stats returns a snapshot of backend call counts.
func (x *Index) Stats() Stats {
	return Stats{
		Embeds:  x.embeds.Load(),
		Inserts: x.inserts.Load(),
		Queries: x.queries.Load(),
	}
}

// Embed returns the embedding of text, computing it at most once per
// embedding model.
func (x *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	fp := identity.Identify(identity.KindEmbedding, x.embedder.Model(), text)

	cached, ok, err := cache.GetJSON[[]float32](ctx, x.cache, cache.TierRetrieval, fp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if ok {
		return cached, nil
	}

	emb, err := retry.Value(ctx, x.retry, func(ctx context.Context) ([]float32, error) {
		x.embeds.Add(1)
		return x.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
	}

	if err := cache.PutJSON(ctx, x.cache, cache.TierRetrieval, fp, emb); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return emb, nil
}

type insertMarker struct {
	ArtifactID identity.ID `json:"artifact_id"`
	Model      string      `json:"model"`
}

func (x *Index) markerKey(artifactID identity.ID) identity.ID {
	return identity.Identify(identity.KindIndexInsert, artifactID, x.embedder.Model())
}

// Insert embeds and indexes item. It reports false without touching the
// vector store when the artifact was already inserted with the current
// embedding model.
func (x *Index) Insert(ctx context.Context, item Item) (bool, error) {
	marker := x.markerKey(item.ArtifactID)

	_, ok, err := x.cache.Get(ctx, cache.TierRetrieval, marker)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if ok {
		return false, nil
	}

	emb, err := x.Embed(ctx, item.Content)
	if err != nil {
		return false, err
	}

	meta := make(map[string]string, len(item.Metadata)+3)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	meta[MetaWindowID] = item.WindowID.String()
	meta[MetaWindowIndex] = strconv.Itoa(item.WindowIndex)
	meta[MetaContent] = item.Content

	doc := vector.Document{
		ID:        item.ArtifactID.String(),
		Embedding: emb,
		Metadata:  meta,
		CreatedAt: item.CreatedAt,
	}
	err = x.retry.Do(ctx, func(ctx context.Context) error {
		x.inserts.Add(1)
		return x.vectors.Add(ctx, []vector.Document{doc})
	})
	if err != nil {
		return false, fmt.Errorf("indexing artifact %s: %w", item.ArtifactID, err)
	}

	err = cache.PutJSON(ctx, x.cache, cache.TierRetrieval, marker, insertMarker{
		ArtifactID: item.ArtifactID,
		Model:      x.embedder.Model(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCache, err)
	}

	x.logger.Debug("indexed artifact", "artifact", item.ArtifactID, "window", item.WindowID)
	return true, nil
}

// Query returns up to k artifacts most similar to text within scope,
// ordered by score descending and then most recent first.
//
// An unreachable embedding backend or vector store is not an error: Query
// returns no results with degraded set. The error is reserved for cache
// failures and cancellation.
func (x *Index) Query(ctx context.Context, text string, k int, scope Scope) ([]Result, bool, error) {
	if k <= 0 {
		return nil, false, nil
	}

	emb, err := x.Embed(ctx, text)
	if err != nil {
		return x.degrade(ctx, "embedding query", err)
	}

	fetch := k
	if scope.Window != identity.Nil || scope.Bounded || scope.Keep != nil {
		fetch = 2*k + 1
	}

	for {
		raw, err := retry.Value(ctx, x.retry, func(ctx context.Context) ([]vector.QueryResult, error) {
			x.queries.Add(1)
			return x.vectors.Query(ctx, emb, fetch)
		})
		if err != nil {
			return x.degrade(ctx, "querying vector store", err)
		}

		results := make([]Result, 0, k)
		for _, r := range raw {
			res, ok := toResult(r)
			if !ok || !scope.allows(res) {
				continue
			}
			results = append(results, res)
			if len(results) == k {
				break
			}
		}

		if len(results) == k || len(raw) < fetch || fetch >= maxFetch {
			return results, false, nil
		}
		fetch = min(fetch*2, maxFetch)
	}
}

func (x *Index) degrade(ctx context.Context, op string, err error) ([]Result, bool, error) {
	if errors.Is(err, ErrCache) {
		return nil, false, err
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	x.logger.Warn("retrieval unavailable, continuing without context", "op", op, "error", err)
	return nil, true, nil
}

func toResult(r vector.QueryResult) (Result, bool) {
	id, err := identity.Parse(r.ID)
	if err != nil {
		return Result{}, false
	}

	res := Result{
		ArtifactID: id,
		Content:    r.Metadata[MetaContent],
		Score:      r.Score,
		CreatedAt:  r.CreatedAt,
		Metadata:   r.Metadata,
	}
	if w, err := identity.Parse(r.Metadata[MetaWindowID]); err == nil {
		res.WindowID = w
	}
	if n, err := strconv.Atoi(r.Metadata[MetaWindowIndex]); err == nil {
		res.WindowIndex = n
	}
	return res, true
}

// Prune removes artifacts from the vector store and forgets their
// insertion markers.
func (x *Index) Prune(ctx context.Context, ids []identity.ID) error {
	if len(ids) == 0 {
		return nil
	}

	docIDs := make([]string, len(ids))
	markers := make(map[identity.ID]struct{}, len(ids))
	for i, id := range ids {
		docIDs[i] = id.String()
		markers[x.markerKey(id)] = struct{}{}
	}

	err := x.retry.Do(ctx, func(ctx context.Context) error {
		return x.vectors.Delete(ctx, docIDs)
	})
	if err != nil {
		return fmt.Errorf("pruning artifacts: %w", err)
	}

	_, err = x.cache.Invalidate(ctx, cache.TierRetrieval, func(e cache.Entry) bool {
		_, ok := markers[e.Fingerprint]
		return ok
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}
