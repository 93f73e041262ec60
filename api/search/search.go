// Package search provides shared search types and logic for semantic search
// over finalized artifacts. It is used by both the REST API endpoint and
// the MCP server tool.
package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/utils"
)

// DefaultTopK is used when a request asks for no particular count.
const DefaultTopK = 5

const previewLen = 200

// SearchInput represents the input arguments for a search request.
type SearchInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ArtifactID  string  `json:"artifact_id"`
	WindowID    string  `json:"window_id"`
	WindowIndex int     `json:"window_index"`
	Score       float32 `json:"score"`
	Preview     string  `json:"preview"`
}

// SearchOutput represents the output of a search operation.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`

	// Degraded is set when the vector store or embedder was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// ErrQueryRequired is returned for an empty query.
var ErrQueryRequired = errors.New("query is required")

// Search embeds the query and returns the closest artifacts across every
// window.
func Search(ctx context.Context, idx *retrieval.Index, in SearchInput, logger *slog.Logger) (*SearchOutput, error) {
	if in.Query == "" {
		return nil, ErrQueryRequired
	}
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	logger.Debug("search request", "query", in.Query, "top_k", topK)

	results, degraded, err := idx.Query(ctx, in.Query, topK, retrieval.Scope{})
	if err != nil {
		return nil, err
	}

	out := &SearchOutput{
		Query:    in.Query,
		Results:  make([]SearchResult, 0, len(results)),
		Degraded: degraded,
	}
	for _, r := range results {
		out.Results = append(out.Results, BuildSearchResult(r))
	}
	out.Count = len(out.Results)
	return out, nil
}

// BuildSearchResult converts a retrieval result into a SearchResult.
func BuildSearchResult(r retrieval.Result) SearchResult {
	return SearchResult{
		ArtifactID:  r.ArtifactID.String(),
		WindowID:    r.WindowID.String(),
		WindowIndex: r.WindowIndex,
		Score:       r.Score,
		Preview:     utils.Truncate(r.Content, previewLen),
	}
}
