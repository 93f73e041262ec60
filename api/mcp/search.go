package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apisearch "github.com/papercomputeco/spool/api/search"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/storage"
)

var (
	searchToolName    = "search_context"
	searchDescription = "Semantic search over finalized window summaries. Returns the most relevant artifacts with their window IDs and a preview."

	artifactToolName    = "window_artifact"
	artifactDescription = "Fetch the latest generated summary of a window by window ID, including the IDs of the earlier artifacts it used as context."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query text to find relevant window summaries"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
}

// ArtifactInput represents the input arguments for the artifact tool.
type ArtifactInput struct {
	WindowID string `json:"window_id" jsonschema:"the window ID returned by search_context"`
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, apisearch.SearchOutput, error) {
	logger := s.config.Logger

	out, err := apisearch.Search(ctx, s.config.Index, apisearch.SearchInput{Query: input.Query, TopK: input.TopK}, logger)
	if err != nil {
		logger.Error("mcp search failed", "error", err)
		return errorResult("Search failed: %v", err), apisearch.SearchOutput{}, nil
	}

	return jsonResult(*out, logger.Error)
}

// ArtifactOutput is a window's artifact with identifiers and times as strings.
type ArtifactOutput struct {
	ArtifactID  string   `json:"artifact_id"`
	WindowID    string   `json:"window_id"`
	WindowIndex int      `json:"window_index"`
	Content     string   `json:"content"`
	ContextIDs  []string `json:"context_ids"`
	Fingerprint string   `json:"fingerprint"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	WindowStart string   `json:"window_start"`
	WindowEnd   string   `json:"window_end"`
}

func newArtifactOutput(a pipeline.Artifact) ArtifactOutput {
	ids := make([]string, len(a.ContextIDs))
	for i, id := range a.ContextIDs {
		ids[i] = id.String()
	}
	return ArtifactOutput{
		ArtifactID:  a.ID.String(),
		WindowID:    a.WindowID.String(),
		WindowIndex: a.WindowIndex,
		Content:     a.Content,
		ContextIDs:  ids,
		Fingerprint: a.Fingerprint.String(),
		Provider:    a.Provider,
		Model:       a.Model,
		WindowStart: a.WindowStart.Format(time.RFC3339),
		WindowEnd:   a.WindowEnd.Format(time.RFC3339),
	}
}

// handleArtifact returns one window's artifact.
func (s *Server) handleArtifact(ctx context.Context, _ *mcp.CallToolRequest, input ArtifactInput) (*mcp.CallToolResult, ArtifactOutput, error) {
	id, err := identity.Parse(input.WindowID)
	if err != nil {
		return errorResult("Invalid window ID %q", input.WindowID), ArtifactOutput{}, nil
	}

	art, err := pipeline.LoadArtifact(ctx, s.config.Cache, s.config.Ledger, id)
	if err != nil {
		var notFound *storage.NotFoundError
		if !errors.As(err, &notFound) {
			s.config.Logger.Error("mcp artifact lookup failed", "window", id, "error", err)
		}
		return errorResult("Failed to load artifact: %v", err), ArtifactOutput{}, nil
	}

	return jsonResult(newArtifactOutput(art), s.config.Logger.Error)
}

// jsonResult serializes structured output into a TextContent block as well.
// Per MCP spec: tools returning structured content should also return
// serialized JSON in a TextContent block for backwards compatibility.
func jsonResult[T any](out T, logError func(string, ...any)) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(out)
	if err != nil {
		logError("failed to marshal tool output", "error", err)
		var zero T
		return errorResult("Failed to serialize results: %v", err), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, out, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
