// Package mcp provides an MCP (Model Context Protocol) server exposing
// spool artifacts to agents.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/utils"
)

type Config struct {
	// Index enables the search_context tool. Optional.
	Index *retrieval.Index

	// Cache and Ledger locate the latest artifact of a window.
	Cache  *cache.Cache
	Ledger ledger.Ledger

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the artifact tools.
func NewServer(c Config) (*Server, error) {
	if c.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if c.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "spool",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        artifactToolName,
		Description: artifactDescription,
	}, s.handleArtifact)

	if c.Index != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchToolName,
			Description: searchDescription,
		}, s.handleSearch)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, e.g. for in-memory transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
