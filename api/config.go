// Package api provides an HTTP API server for inspecting pipeline runs,
// ledger progress and generated artifacts.
package api

import (
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/retrieval"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Cache reads artifacts out of the generation tier. Defaults to a
	// cache over the server's store.
	Cache *cache.Cache

	// Index enables /search and the MCP search tool. Optional.
	Index *retrieval.Index
}
