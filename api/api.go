package api

import (
	"expvar"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/spool/api/mcp"
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Server is the API server for inspecting and querying spool state.
type Server struct {
	config Config
	store  storage.Driver
	cache  *cache.Cache
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The store is injected to allow sharing with a pipeline running in the
// same process.
func NewServer(config Config, store storage.Driver, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	c := config.Cache
	if c == nil {
		c = cache.New(store, logger)
	}

	s := &Server{
		config: config,
		store:  store,
		cache:  c,
		logger: logger,
		app:    app,
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Index:  config.Index,
		Cache:  c,
		Ledger: store,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	app.Get("/ping", s.handlePing)
	app.Get("/runs", s.handleListRuns)
	app.Get("/ledger", s.handleListLedger)
	app.Get("/ledger/:window", s.handleWindowLedger)
	app.Get("/artifacts/:window", s.handleGetArtifact)
	app.Get("/search", s.handleSearchEndpoint)
	app.Get("/stats", s.handleStats)
	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))
	app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
