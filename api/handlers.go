package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LedgerResponse lists the stage records of one window.
type LedgerResponse struct {
	WindowID string          `json:"window_id"`
	Records  []ledger.Record `json:"records"`
}

// StatsResponse reports in-process counters since the server started.
type StatsResponse struct {
	Cache map[cache.Tier]cache.Stats `json:"cache"`
	Index *retrieval.Stats           `json:"index,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListRuns returns run history, most recent first.
func (s *Server) handleListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	runs, err := s.store.ListRuns(c.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list runs"})
	}

	return c.JSON(map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

// handleListLedger returns ledger records filtered by stage and status.
func (s *Server) handleListLedger(c *fiber.Ctx) error {
	filter := ledger.Filter{Status: ledger.Status(c.Query("status"))}
	if st := c.Query("stage"); st != "" {
		stage, err := ledger.ParseStage(st)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
		filter.Stage = stage
	}

	records, err := s.store.List(c.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list ledger", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list ledger records"})
	}

	return c.JSON(map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// handleWindowLedger returns every stage record of one window.
func (s *Server) handleWindowLedger(c *fiber.Ctx) error {
	id, err := identity.Parse(c.Params("window"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid window id"})
	}

	records, err := s.store.List(c.Context(), ledger.Filter{Window: id})
	if err != nil {
		s.logger.Error("failed to list ledger", "window", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list ledger records"})
	}
	if len(records) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "window not found"})
	}

	return c.JSON(LedgerResponse{WindowID: id.String(), Records: records})
}

// handleGetArtifact returns the latest artifact generated for a window.
func (s *Server) handleGetArtifact(c *fiber.Ctx) error {
	id, err := identity.Parse(c.Params("window"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid window id"})
	}

	art, err := pipeline.LoadArtifact(c.Context(), s.cache, s.store, id)
	if err != nil {
		var notFound *storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: notFound.Error()})
		}
		s.logger.Error("failed to load artifact", "window", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load artifact"})
	}

	return c.JSON(art)
}

// handleStats returns cache and index counters.
func (s *Server) handleStats(c *fiber.Ctx) error {
	resp := StatsResponse{Cache: s.cache.Stats()}
	if s.config.Index != nil {
		st := s.config.Index.Stats()
		resp.Index = &st
	}
	return c.JSON(resp)
}

func parsePositive(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
