package api

import (
	"github.com/gofiber/fiber/v2"

	apisearch "github.com/papercomputeco/spool/api/search"
)

// handleSearchEndpoint handles GET /search requests.
// Query parameters:
//   - q (required): the search query text
//   - k (optional, default 5): number of results to return
func (s *Server) handleSearchEndpoint(c *fiber.Ctx) error {
	if s.config.Index == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "search is not configured: retrieval is disabled",
		})
	}

	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "q parameter is required",
		})
	}

	topK, ok := parsePositive(c.Query("k"), apisearch.DefaultTopK)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "k must be a positive integer",
		})
	}

	output, err := apisearch.Search(c.Context(), s.config.Index, apisearch.SearchInput{Query: query, TopK: topK}, s.logger)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: err.Error(),
		})
	}

	return c.JSON(output)
}
