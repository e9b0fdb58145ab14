package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/search"
	"github.com/harleven/casedocs/pkg/logger"
)

type SearchHandler struct {
	service *search.Service
	logger  logger.Logger
}

func NewSearchHandler(service *search.Service, logger logger.Logger) *SearchHandler {
	return &SearchHandler{
		service: service,
		logger:  logger,
	}
}

// SearchRequest is the body for both search endpoints. The weights only
// apply to hybrid search.
type SearchRequest struct {
	Query          string  `json:"query" binding:"required"`
	CaseID         string  `json:"case_id"`
	Limit          int     `json:"limit"`
	Threshold      float64 `json:"threshold"`
	SemanticWeight float64 `json:"semantic_weight"`
	LexicalWeight  float64 `json:"lexical_weight"`
}

func (r *SearchRequest) options() search.Options {
	return search.Options{
		CaseID:         r.CaseID,
		Limit:          r.Limit,
		Threshold:      r.Threshold,
		SemanticWeight: r.SemanticWeight,
		LexicalWeight:  r.LexicalWeight,
	}
}

// Semantic ranks chunks by embedding similarity.
func (h *SearchHandler) Semantic(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, "Invalid search request",
			&errs.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	results, err := h.service.Semantic(c.Request.Context(), req.Query, req.options())
	if err != nil {
		handleError(c, h.logger, "Search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// Hybrid blends embedding similarity with full-text relevance.
func (h *SearchHandler) Hybrid(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, "Invalid search request",
			&errs.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	results, err := h.service.Hybrid(c.Request.Context(), req.Query, req.options())
	if err != nil {
		handleError(c, h.logger, "Search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// Stats reports indexing progress for a case.
func (h *SearchHandler) Stats(c *gin.Context) {
	stats, err := h.service.StatsFor(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get search stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
