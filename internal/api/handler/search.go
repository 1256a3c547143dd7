package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/api/middleware"
	"github.com/timmy/kbpipe/internal/service"
)

// SearchHandler handles recall requests.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Recall handles POST /api/v1/recall.
func (h *SearchHandler) Recall(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.TeamID = middleware.TeamID(c)

	result, err := h.searchService.Recall(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
