package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/api/middleware"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/vectorstore"
)

// DatasetHandler handles dataset-wide endpoints.
type DatasetHandler struct {
	datasets *service.DatasetService
	tasks    *repository.TrainingRepository
	vectors  *vectorstore.Store
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(datasets *service.DatasetService, tasks *repository.TrainingRepository, vectors *vectorstore.Store) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, tasks: tasks, vectors: vectors}
}

// Delete removes a dataset and all of its descendants.
func (h *DatasetHandler) Delete(c *gin.Context) {
	if err := h.datasets.Delete(c.Request.Context(), middleware.TeamID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// EnhanceIndexesRequest represents the enhance indexes API request.
type EnhanceIndexesRequest struct {
	CollectionID string   `json:"collection_id,omitempty"`
	DataIDs      []string `json:"data_ids,omitempty"`
	Model        string   `json:"model,omitempty"`
	Size         int      `json:"size,omitempty" binding:"omitempty,min=1"`
}

// EnhanceIndexes queues index enhancement for a dataset, a collection or listed data.
func (h *DatasetHandler) EnhanceIndexes(c *gin.Context) {
	var req EnhanceIndexesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.datasets.EnhanceDatasetIndexes(c.Request.Context(), service.EnhanceRequest{
		TeamID:       middleware.TeamID(c),
		DatasetID:    c.Param("id"),
		CollectionID: req.CollectionID,
		DataIDs:      req.DataIDs,
		Model:        req.Model,
		Size:         req.Size,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// TransferRequest represents the transfer team API request.
type TransferRequest struct {
	NewTeamID string `json:"new_team_id" binding:"required"`
}

// Transfer moves a dataset tree to another team.
func (h *DatasetHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	migrated, err := h.datasets.TransferTeam(c.Request.Context(), middleware.TeamID(c), c.Param("id"), req.NewTeamID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"migrated_vectors": migrated})
}

// VectorCount returns how many vectors the caller's team holds.
func (h *DatasetHandler) VectorCount(c *gin.Context) {
	n, err := h.vectors.CountByTeam(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// TrainingStats returns per-mode task counts of the caller's team.
func (h *DatasetHandler) TrainingStats(c *gin.Context) {
	stats, err := h.tasks.Stats(c.Request.Context(), middleware.TeamID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modes": stats})
}
