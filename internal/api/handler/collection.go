package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/api/middleware"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/service"
)

// CollectionHandler handles collection endpoints.
type CollectionHandler struct {
	collections *service.CollectionService
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(collections *service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

// CreateCollectionRequest represents the create collection API request.
type CreateCollectionRequest struct {
	DatasetID       string                    `json:"dataset_id" binding:"required"`
	ParentID        *string                   `json:"parent_id,omitempty"`
	Name            string                    `json:"name" binding:"required"`
	Type            domain.CollectionType     `json:"type" binding:"required"`
	FileID          string                    `json:"file_id,omitempty"`
	RawLink         string                    `json:"raw_link,omitempty"`
	APIFileID       string                    `json:"api_file_id,omitempty"`
	ExternalFileID  string                    `json:"external_file_id,omitempty"`
	ExternalFileURL string                    `json:"external_file_url,omitempty"`
	Metadata        domain.CollectionMetadata `json:"metadata"`
	Settings        domain.CollectionSettings `json:"settings"`
	RawText         string                    `json:"raw_text,omitempty"`
	Images          []ImageRequest            `json:"images,omitempty"`
	BillID          string                    `json:"bill_id,omitempty"`
}

// ImageRequest is one uploaded image of a create request.
type ImageRequest struct {
	ID      string `json:"id" binding:"required"`
	Caption string `json:"caption,omitempty"`
}

// Create creates a collection and enqueues its training tasks.
func (h *CollectionHandler) Create(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	images := make([]service.ImageInput, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, service.ImageInput{ID: img.ID, Caption: img.Caption})
	}

	res, err := h.collections.CreateAndInsert(c.Request.Context(), service.CreateParams{
		TeamID:          middleware.TeamID(c),
		DatasetID:       req.DatasetID,
		ParentID:        req.ParentID,
		Name:            req.Name,
		Type:            req.Type,
		FileID:          req.FileID,
		RawLink:         req.RawLink,
		APIFileID:       req.APIFileID,
		ExternalFileID:  req.ExternalFileID,
		ExternalFileURL: req.ExternalFileURL,
		Metadata:        req.Metadata,
		Settings:        req.Settings,
		RawText:         req.RawText,
		Images:          images,
		BillID:          req.BillID,
	}, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Sync parses, embeds and stores a collection inline.
func (h *CollectionHandler) Sync(c *gin.Context) {
	res, err := h.collections.SyncCollection(c.Request.Context(), middleware.TeamID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Delete removes a collection, its child collections and everything stored under them.
func (h *CollectionHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	cols, err := h.collections.FindWithChildren(ctx, middleware.TeamID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.collections.Delete(ctx, cols, service.DeleteOptions{DeleteImages: true, DeleteRawFiles: true}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(cols)})
}
