package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db      *gorm.DB
	backend string
}

// NewHealthHandler creates a new health handler. backend names the vector engine in use.
func NewHealthHandler(db *gorm.DB, backend string) *HealthHandler {
	return &HealthHandler{db: db, backend: backend}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":         status,
		"vector_backend": h.backend,
	})
}
