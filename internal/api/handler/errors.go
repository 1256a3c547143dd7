package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
)

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDatasetNotFound),
		errors.Is(err, domain.ErrCollectionNotFound),
		errors.Is(err, domain.ErrDataNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingParams),
		errors.Is(err, domain.ErrInvalidTrainingType),
		errors.Is(err, domain.ErrSourceMissing),
		errors.Is(err, domain.ErrUnsupportedSource),
		errors.Is(err, domain.ErrEmptyRawText):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCollectionLimit),
		errors.Is(err, domain.ErrCircularDataset),
		errors.Is(err, domain.ErrMaxDepthExceeded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTeamIndexLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Server errors are logged.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
