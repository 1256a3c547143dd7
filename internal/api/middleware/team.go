package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/logger"
)

const (
	// TeamHeader carries the caller's team id.
	TeamHeader = "X-Team-ID"
	teamKey    = "team_id"
)

// TeamScope requires a team id header and adds it to the request logger fields.
func TeamScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := strings.TrimSpace(c.GetHeader(TeamHeader))
		if teamID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + TeamHeader + " header"})
			return
		}
		c.Set(teamKey, teamID)
		ctx := logger.WithFields(c.Request.Context(), logger.Fields{logger.FieldTeamID: teamID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TeamID returns the team id set by TeamScope.
func TeamID(c *gin.Context) string {
	return c.GetString(teamKey)
}
