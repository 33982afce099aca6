package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// ACTIVITY LOG HANDLER
// ============================================================================

// handleRecentLogs returns the newest activity entries, newest first.
func (s *Server) handleRecentLogs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	successResponse(c, gin.H{
		"logs": s.recorder.Recent(limit),
	})
}
