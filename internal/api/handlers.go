package api

import (
	"net/http"
	"strings"
	"time"

	"cryptoblade/internal/logging"

	"github.com/gin-gonic/gin"
)

// handleHealth is the liveness probe: 503 once no cycle has completed within
// the staleness threshold.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.orch.Status()
	body := gin.H{
		"status":     "healthy",
		"cycle":      status.Cycle,
		"last_cycle": status.LastCycle.Format(time.RFC3339),
		"symbols":    status.Symbols,
	}
	if !s.orch.Healthy() {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.orch.Status())
}

func (s *Server) handleStrategies(c *gin.Context) {
	snapshots := s.orch.Strategies()
	if side := c.Query("in_trade"); side != "" {
		filtered := snapshots[:0]
		for _, snap := range snapshots {
			if (side == "long" && snap.Long.InTrade) || (side == "short" && snap.Short.InTrade) {
				filtered = append(filtered, snap)
			}
		}
		snapshots = filtered
	}
	successResponse(c, snapshots)
}

func (s *Server) handleStrategy(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	snap, ok := s.orch.Strategy(symbol)
	if !ok {
		logging.FromContext(c.Request.Context()).Debug().Str("symbol", symbol).Msg("Unknown symbol requested")
		errorResponse(c, http.StatusNotFound, "unknown symbol "+symbol)
		return
	}
	successResponse(c, snap)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
