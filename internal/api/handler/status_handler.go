package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"service":  deps.Service,
					"database": err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.Service,
		})
	}
}

// Status handles GET /status with a snapshot of the current fetch run
func Status(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Progress.Snapshot())
	}
}
