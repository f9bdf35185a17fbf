package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisepythagoras/matilda/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Logger))
	r.Use(CORS())

	r.GET("/health", handler.Health(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Live progress is only available while a fetch is running in-process
	if deps.Progress != nil {
		r.GET("/status", handler.Status(deps))
	}

	tileHandler := handler.NewTileHandler(deps)

	// GET /tiles/:z/:x/:y - Raw tile bytes; y may carry the format extension
	r.GET("/tiles/:z/:x/:y", tileHandler.ServeTile)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/tiles/:z/:x/:y - Tile metadata and geographic bounds
		v1.GET("/tiles/:z/:x/:y", tileHandler.GetTileMetadata)

		if deps.Runs != nil {
			runHandler := handler.NewRunHandler(deps)

			runs := v1.Group("/runs")
			{
				// GET /api/v1/runs - List runs with filtering and pagination
				runs.GET("", runHandler.ListRuns)

				// GET /api/v1/runs/:run_id - Get run details
				runs.GET("/:run_id", runHandler.GetRun)
			}
		}
	}

	return r
}
