package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apidomain "github.com/wisepythagoras/matilda/internal/api/domain"
	"github.com/wisepythagoras/matilda/internal/api/dto"
	"github.com/wisepythagoras/matilda/internal/api/model"
	"github.com/wisepythagoras/matilda/internal/api/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func toRunDTO(run *model.Run) dto.RunDTO {
	out := dto.RunDTO{
		RunID:      run.RunID,
		Status:     run.Status,
		SourceURL:  run.SourceURL,
		BBox:       []float64(run.BBox),
		MinZoom:    run.MinZoom,
		MaxZoom:    run.MaxZoom,
		Format:     run.Format,
		OutputRoot: run.OutputRoot,
		Workers:    run.Workers,
		Total:      run.Total,
		Completed:  run.Completed,
		Fetched:    run.Fetched,
		Resumed:    run.Resumed,
		Failed:     run.Failed,
		Error:      run.ErrorMessage,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt.Valid {
		out.FinishedAt = run.FinishedAt.Time.UTC().Format(time.RFC3339)
	}
	return out
}

// GetRun handles GET /api/v1/runs/:run_id
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	if _, err := uuid.Parse(runID); err != nil {
		h.logger.Warn("Invalid run_id format", slog.String("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run_id must be a valid UUID",
		})
		return
	}

	run, err := h.runs.GetRunByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, apidomain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "run not found",
				"run_id": runID,
			})
			return
		}
		h.logger.Error("Failed to get run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

// ListRuns handles GET /api/v1/runs
// Lists runs newest first with optional status filter and cursor pagination
func (h *RunHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !apidomain.ValidRunStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = toRunDTO(&runs[i])
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&storage.RunCursor{
			StartedAt: last.StartedAt,
			RunID:     last.RunID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
