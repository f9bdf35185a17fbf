package handler

import (
	"context"
	"log/slog"

	"github.com/wisepythagoras/matilda/internal/api/model"
	"github.com/wisepythagoras/matilda/internal/api/storage"
	"github.com/wisepythagoras/matilda/internal/worker"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// RunStore is the read side of the run journal
type RunStore interface {
	GetRunByID(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers. Runs, Database and
// Progress are optional; the routes that need them are only registered when
// they are set.
type Dependencies struct {
	Logger   *slog.Logger
	Service  string
	TileRoot string
	Format   domain.Format
	Runs     RunStore
	Database HealthChecker
	Progress *worker.Progress
}

// TileHandler serves tiles from the store
type TileHandler struct {
	logger *slog.Logger
	root   string
	format domain.Format
}

// NewTileHandler creates a new TileHandler instance
func NewTileHandler(deps *Dependencies) *TileHandler {
	format := deps.Format
	if format == "" {
		format = domain.FormatPNG
	}
	return &TileHandler{
		logger: deps.Logger,
		root:   deps.TileRoot,
		format: format,
	}
}

// RunHandler serves run history from the journal
type RunHandler struct {
	logger *slog.Logger
	runs   RunStore
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger: deps.Logger,
		runs:   deps.Runs,
	}
}
