package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// Schema creates the runs table. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        UUID PRIMARY KEY,
	status        TEXT NOT NULL,
	source_url    TEXT NOT NULL,
	bbox          DOUBLE PRECISION[] NOT NULL,
	min_zoom      INTEGER NOT NULL,
	max_zoom      INTEGER NOT NULL,
	format        TEXT NOT NULL,
	output_root   TEXT NOT NULL,
	workers       INTEGER NOT NULL,
	total         INTEGER NOT NULL,
	completed     INTEGER NOT NULL DEFAULT 0,
	fetched       INTEGER NOT NULL DEFAULT 0,
	resumed       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC, run_id DESC);
`

// Storage is the run journal. It implements worker.Journal.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Migrate applies Schema
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply runs schema: %w", err)
	}
	return nil
}

// StartRun inserts a run in its initial state
func (s *Storage) StartRun(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			run_id, status, source_url, bbox, min_zoom, max_zoom,
			format, output_root, workers, total, started_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.RunID,
		run.Status,
		run.SourceURL,
		pq.Float64Array(run.BBox[:]),
		run.MinZoom,
		run.MaxZoom,
		string(run.Format),
		run.OutputRoot,
		run.Workers,
		run.Total,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Run recorded",
		slog.String("run_id", run.RunID),
		slog.String("status", run.Status),
	)

	return nil
}

// FinishRun stores the final status and counts of a run
func (s *Storage) FinishRun(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $1,
			completed = $2,
			fetched = $3,
			resumed = $4,
			failed = $5,
			error_message = $6,
			finished_at = $7,
			updated_at = NOW()
		WHERE run_id = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Completed,
		run.Fetched,
		run.Resumed,
		run.Failed,
		run.Error,
		run.FinishedAt,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, run.RunID)
	}

	s.logger.Info("Run status updated",
		slog.String("run_id", run.RunID),
		slog.String("status", run.Status),
	)

	return nil
}
