package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wisepythagoras/matilda/internal/api/domain"
	"github.com/wisepythagoras/matilda/internal/api/model"
)

const runColumns = `
	run_id, status, source_url, bbox, min_zoom, max_zoom,
	format, output_root, workers, total, completed, fetched,
	resumed, failed, error_message, started_at, finished_at, updated_at
`

// Storage is the read side of the run journal
type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) GetRunByID(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

	err := s.db.GetContext(ctx, &run, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

type RunFilter struct {
	Status   string
	PageSize int
	Cursor   *RunCursor
}

type RunCursor struct {
	StartedAt time.Time
	RunID     string
}

// ListRuns returns up to PageSize+1 runs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, run_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY started_at DESC, run_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []model.Run
	err := s.db.SelectContext(ctx, &runs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}
