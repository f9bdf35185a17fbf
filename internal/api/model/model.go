package model

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type Run struct {
	RunID        string          `db:"run_id"`
	Status       string          `db:"status"`
	SourceURL    string          `db:"source_url"`
	BBox         pq.Float64Array `db:"bbox"`
	MinZoom      int             `db:"min_zoom"`
	MaxZoom      int             `db:"max_zoom"`
	Format       string          `db:"format"`
	OutputRoot   string          `db:"output_root"`
	Workers      int             `db:"workers"`
	Total        int             `db:"total"`
	Completed    int             `db:"completed"`
	Fetched      int             `db:"fetched"`
	Resumed      int             `db:"resumed"`
	Failed       int             `db:"failed"`
	ErrorMessage string          `db:"error_message"`
	StartedAt    time.Time       `db:"started_at"`
	FinishedAt   sql.NullTime    `db:"finished_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}
