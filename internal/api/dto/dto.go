package dto

type ListRunsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	SourceURL  string    `json:"source_url"`
	BBox       []float64 `json:"bbox"`
	MinZoom    int       `json:"min_zoom"`
	MaxZoom    int       `json:"max_zoom"`
	Format     string    `json:"format"`
	OutputRoot string    `json:"output_root"`
	Workers    int       `json:"workers"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Fetched    int       `json:"fetched"`
	Resumed    int       `json:"resumed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
}

type BoundsDTO struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

type TileDTO struct {
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Format     string    `json:"format"`
	Path       string    `json:"path"`
	Exists     bool      `json:"exists"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt string    `json:"modified_at,omitempty"`
	Bounds     BoundsDTO `json:"bounds"`
}
