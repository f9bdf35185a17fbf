package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wisepythagoras/matilda/internal/tiling"
)

// Format is the file extension tiles are stored under
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
	FormatJPEG Format = "jpeg"
)

// ParseFormat validates a format name. An empty name means png.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPNG, nil
	case FormatPNG, FormatJPG, FormatJPEG:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want png, jpg or jpeg)", ErrInvalidFormat, s)
	}
}

// ContentType returns the MIME type tiles of this format are served with
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// JobDescriptor carries everything a worker needs to fetch one tile
type JobDescriptor struct {
	Address           tiling.Coordinate
	SourceURLTemplate string
	Referrer          string
	OutputRoot        string
	Format            Format
}

// URL substitutes the {x}, {y} and {z} placeholders of the source template
func (j *JobDescriptor) URL() string {
	return strings.NewReplacer(
		"{x}", strconv.Itoa(j.Address.X),
		"{y}", strconv.Itoa(j.Address.Y),
		"{z}", strconv.Itoa(j.Address.Z),
	).Replace(j.SourceURLTemplate)
}

// Outcome classifies a finished job
type Outcome string

const (
	OutcomeFetched Outcome = "fetched"
	OutcomeResumed Outcome = "resumed"
	OutcomeFailed  Outcome = "failed"
)

// Report is sent by a worker to the dispatcher after every job
type Report struct {
	Worker   int
	Job      *JobDescriptor
	Outcome  Outcome
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Run describes one invocation of the dispatcher
type Run struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	SourceURL  string     `json:"source_url"`
	BBox       [4]float64 `json:"bbox"`
	MinZoom    int        `json:"min_zoom"`
	MaxZoom    int        `json:"max_zoom"`
	Format     Format     `json:"format"`
	OutputRoot string     `json:"output_root"`
	Workers    int        `json:"workers"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Fetched    int        `json:"fetched"`
	Resumed    int        `json:"resumed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TileEvent is published for every tile written to the store
type TileEvent struct {
	RunID    string    `json:"run_id"`
	Z        int       `json:"z"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	URL      string    `json:"url"`
	Path     string    `json:"path"`
	Bytes    int64     `json:"bytes"`
	StoredAt time.Time `json:"stored_at"`
}
