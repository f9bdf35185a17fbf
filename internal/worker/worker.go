package worker

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
	"github.com/wisepythagoras/matilda/internal/worker/fetcher"
)

// DefaultProgressInterval is how many finished tiles pass between progress logs
const DefaultProgressInterval = 500

// Journal records run lifecycle transitions
type Journal interface {
	StartRun(ctx context.Context, run *domain.Run) error
	FinishRun(ctx context.Context, run *domain.Run) error
}

// Publisher announces stored tiles and finished runs. PublishTile is called
// from worker goroutines concurrently.
type Publisher interface {
	PublishTile(ctx context.Context, event *domain.TileEvent) error
	PublishRun(ctx context.Context, run *domain.Run) error
}

// Config holds dispatcher configuration
type Config struct {
	Logger           *slog.Logger
	Fetcher          fetcher.Fetcher
	Journal          Journal
	Publisher        Publisher
	Concurrency      int
	FetchTimeout     time.Duration
	AtomicWrites     bool
	Verbose          bool
	ProgressInterval int
}

// Request describes the tile set of one run
type Request struct {
	SourceURLTemplate string
	BBox              tiling.BoundingBox
	Zoom              tiling.ZoomRange
	OutputRoot        string
	Format            domain.Format
	Referrer          string
}

// Summary is the result of a run
type Summary struct {
	RunID     string
	Total     int
	Issued    int
	Completed int
	Fetched   int
	Resumed   int
	Failed    int
	Canceled  bool
	Duration  time.Duration
}

// Dispatcher fans tile jobs out to a fixed pool of workers. A Dispatcher runs
// one Request at a time; Run must not be called concurrently.
type Dispatcher struct {
	logger           *slog.Logger
	fetcher          fetcher.Fetcher
	journal          Journal
	publisher        Publisher
	concurrency      int
	fetchTimeout     time.Duration
	atomicWrites     bool
	verbose          bool
	progressInterval int
	progress         *Progress
}

// NewDispatcher creates a new dispatcher. A zero Concurrency means one worker
// per logical CPU.
func NewDispatcher(cfg *Config) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	progressInterval := cfg.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f := cfg.Fetcher
	if f == nil {
		f = fetcher.NewHTTPFetcher(fetcher.DefaultOptions())
	}

	return &Dispatcher{
		logger:           logger,
		fetcher:          f,
		journal:          cfg.Journal,
		publisher:        cfg.Publisher,
		concurrency:      concurrency,
		fetchTimeout:     cfg.FetchTimeout,
		atomicWrites:     cfg.AtomicWrites,
		verbose:          cfg.Verbose,
		progressInterval: progressInterval,
		progress:         &Progress{},
	}
}

// Concurrency returns the worker pool size
func (d *Dispatcher) Concurrency() int {
	return d.concurrency
}

// Progress returns the live progress of the current or last run
func (d *Dispatcher) Progress() *Progress {
	return d.progress
}
