package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisepythagoras/matilda/internal/api/handler"
	apistorage "github.com/wisepythagoras/matilda/internal/api/storage"
	"github.com/wisepythagoras/matilda/internal/config"
	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
	"github.com/wisepythagoras/matilda/internal/worker/fetcher"
)

// fetchFlags holds the raw command-line values of matilda fetch
type fetchFlags struct {
	config       *string
	url          *string
	bbox         *string
	output       *string
	minZoom      *int
	maxZoom      *int
	format       *string
	referrer     *string
	workers      *int
	timeout      *time.Duration
	verbose      *bool
	atomicWrites *bool
	statusAddr   *string
}

func newFetchFlagSet() (*flag.FlagSet, *fetchFlags) {
	fset := flag.NewFlagSet("fetch", flag.ContinueOnError)

	f := &fetchFlags{
		config:       configPathFlag(fset),
		url:          fset.String("url", "", "Tile URL template with {z}, {x} and {y} placeholders"),
		bbox:         fset.String("bbox", "", "Bounding box as south,west,north,east in degrees"),
		output:       fset.String("output", "", "Output directory for the {z}/{x}/{y}.{format} tree"),
		minZoom:      fset.Int("min-zoom", 0, "Lowest zoom level to fetch"),
		maxZoom:      fset.Int("max-zoom", 0, "Highest zoom level to fetch"),
		format:       fset.String("format", "", "Tile file extension: png, jpg or jpeg"),
		referrer:     fset.String("referrer", "", "Referer header sent with every request"),
		workers:      fset.Int("workers", 0, "Number of parallel workers (default: logical CPUs)"),
		timeout:      fset.Duration("timeout", 0, "Per-tile fetch timeout, 0 for none"),
		verbose:      fset.Bool("verbose", false, "Log every failed tile and enable debug logging"),
		atomicWrites: fset.Bool("atomic-writes", false, "Write tiles to a .part file and rename when complete"),
		statusAddr:   fset.String("status-addr", "", "Serve /status, /metrics and tiles on this address while fetching"),
	}

	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: matilda fetch [options]

Download every tile covering a bounding box over a zoom range into
<output>/<z>/<x>/<y>.<format>. Tiles already on disk are skipped, so an
interrupted run resumes where it stopped when started again.

Options:`)
		fset.PrintDefaults()
	}

	return fset, f
}

// apply copies the flags the user actually set onto cfg
func (f *fetchFlags) apply(fset *flag.FlagSet, cfg *config.Config) error {
	var err error
	fset.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "url":
			cfg.Fetch.URL = *f.url
		case "bbox":
			var bbox [4]float64
			if bbox, err = parseBBox(*f.bbox); err == nil {
				cfg.Fetch.BBox = &bbox
			}
		case "output":
			cfg.Fetch.Output = *f.output
		case "min-zoom":
			cfg.Fetch.MinZoom = *f.minZoom
		case "max-zoom":
			cfg.Fetch.MaxZoom = *f.maxZoom
		case "format":
			cfg.Fetch.Format = *f.format
		case "referrer":
			cfg.Fetch.Referrer = *f.referrer
		case "workers":
			cfg.Worker.Concurrency = *f.workers
		case "timeout":
			cfg.Worker.FetchTimeout = *f.timeout
		case "verbose":
			cfg.Worker.Verbose = *f.verbose
		case "atomic-writes":
			cfg.Fetch.AtomicWrites = *f.atomicWrites
		case "status-addr":
			cfg.Fetch.StatusAddr = *f.statusAddr
		}
	})

	if cfg.Worker.Verbose {
		cfg.Logging.Level = "debug"
	}
	return err
}

func runFetch(args []string) int {
	fset, flags := newFetchFlagSet()
	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(fset, *flags.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if err := flags.apply(fset, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if err := cfg.ValidateFetchConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fset.Usage()
		return ExitInvalidArgs
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		return ExitGeneralError
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := fetch(ctx, cfg, appLogger.With(slog.String("command", "fetch")).Logger)
	return fetchExitCode(summary, err)
}

// fetch wires the optional backends, runs the dispatcher and, when
// configured, the status server alongside it
func fetch(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*worker.Summary, error) {
	format, err := domain.ParseFormat(cfg.Fetch.Format)
	if err != nil {
		return nil, err
	}

	logger.Info("Starting matilda fetch",
		slog.String("app", cfg.App.Name),
		slog.String("version", version),
		slog.String("environment", cfg.App.Environment),
	)

	workerCfg := &worker.Config{
		Logger: logger,
		Fetcher: fetcher.NewHTTPFetcher(fetcher.Options{
			Timeout:             cfg.Worker.FetchTimeout,
			MaxIdleConnsPerHost: cfg.Worker.MaxIdleConnsPerHost,
			UserAgent:           cfg.Worker.UserAgent,
		}),
		Concurrency:      cfg.Worker.Concurrency,
		FetchTimeout:     cfg.Worker.FetchTimeout,
		AtomicWrites:     cfg.Fetch.AtomicWrites,
		Verbose:          cfg.Worker.Verbose,
		ProgressInterval: cfg.Worker.ProgressInterval,
	}

	deps := &handler.Dependencies{
		Logger:   logger,
		Service:  cfg.App.Name,
		TileRoot: cfg.Fetch.Output,
		Format:   format,
	}

	if cfg.Database.Enabled() {
		dbClient, journal, err := initJournal(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run journal: %w", err)
		}
		defer dbClient.Close()

		workerCfg.Journal = journal
		deps.Database = dbClient
		deps.Runs = apistorage.NewStorage(dbClient.GetDB())
	}

	if cfg.RabbitMQ.Enabled() {
		rabbitClient, publisher, err := initPublisher(ctx, &cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		workerCfg.Publisher = publisher
	}

	dispatcher := worker.NewDispatcher(workerCfg)
	deps.Progress = dispatcher.Progress()

	req := &worker.Request{
		SourceURLTemplate: cfg.Fetch.URL,
		BBox:              cfg.Fetch.BoundingBox(),
		Zoom:              cfg.Fetch.ZoomRange(),
		OutputRoot:        cfg.Fetch.Output,
		Format:            format,
		Referrer:          cfg.Fetch.Referrer,
	}

	for z := req.Zoom.Min; z <= req.Zoom.Max; z++ {
		b := tiling.BoundsAt(req.BBox, z)
		logger.Debug("Zoom level bounds",
			slog.Int("zoom", z),
			slog.Int("west", b.West),
			slog.Int("east", b.East),
			slog.Int("north", b.North),
			slog.Int("south", b.South),
			slog.Int("tiles", b.Count()),
		)
	}

	var srv *http.Server
	var ln net.Listener
	if cfg.Fetch.StatusAddr != "" {
		ln, err = net.Listen("tcp", cfg.Fetch.StatusAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on status address: %w", err)
		}
		srv = &http.Server{
			Handler:     initRouter(cfg.App.Environment, deps),
			ReadTimeout: cfg.Server.ReadTimeout,
			IdleTimeout: cfg.Server.IdleTimeout,
		}
		logger.Info("Status server listening", slog.String("address", ln.Addr().String()))
	}

	g, gctx := errgroup.WithContext(ctx)

	var summary *worker.Summary
	g.Go(func() error {
		if srv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		var err error
		summary, err = dispatcher.Run(gctx, req)
		return err
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()

	if summary != nil && (summary.Failed > 0 || summary.Canceled) {
		logger.Warn("Some tiles are missing; run the same command again to resume",
			slog.Int("failed", summary.Failed),
			slog.Int("not_issued", summary.Total-summary.Issued),
		)
	}

	return summary, err
}

// fetchExitCode maps the outcome of a run to the process exit status
func fetchExitCode(summary *worker.Summary, err error) int {
	var pathErr *domain.PathError
	switch {
	case errors.As(err, &pathErr):
		return ExitPathError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	case summary != nil && summary.Failed > 0:
		return ExitGeneralError
	default:
		return ExitSuccess
	}
}
