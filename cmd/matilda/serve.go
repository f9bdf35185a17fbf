package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisepythagoras/matilda/internal/api/handler"
	apistorage "github.com/wisepythagoras/matilda/internal/api/storage"
	"github.com/wisepythagoras/matilda/internal/config"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

func runServe(args []string) int {
	fset := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := configPathFlag(fset)
	port := fset.Int("port", 0, "HTTP port (overrides server.port)")
	output := fset.String("output", "", "Tile directory to serve (overrides fetch.output)")
	format := fset.String("format", "", "Tile file extension: png, jpg or jpeg")

	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: matilda serve [options]

Serve a downloaded tile tree at /tiles/{z}/{x}/{y} and, when a database is
configured, the run history at /api/v1/runs.

Options:`)
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(fset, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if flagSet(fset, "port") {
		cfg.Server.Port = *port
	}
	if flagSet(fset, "output") {
		cfg.Fetch.Output = *output
	}
	if flagSet(fset, "format") {
		cfg.Fetch.Format = *format
	}

	if err := cfg.ValidateServeConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

	if err := serve(ctx, cfg, appLogger.With(slog.String("command", "serve")).Logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	return ExitSuccess
}

// serve runs the tile server until ctx is canceled
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	format, err := domain.ParseFormat(cfg.Fetch.Format)
	if err != nil {
		return err
	}

	logger.Info("Starting matilda serve",
		slog.String("app", cfg.App.Name),
		slog.String("version", version),
		slog.String("environment", cfg.App.Environment),
		slog.String("tile_root", cfg.Fetch.Output),
	)

	deps := &handler.Dependencies{
		Logger:   logger,
		Service:  cfg.App.Name,
		TileRoot: cfg.Fetch.Output,
		Format:   format,
	}

	if cfg.Database.Enabled() {
		dbClient, err := initPostgreSQL(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		logger.Info("Database connection established")
		deps.Database = dbClient
		deps.Runs = apistorage.NewStorage(dbClient.GetDB())
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      initRouter(cfg.App.Environment, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
