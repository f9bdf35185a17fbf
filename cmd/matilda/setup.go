package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wisepythagoras/matilda/internal/api/handler"
	"github.com/wisepythagoras/matilda/internal/api/router"
	"github.com/wisepythagoras/matilda/internal/config"
	"github.com/wisepythagoras/matilda/internal/worker/events"
	"github.com/wisepythagoras/matilda/internal/worker/storage"
	"github.com/wisepythagoras/matilda/shared/logger"
	"github.com/wisepythagoras/matilda/shared/postgresql"
	"github.com/wisepythagoras/matilda/shared/rabbitmq"
)

const defaultConfigPath = "configs/matilda.yaml"

// configPathFlag registers -config with its default taken from
// MATILDA_CONFIG_PATH
func configPathFlag(fset *flag.FlagSet) *string {
	path := os.Getenv("MATILDA_CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	return fset.String("config", path, "Path to configuration file")
}

// loadConfig loads .env and the configuration file. A missing file is only an
// error when the path was given explicitly.
func loadConfig(fset *flag.FlagSet, path string) (*config.Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	if errors.Is(err, fs.ErrNotExist) && !flagSet(fset, "config") && os.Getenv("MATILDA_CONFIG_PATH") == "" {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

// flagSet reports whether name was given on the command line
func flagSet(fset *flag.FlagSet, name string) bool {
	found := false
	fset.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// parseBBox parses "south,west,north,east"
func parseBBox(s string) ([4]float64, error) {
	var bbox [4]float64

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bbox, fmt.Errorf("bbox must have 4 comma-separated values (south,west,north,east), got %d", len(parts))
	}

	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox, fmt.Errorf("bbox value %q: %w", p, err)
		}
		bbox[i] = v
	}

	return bbox, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   cfg.RetryAttempts,
		RetryInterval:   cfg.RetryInterval,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initJournal connects to PostgreSQL and applies the runs schema
func initJournal(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, *storage.Storage, error) {
	dbClient, err := initPostgreSQL(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	journal := storage.NewStorage(dbClient.GetDB(), logger)
	if err := journal.Migrate(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	return dbClient, journal, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
		Exchange: rabbitmq.Exchange{
			Name:       cfg.Exchange.Name,
			Type:       cfg.Exchange.Type,
			Durable:    cfg.Exchange.Durable,
			AutoDelete: cfg.Exchange.AutoDelete,
		},
		RetryAttempts: cfg.Connection.RetryAttempts,
		RetryInterval: cfg.Connection.RetryInterval,
		Heartbeat:     cfg.Connection.Heartbeat,
		Publish: rabbitmq.PublishPolicy{
			Retries:    cfg.Publish.RetryAttempts,
			Delay:      cfg.Publish.RetryInterval,
			Multiplier: cfg.Publish.BackoffMultiplier,
		},
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initPublisher connects to RabbitMQ and wraps it in a tile event publisher
func initPublisher(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, *events.Publisher, error) {
	rabbitClient, err := initRabbitMQ(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return rabbitClient, events.NewPublisher(rabbitClient, logger, cfg.Publish.TileEvents), nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
