package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// FetchConfig describes the tile set to download
type FetchConfig struct {
	URL          string      `yaml:"url"`
	BBox         *[4]float64 `yaml:"bbox"` // south, west, north, east; nil until set
	Output       string      `yaml:"output"`
	MinZoom      int         `yaml:"min_zoom"`
	MaxZoom      int         `yaml:"max_zoom"`
	Format       string      `yaml:"format"`
	Referrer     string      `yaml:"referrer"`
	AtomicWrites bool        `yaml:"atomic_writes"`
	StatusAddr   string      `yaml:"status_addr"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	ProgressInterval    int           `yaml:"progress_interval"`
	UserAgent           string        `yaml:"user_agent"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	Verbose             bool          `yaml:"verbose"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ServerConfig holds HTTP server configuration for matilda serve
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration. The run journal
// is disabled when Host is empty.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration. Tile
// events are disabled when Host is empty.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// Enabled reports whether a broker is configured
func (c *RabbitMQConfig) Enabled() bool {
	return c.Host != ""
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	TileEvents        bool          `yaml:"tile_events"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "matilda",
			Version:     "dev",
			Environment: "development",
		},
		Fetch: FetchConfig{
			Output:  "tiles",
			MinZoom: 0,
			MaxZoom: 14,
			Format:  string(domain.FormatPNG),
		},
		Worker: WorkerConfig{
			Concurrency:         runtime.NumCPU(),
			FetchTimeout:        30 * time.Second,
			ProgressInterval:    500,
			UserAgent:           "matilda",
			MaxIdleConnsPerHost: 32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			RetryAttempts:   3,
			RetryInterval:   2 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "matilda.events",
				Type:    "topic",
				Durable: true,
			},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
				TileEvents:        true,
			},
		},
	}
}

// Load reads and parses the configuration file on top of Default. ${VAR}
// references are expanded from the environment before parsing so secrets can
// live in .env.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// BoundingBox returns the configured fetch area, or the zero box when none
// was given
func (c *FetchConfig) BoundingBox() tiling.BoundingBox {
	if c.BBox == nil {
		return tiling.BoundingBox{}
	}
	return tiling.NewBoundingBox(*c.BBox)
}

// ZoomRange returns the configured zoom levels
func (c *FetchConfig) ZoomRange() tiling.ZoomRange {
	return tiling.ZoomRange{Min: c.MinZoom, Max: c.MaxZoom}
}

// ValidateFetchConfig checks everything matilda fetch needs
func (c *Config) ValidateFetchConfig() error {
	if c.Fetch.URL == "" {
		return fmt.Errorf("%w: fetch url is required", ErrInvalid)
	}
	for _, p := range []string{"{x}", "{y}", "{z}"} {
		if !strings.Contains(c.Fetch.URL, p) {
			return fmt.Errorf("%w: fetch url must contain the %s placeholder", ErrInvalid, p)
		}
	}

	if c.Fetch.Output == "" {
		return fmt.Errorf("%w: fetch output directory is required", ErrInvalid)
	}

	if c.Fetch.BBox == nil {
		return fmt.Errorf("%w: fetch bbox is required", ErrInvalid)
	}
	if err := c.Fetch.BoundingBox().Validate(); err != nil {
		return fmt.Errorf("%w: bbox: %w", ErrInvalid, err)
	}

	if err := c.Fetch.ZoomRange().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if _, err := domain.ParseFormat(c.Fetch.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("%w: worker concurrency must be greater than 0", ErrInvalid)
	}

	if c.Worker.FetchTimeout < 0 {
		return fmt.Errorf("%w: worker fetch_timeout must not be negative", ErrInvalid)
	}

	return c.validateBackends()
}

// ValidateServeConfig checks everything matilda serve needs
func (c *Config) ValidateServeConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("%w: invalid server port: %d (must be between %d and %d)", ErrInvalid, c.Server.Port, MinPort, MaxPort)
	}

	if c.Fetch.Output == "" {
		return fmt.Errorf("%w: tile directory (fetch.output) is required", ErrInvalid)
	}

	if _, err := domain.ParseFormat(c.Fetch.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return c.validateBackends()
}

// validateBackends checks the optional database and broker sections
func (c *Config) validateBackends() error {
	if c.Database.Enabled() {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("%w: invalid database port: %d (must be between %d and %d)", ErrInvalid, c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("%w: database name is required", ErrInvalid)
		}
	}

	if c.RabbitMQ.Enabled() {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("%w: invalid rabbitmq port: %d (must be between %d and %d)", ErrInvalid, c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("%w: rabbitmq exchange name is required", ErrInvalid)
		}
	}

	return nil
}
