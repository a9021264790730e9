// Package config builds the storage driver, placement and database pool for a
// content-versions deployment from functional options and environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/driver/fs"
	"github.com/tendant/content-versions/pkg/contentstore/driver/gridfs"
	"github.com/tendant/content-versions/pkg/contentstore/driver/memory"
	"github.com/tendant/content-versions/pkg/contentstore/driver/natsobj"
	"github.com/tendant/content-versions/pkg/contentstore/driver/pglo"
	"github.com/tendant/content-versions/pkg/contentstore/driver/s3"
	"github.com/tendant/content-versions/pkg/contentstore/placement"
)

// Storage driver types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
	StoragePGLO   = "pglo"
	StorageGridFS = "gridfs"
	StorageNATS   = "nats"
)

// Database types
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:         "8080",
		Environment:  "development",
		LogLevel:     "info",
		DatabaseType: DatabaseMemory,
		Placement:    "flat",
		Storage:      Storage{Type: StorageMemory},
		Metrics:      true,
	}
}

// Config is the deployment configuration
type Config struct {
	Port        string
	Environment string // development, production, testing
	LogLevel    string // debug, info, warn, error

	// Metadata database
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres search_path, empty keeps the server default

	Storage   Storage
	Placement string // see placement.ByName

	Metrics bool
}

// Storage selects and configures the content driver
type Storage struct {
	Type    string // one of the Storage* constants
	BaseDir string // fs

	S3     s3.Config
	GridFS gridfs.Config
	NATS   natsobj.Config
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != DatabaseMemory && c.DatabaseType != DatabasePostgres {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == DatabasePostgres && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageFS:
		if c.Storage.BaseDir == "" {
			return errors.New("filesystem storage requires a base directory")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("s3 storage requires a bucket")
		}
	case StoragePGLO:
		if c.DatabaseType != DatabasePostgres {
			return errors.New("large object storage requires a postgres database")
		}
	case StorageGridFS:
		if c.Storage.GridFS.URI == "" || c.Storage.GridFS.Database == "" {
			return errors.New("gridfs storage requires a mongodb uri and database")
		}
	case StorageNATS:
		if c.Storage.NATS.Bucket == "" {
			return errors.New("nats storage requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if _, err := placement.ByName(c.Placement); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BuildPlacement returns the configured placement strategy
func (c *Config) BuildPlacement() (contentstore.Placement, error) {
	return placement.ByName(c.Placement)
}

// OpenPool connects to the metadata database and sets search_path when a schema is configured.
func (c *Config) OpenPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseType != DatabasePostgres {
		return nil, fmt.Errorf("database type %s has no connection pool", c.DatabaseType)
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// Closer releases connections opened by BuildDriver
type Closer func(ctx context.Context) error

// BuildDriver creates the configured storage driver. pool is required for large object
// storage and ignored otherwise. The returned Closer is never nil.
func (c *Config) BuildDriver(ctx context.Context, pool *pgxpool.Pool) (contentstore.Driver, Closer, error) {
	noop := func(context.Context) error { return nil }

	switch c.Storage.Type {
	case StorageMemory:
		return memory.New(), noop, nil

	case StorageFS:
		d, err := fs.New(fs.Config{BaseDir: c.Storage.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build filesystem driver: %w", err)
		}
		return d, noop, nil

	case StorageS3:
		d, err := s3.New(ctx, c.Storage.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build s3 driver: %w", err)
		}
		return d, noop, nil

	case StoragePGLO:
		if pool == nil {
			return nil, nil, errors.New("large object storage requires a database pool")
		}
		return pglo.New(pool), noop, nil

	case StorageGridFS:
		d, disconnect, err := gridfs.Connect(ctx, c.Storage.GridFS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build gridfs driver: %w", err)
		}
		return d, Closer(disconnect), nil

	case StorageNATS:
		d, closeConn, err := natsobj.Connect(ctx, c.Storage.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build nats driver: %w", err)
		}
		return d, func(context.Context) error { closeConn(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
}

// CloseAll runs closers in reverse order and aggregates their errors
func CloseAll(ctx context.Context, closers ...Closer) error {
	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
