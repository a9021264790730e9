package config

import (
	"fmt"

	"github.com/tendant/content-versions/pkg/contentstore/driver/gridfs"
	"github.com/tendant/content-versions/pkg/contentstore/driver/natsobj"
	"github.com/tendant/content-versions/pkg/contentstore/driver/s3"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogLevel sets the log level
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}

// WithDatabaseURL selects the metadata database from a URL; "memory" or empty means in-process.
func WithDatabaseURL(raw string) Option {
	return func(c *Config) error {
		dbType, err := ParseDatabaseURL(raw)
		if err != nil {
			return err
		}
		c.DatabaseType = dbType
		c.DatabaseURL = ""
		if dbType == DatabasePostgres {
			c.DatabaseURL = raw
		}
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL selects the storage driver from a URL, see ParseStorageURL
func WithStorageURL(raw string) Option {
	return func(c *Config) error {
		storage, err := ParseStorageURL(raw)
		if err != nil {
			return err
		}
		c.Storage = storage
		return nil
	}
}

// WithMemoryStorage stores content in process memory
func WithMemoryStorage() Option {
	return func(c *Config) error {
		c.Storage = Storage{Type: StorageMemory}
		return nil
	}
}

// WithFilesystemStorage stores content under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *Config) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = Storage{Type: StorageFS, BaseDir: baseDir}
		return nil
	}
}

// WithS3Storage stores content in an S3-compatible bucket
func WithS3Storage(cfg s3.Config) Option {
	return func(c *Config) error {
		if cfg.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.Storage = Storage{Type: StorageS3, S3: cfg}
		return nil
	}
}

// WithLargeObjectStorage stores content as Postgres large objects in the metadata database
func WithLargeObjectStorage() Option {
	return func(c *Config) error {
		c.Storage = Storage{Type: StoragePGLO}
		return nil
	}
}

// WithGridFSStorage stores content in a MongoDB GridFS bucket
func WithGridFSStorage(cfg gridfs.Config) Option {
	return func(c *Config) error {
		c.Storage = Storage{Type: StorageGridFS, GridFS: cfg}
		return nil
	}
}

// WithNATSStorage stores content in a NATS JetStream object store
func WithNATSStorage(cfg natsobj.Config) Option {
	return func(c *Config) error {
		c.Storage = Storage{Type: StorageNATS, NATS: cfg}
		return nil
	}
}

// WithPlacement selects the placement strategy by name
func WithPlacement(name string) Option {
	return func(c *Config) error {
		c.Placement = name
		return nil
	}
}

// WithMetrics toggles the Prometheus collectors
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.Metrics = enabled
		return nil
	}
}

// s3Config leaves an empty region to AWS_REGION or the driver default
func s3Config(bucket, prefix, region, endpoint string) s3.Config {
	return s3.Config{Bucket: bucket, Prefix: prefix, Region: region, Endpoint: endpoint}
}

func gridfsConfig(uri, database, bucket string) gridfs.Config {
	return gridfs.Config{URI: uri, Database: database, Bucket: bucket}
}

func natsConfig(server, bucket string, replicas int) natsobj.Config {
	return natsobj.Config{URL: server, Bucket: bucket, Replicas: replicas}
}
