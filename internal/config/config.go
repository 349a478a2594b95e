// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Object store drivers.
const (
	ObjectStoreS3     = "s3"
	ObjectStoreMinio  = "minio"
	ObjectStoreMemory = "memory"
)

// Metadata store drivers.
const (
	MetadataDynamo = "dynamodb"
	MetadataSQLite = "sqlite"
	MetadataBadger = "badger"
	MetadataMemory = "memory"
)

type (
	Config struct {
		Service  string `env:"SERVICE_NAME" envDefault:"image-host"`
		HTTP     HTTP
		Log      Log
		Storage  Storage
		Metadata Metadata
		Events   Events
		Reaper   Reaper
		Metrics  Metrics
	}

	HTTP struct {
		Port            string        `env:"HTTP_PORT" envDefault:"3000"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"20s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"20s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
	}

	Storage struct {
		Driver         string `env:"OBJECT_STORE_DRIVER" envDefault:"s3"`
		Bucket         string `env:"S3_BUCKET" envDefault:"images"`
		Region         string `env:"AWS_REGION" envDefault:"us-east-1"`
		Endpoint       string `env:"AWS_ENDPOINT_URL"`
		UsePathStyle   bool   `env:"S3_USE_PATH_STYLE" envDefault:"false"`
		ScopedRoleArn  string `env:"S3_SCOPED_ROLE_ARN"`
		MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
		MinioAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
		MinioSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
		MinioSecure    bool   `env:"MINIO_SECURE" envDefault:"false"`
		MemoryBaseURL  string `env:"MEMORY_BASE_URL" envDefault:"http://localhost:9000"`
	}

	Metadata struct {
		Driver     string `env:"METADATA_DRIVER" envDefault:"dynamodb"`
		Table      string `env:"DDB_TABLE" envDefault:"Images"`
		SQLitePath string `env:"SQLITE_PATH" envDefault:"images.db"`
		BadgerDir  string `env:"BADGER_DIR" envDefault:"data/badger"`
	}

	Events struct {
		Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
		Topic   string   `env:"KAFKA_TOPIC" envDefault:"image-events"`
	}

	Reaper struct {
		Enabled    bool          `env:"REAPER_ENABLED" envDefault:"false"`
		Interval   time.Duration `env:"REAPER_INTERVAL" envDefault:"10m"`
		PendingTTL time.Duration `env:"REAPER_PENDING_TTL" envDefault:"24h"`
		Timeout    time.Duration `env:"REAPER_TIMEOUT" envDefault:"1m"`
	}

	Metrics struct {
		Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	}
)

// New loads an optional .env file and parses the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config error: load .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse parses configuration with opts, then validates it.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Validate checks driver names and the values they depend on.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case ObjectStoreS3, ObjectStoreMinio, ObjectStoreMemory:
	default:
		return fmt.Errorf("unknown object store driver %q", c.Storage.Driver)
	}
	switch c.Metadata.Driver {
	case MetadataDynamo, MetadataSQLite, MetadataBadger, MetadataMemory:
	default:
		return fmt.Errorf("unknown metadata driver %q", c.Metadata.Driver)
	}
	if c.Storage.Bucket == "" {
		return errors.New("S3_BUCKET must not be empty")
	}
	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		return errors.New("REAPER_INTERVAL must be positive")
	}
	return nil
}
