// Package config loads and validates the application configuration from
// the environment.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Config holds the application configuration.
type Config struct {
	Port     int    `env:"PORT, default=8080"`
	LogLevel string `env:"LOG_LEVEL, default=info" validate:"oneof=debug info warn error"`
	LogJSON  bool   `env:"LOG_JSON, default=true"`

	// Vendor credentials. All optional; a vendor without a credential is
	// simply unavailable.
	RunwayAPIKey      string `env:"RUNWAY_API_KEY"`
	ReplicateAPIToken string `env:"REPLICATE_API_TOKEN"`
	FalAPIKey         string `env:"FAL_API_KEY"`

	// DatabaseURL selects the Postgres job store. Empty means in-memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr selects the Redis work queue, required for running
	// cmd/worker separately from the API. Empty means in-memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`

	// Storage backend: "local" or "s3".
	StorageType    string `env:"STORAGE_TYPE, default=local" validate:"oneof=local s3"`
	StorageDir     string `env:"STORAGE_DIR"`
	StorageBaseURL string `env:"STORAGE_BASE_URL, default=http://localhost:8080/assets"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION, default=us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	// Worker pool and retry policy. EMBEDDED_WORKERS=false turns the
	// API process into a pure producer; cmd/worker drains the queue.
	EmbeddedWorkers bool          `env:"EMBEDDED_WORKERS, default=true"`
	WorkerCount     int           `env:"WORKER_COUNT, default=2" validate:"min=1,max=64"`
	RetryAttempts   int           `env:"RETRY_ATTEMPTS, default=3" validate:"min=1,max=10"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF, default=5s"`

	// Rate limit on generation starts across all workers.
	RateLimitMax    int           `env:"RATE_LIMIT_MAX, default=10"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW, default=60s"`

	// Vendor polling cadence and ceiling.
	PollInterval time.Duration `env:"POLL_INTERVAL, default=3s"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT, default=10m"`
}

// Load reads the configuration from the environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StorageType == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("invalid configuration: S3_BUCKET is required when STORAGE_TYPE=s3")
	}
	return nil
}

// NewLogger builds the application logger from the configuration.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
