// Package bootstrap provides dependency initialization for the video
// generation API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stylemotion/catwalk-api/internal/config"
	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
	"github.com/stylemotion/catwalk-api/internal/queue"
	"github.com/stylemotion/catwalk-api/internal/reconcile"
	"github.com/stylemotion/catwalk-api/internal/storage"
	"github.com/stylemotion/catwalk-api/internal/worker"
)

// Dependencies holds all initialized collaborators.
type Dependencies struct {
	Service  *job.Service
	Registry *provider.Registry
	Queue    queue.Queue
	Repo     job.Repository
	Storage  storage.Storage
	Pool     *worker.Pool

	// AssetsDir is set when local storage serves files from disk.
	AssetsDir string

	pgPool *pgxpool.Pool
	rdb    *redis.Client
}

// NewDependencies creates and initializes all collaborators from the
// configuration.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	repo, err := initRepository(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	deps.Repo = repo

	q, err := initQueue(ctx, cfg, logger, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Queue = q

	store, err := initStorage(cfg, logger, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Storage = store

	registry := provider.NewRegistry(provider.Credentials{
		RunwayAPIKey:      cfg.RunwayAPIKey,
		ReplicateAPIToken: cfg.ReplicateAPIToken,
		FalAPIKey:         cfg.FalAPIKey,
	})
	deps.Registry = registry
	logger.Info("providers configured", slog.Any("available", registry.Available()))

	deps.Service = job.NewService(repo, q, registry, logger)

	reconciler := reconcile.New(repo, logger,
		reconcile.WithInterval(cfg.PollInterval),
		reconcile.WithTimeout(cfg.PollTimeout),
	)
	deps.Pool = worker.NewPool(q, repo, registry, store, reconciler, logger,
		worker.WithWorkers(cfg.WorkerCount),
		worker.WithMaxAttempts(cfg.RetryAttempts),
		worker.WithBackoffBase(cfg.RetryBackoff),
		worker.WithStartLimiter(worker.NewStartLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)),
	)

	return deps, nil
}

// Close releases backend connections.
func (d *Dependencies) Close() {
	if d.Queue != nil {
		_ = d.Queue.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.pgPool != nil {
		d.pgPool.Close()
	}
}

// initRepository picks the Postgres job store when DATABASE_URL is set,
// in-memory otherwise.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("in-memory job repository configured")
		return job.NewMemoryRepository(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	deps.pgPool = pool

	repo, err := job.NewPostgresRepository(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres repository: %w", err)
	}
	logger.Info("postgres job repository configured")
	return repo, nil
}

// initQueue picks the Redis queue when REDIS_ADDR is set, in-memory
// otherwise.
func initQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (queue.Queue, error) {
	if cfg.RedisAddr == "" {
		logger.Info("in-memory work queue configured")
		return queue.NewMemoryQueue(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	deps.rdb = rdb

	logger.Info("redis work queue configured", slog.String("addr", cfg.RedisAddr))
	return queue.NewRedisQueue(rdb), nil
}

// initStorage creates the appropriate storage backend based on
// configuration.
func initStorage(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (storage.Storage, error) {
	if cfg.StorageType == "s3" {
		s3Store, err := storage.NewS3Storage(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.StorageDir, cfg.StorageBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	deps.AssetsDir = localStore.BaseDir()
	logger.Info("local storage configured",
		slog.String("dir", localStore.BaseDir()),
		slog.String("base_url", cfg.StorageBaseURL),
	)
	return localStore, nil
}
