// Package main provides the standalone worker process. It consumes the
// shared Redis work queue, so DATABASE_URL and REDIS_ADDR are required:
// job state and the queue must live in backends every process can reach.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stylemotion/catwalk-api/internal/bootstrap"
	"github.com/stylemotion/catwalk-api/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the standalone worker")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the standalone worker")
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting catwalk worker",
		slog.Int("workers", cfg.WorkerCount),
		slog.String("redis_addr", cfg.RedisAddr),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	if err := deps.Pool.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}
