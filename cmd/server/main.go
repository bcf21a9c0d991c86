// Package main provides the entry point for the video generation API
// server. It runs the HTTP API and an embedded worker pool in one
// process; cmd/worker runs the pool standalone against Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stylemotion/catwalk-api/internal/bootstrap"
	"github.com/stylemotion/catwalk-api/internal/config"
	"github.com/stylemotion/catwalk-api/internal/server"
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

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting catwalk API",
		slog.Int("port", cfg.Port),
		slog.Int("workers", cfg.WorkerCount),
		slog.String("storage", cfg.StorageType),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	handlers := server.NewHandlers(deps.Service, deps.Registry, deps.Queue, logger)
	srvCfg := server.DefaultConfig()
	srvCfg.AssetsDir = deps.AssetsDir
	router := server.NewRouter(handlers, logger, srvCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	poolDone := make(chan error, 1)
	if cfg.EmbeddedWorkers {
		go func() {
			poolDone <- deps.Pool.Run(poolCtx)
		}()
	} else {
		logger.Info("embedded workers disabled, expecting standalone workers")
		poolDone <- nil
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		cancelPool()
		<-poolDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	cancelPool()
	if err := <-poolDone; err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
