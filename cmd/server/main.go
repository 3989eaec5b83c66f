// Package main provides the entry point for the watermark-removal pipeline server.
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

	"github.com/joho/godotenv"

	"github.com/blanklogo/pipeline/internal/bootstrap"
	"github.com/blanklogo/pipeline/internal/config"
	"github.com/blanklogo/pipeline/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting blanklogo pipeline",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("db_path", cfg.DBPath),
		slog.Int("worker_count", cfg.WorkerCount),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Start the worker pool alongside the HTTP server
	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		deps.Pool.Run(poolCtx)
	}()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Store, deps.Ledger, deps.Notifier, cfg.JobCreditCost, logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		stopPool()
		<-poolDone
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		stopPool()
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Stop claiming new jobs; in-flight leases are recovered by the reaper
	// on the next start if the pool does not drain in time.
	stopPool()
	select {
	case <-poolDone:
	case <-time.After(30 * time.Second):
		logger.Warn("worker pool did not drain in time")
	}

	logger.Info("server stopped gracefully")
	return nil
}
