// Package cli provides common CLI initialization utilities shared by the
// dosmangos binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dosmangos/internal/config"
	"dosmangos/internal/log"
	"dosmangos/internal/storage"
)

// SetupLogger builds the process logger from the LOG_LEVEL environment
// variable and installs it as the slog default.
func SetupLogger() *log.Logger {
	logger := log.FromEnv(os.Getenv("LOG_LEVEL"))
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg
}

// OpenStorage opens the SQLite store and brings its schema up to date.
// Returns the repository or exits the process on failure.
func OpenStorage(ctx context.Context, logger *log.Logger, cfg *config.Config) *storage.Repository {
	repo := storage.Open(cfg.SQLiteDBPath,
		storage.WithLogger(logger),
		storage.WithLegacyCurrency(cfg.DefaultCurrency))
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate SQLite database", log.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
		_ = repo.Close()
		os.Exit(1)
	}
	return repo
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has run.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
