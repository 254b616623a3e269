package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"dosmangos/internal/amqp"
	"dosmangos/internal/backend"
	"dosmangos/internal/cache"
	"dosmangos/internal/cli"
	"dosmangos/internal/log"
	"dosmangos/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	logger.Info("Starting dosmangos-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the export worker")
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	repo := cli.OpenStorage(startCtx, logger, cfg)
	cancelStart()
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid export backend", log.FieldError, err.Error())
		os.Exit(1)
	}
	exported, err := backend.NewFactory(logger).CreateExporter(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create exporter", log.FieldError, err.Error(), "backend", backendCfg.Type.String())
		os.Exit(1)
	}
	if exported.Cleanup != nil {
		defer exported.Cleanup()
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(repo, exported.Exporter, logger)
	caches := cache.NewManager(clock.New(), logger)
	caches.Register(syncWorker.Cache())
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// catch up on changes made while the worker was down
	logger.Info("Performing startup sync of the current month...")
	if n, err := syncWorker.Resync(ctx, repo, time.Now()); err != nil {
		logger.Error("Startup sync failed", log.FieldError, err.Error())
	} else {
		logger.Info("Startup sync complete", "synced", n)
	}

	if err := amqpClient.Consume(ctx, syncWorker.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err.Error())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
