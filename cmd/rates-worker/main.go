package main

import (
	"context"
	"os"
	"time"

	"dosmangos/internal/cli"
	"dosmangos/internal/log"
	"dosmangos/internal/rates"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	logger.Info("Starting rates-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	repo := cli.OpenStorage(startCtx, logger, cfg)
	cancelStart()

	rateStack := cli.NewRateStack(cfg, repo, logger)
	scheduler, err := rates.NewScheduler(cfg.RatesSchedule, rateStack.Sources(cfg), logger)
	if err != nil {
		logger.Error("Failed to create rates scheduler", log.FieldError, err.Error())
		_ = repo.Close()
		os.Exit(1)
	}
	logger.Info("Rates scheduler configured", "schedule", cfg.RatesSchedule, "sqlite_db", cfg.SQLiteDBPath)

	ctx, done := cli.GracefulShutdown(logger, 2*time.Minute, func(ctx context.Context) {
		scheduler.Stop(ctx)
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close database", log.FieldError, err.Error())
		}
	})
	scheduler.Start(ctx)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Rates-worker shutdown complete")
}
