package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"

	"dosmangos/internal/amqp"
	"dosmangos/internal/cache"
	"dosmangos/internal/cli"
	"dosmangos/internal/core"
	apphttp "dosmangos/internal/http"
	"dosmangos/internal/location"
	"dosmangos/internal/log"
	"dosmangos/internal/places"
	"dosmangos/internal/services"
)

const (
	searchCacheSize = 512
	searchCacheTTL  = 10 * time.Minute
	searchSpan      = 0.5 // degrees around the default coordinate
	ledgerRetryMin  = 2 * time.Second
	ledgerRetryMax  = 2 * time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	repo := cli.OpenStorage(startCtx, logger, cfg)
	cancelStart()

	clk := clock.New()
	caches := cache.NewManager(clk, logger)

	rateStack := cli.NewRateStack(cfg, repo, logger)

	placesClient := places.NewClient(cfg.NominatimURL)
	searcher, searchCache := places.NewCachedSearcher(placesClient, searchCacheSize, searchCacheTTL)
	caches.Register(searchCache)
	caches.StartCleanup(5 * time.Minute)

	locationManager := location.NewFixedManager(cfg.DefaultCoordinate(), cfg.LocationServicesEnabled)
	loader := location.NewLoader(locationManager, placesClient,
		location.WithTimeout(cfg.LocationTimeout),
		location.WithLogger(logger))

	ledger := services.NewLedgerView(repo, cfg.DefaultCurrency, logger)

	opts := []services.Option{
		services.WithLocationLoader(loader),
		services.WithDefaultCurrency(cfg.DefaultCurrency),
		services.WithLogger(logger),
		services.WithListener(ledger.Apply),
	}
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err.Error())
			amqpClient = nil
		} else {
			opts = append(opts, services.WithPublisher(amqpClient))
			logger.Info("AMQP client initialized, events will reach dosmangos-worker")
		}
	} else {
		logger.Info("AMQP disabled, transactions will not be exported")
	}
	transactions := services.NewTransactionService(repo, opts...)
	summaries := services.NewSummaryService(repo, rateStack.Service, logger)

	// reload the visible month when a new one starts
	monthly := cron.New(cron.WithLocation(time.UTC))
	if _, err := monthly.AddFunc("@monthly", func() {
		if err := ledger.Load(context.Background(), clk.Now()); err != nil {
			logger.Error("Failed to load new month", log.FieldError, err.Error())
		}
	}); err != nil {
		logger.Error("Failed to schedule month rollover", log.FieldError, err.Error())
	}
	monthly.Start()

	srv := apphttp.NewServer(apphttp.Config{
		Addr:            ":" + cfg.Port,
		DefaultCurrency: cfg.DefaultCurrency,
		SearchDebounce:  cfg.SearchDebounce,
		SearchRegion: core.Region{
			Center:        cfg.DefaultCoordinate(),
			SpanLatitude:  searchSpan,
			SpanLongitude: searchSpan,
		},
		RateLimit: cfg.WriteRateLimit,
		Clock:     clk,
	}, apphttp.Dependencies{
		Transactions: transactions,
		Summary:      summaries,
		Rates:        rateStack.Service,
		Currencies:   rateStack.OXR,
		Location:     loader,
		Searcher:     searcher,
		Ledger:       ledger,
		Storage:      repo,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		<-monthly.Stop().Done()
		caches.Stop()
		ledger.Close()
		locationManager.Close()
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close database", log.FieldError, err.Error())
		}
	})

	go func() {
		if err := ledger.RetryLoad(ctx, clk, ledgerRetryMin, ledgerRetryMax); err != nil {
			logger.Warn("Current month never loaded", log.FieldError, err.Error())
		}
	}()

	logger.Info("Starting dosmangos server", "port", cfg.Port, "db", cfg.SQLiteDBPath, "currency", cfg.DefaultCurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
