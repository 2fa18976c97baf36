// Order-flow microstructure signal bot — detects absorption, exhaustion,
// accumulation, and distribution patterns in a single symbol's trade and
// depth-update stream and confirms them into tradeable signals.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/ingest            — WebSocket feed of AggTrade/DepthDiff for one symbol
//	internal/book              — local order-book mirror fed by depth diffs
//	internal/zone              — multi-resolution price-zone aggregator
//	internal/preprocessor      — validates trades, queries the book, drives the zone aggregator
//	internal/detector          — absorption/exhaustion/accumulation/distribution detectors + indicator filter
//	internal/signalmanager     — market-health/confidence/correlation gating pipeline
//	internal/pipeline          — wires ingest → preprocessor → detectors → signal manager
//	internal/anomaly           — REST client for the external anomaly detector's getMarketHealth()
//	internal/storage           — signal history, job queue, active-anomaly persistence (Postgres or file)
//	internal/cache             — Redis cache for market health and recent confirmed signals
//	internal/dashboard         — read-only HTTP+WS status surface
//	internal/registry          — priority-ordered graceful-shutdown callback list
//
// How it works:
//
//	Every trade is enriched with book/zone context and run through the
//	detector family. Candidates pass through the signal manager's gates
//	(market health, confidence, correlation) before being confirmed and
//	relayed to storage, cache, and the dashboard. Nothing here places
//	orders — this is a read-only signal generator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"signalbot/internal/anomaly"
	"signalbot/internal/cache"
	"signalbot/internal/config"
	"signalbot/internal/dashboard"
	"signalbot/internal/ingest"
	"signalbot/internal/metrics"
	"signalbot/internal/pipeline"
	"signalbot/internal/registry"
	"signalbot/internal/signalmanager"
	"signalbot/internal/storage"
)

// Shutdown priorities, ascending. priorityPreprocessor has no separate
// registrant: the preprocessor holds no connections or goroutines of its
// own, so it tears down as part of the pipeline's single dispatch-goroutine
// set at priorityDetectors.
const (
	priorityDashboard     = -10
	priorityDetectors     = 0
	priorityPreprocessor  = 10
	prioritySignalManager = 20
	priorityStorage       = 30
	priorityCache         = 40
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables as-is")
	}

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SIGNALBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) int {
	store, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return 1
	}

	anomalyClient := anomaly.NewClient(cfg.Anomaly.BaseURL, cfg.Anomaly.BurstCapacity, cfg.Anomaly.RateLimit)
	redisCache := cache.New(cfg.Store.RedisAddr, "", logger)
	signalMgr := signalmanager.New(cfg.SignalManager, anomalyClient, store, logger)
	metricsReg := metrics.New()
	feed := ingest.New(cfg.Ingest.WSURL, cfg.Ingest.Symbol, cfg.Ingest.ReconnectMinWait, cfg.Ingest.ReconnectMaxWait, metricsReg, logger)

	pl, err := pipeline.New(*cfg, feed, pipeline.Deps{
		SignalMgr: signalMgr,
		Cache:     redisCache,
		Metrics:   metricsReg,
		Log:       logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ingest feed stopped unexpectedly", "error", err)
		}
	}()
	go signalMgr.Run(ctx)
	pl.Start(ctx)

	reg := registry.New(logger)
	reg.Register(priorityDetectors, "pipeline", func(shutdownCtx context.Context) error {
		return pl.Stop(shutdownCtx)
	})
	reg.Register(prioritySignalManager, "signalmanager", func(context.Context) error {
		// Run already exited via the cancelled root context by the time
		// Shutdown executes this; nothing left to drain.
		return nil
	})
	reg.Register(priorityStorage, "storage", func(context.Context) error {
		return store.Close()
	})
	reg.Register(priorityCache, "cache", func(context.Context) error {
		return redisCache.Close()
	})

	var dashboardServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashboardServer = dashboard.NewServer(cfg.Dashboard, pl, *cfg, logger)
		go func() {
			if err := dashboardServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		reg.Register(priorityDashboard, "dashboard", dashboardServer.Stop)
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	logger.Info("signal bot started",
		"symbol", cfg.Ingest.Symbol,
		"confidence_threshold", cfg.SignalManager.ConfidenceThreshold,
		"dashboard_enabled", cfg.Dashboard.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), registry.DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown completed with errors", "error", err)
		return 1
	}
	return 0
}

func openStore(cfg config.StoreConfig) (storage.Store, error) {
	if cfg.DSN != "" {
		return storage.OpenPostgres(cfg.DSN)
	}
	return storage.OpenFileStore(cfg.DataDir)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
