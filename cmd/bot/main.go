// kalshi-edge bot: a calibration-driven trading loop for Kalshi event
// contracts.
//
// Architecture:
//
//	main.go                 entry point: loads config, opens the store, starts engine and dashboard
//	engine/engine.go        orchestrator: wires ingest, analysis, signals, execution and exits
//	engine/scheduler.go     fast cycle on an interval, daily cycle at a fixed UTC hour
//	market/ingest.go        pulls markets and candlesticks from the Kalshi REST API
//	calibration/            bins resolved markets by price to estimate the true YES probability
//	strategy/generator.go   turns calibrated prices into pending signals under the rule set
//	risk/                   caps per trade, per market and in total; sizes contracts by target risk
//	ledger/                 positions, realized/unrealized PnL and the daily bankroll row
//	backtest/               threshold entry rules replayed over settled markets
//	store/                  Postgres (or in-memory) persistence with an optional Redis cache
//	api/                    dashboard JSON, admin actions, websocket events, /metrics
//
// Execution mode defaults to simulate: signals are sized and booked against the
// ledger without touching the venue. Live mode places real orders and requires
// Kalshi API credentials.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kalshi-edge/internal/api"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/engine"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

func main() {
	// Load config
	cfgPath := os.Getenv("KALSHI_EDGE_CONFIG")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	st, err := store.Open(context.Background(), *cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	eng, err := engine.New(*cfg, st, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(*cfg, eng, st, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if eng.Mode() == types.ModeLive {
		logger.Warn("LIVE MODE: orders will be sent to Kalshi", "env", cfg.Kalshi.Env)
	}

	logger.Info("kalshi-edge started",
		"mode", eng.Mode(),
		"fast_interval", cfg.Scheduler.FastInterval,
		"daily_hour_utc", cfg.Scheduler.DailyHourUTC,
		"max_total_usd", cfg.Risk.MaxTotalUSD,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop dashboard first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
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
