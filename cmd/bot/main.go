// A single-symbol automated market maker for prediction-market order books.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: wires feeds, decision loop, executor, and risk together
//	spread/spread.go         — Avellaneda-Stoikov reservation price and optimal half-spread
//	inventory/inventory.go   — tracks base/quote weight, inventory error, and size multipliers
//	toxicity/toxicity.go     — spread/intensity/imbalance/momentum regime scoring
//	depth/depth.go           — adaptive per-layer slot allocation
//	governor/governor.go     — PID budget governor over fill/reprice/cancel streams
//	planner/planner.go       — builds the quote ladder from reservation price + allocation
//	executor/executor.go     — priority micro-batch queue, TTL sweep, burst deploy
//	crossresponse/crossresponse.go — sub-50ms opposite-side adjustment after a fill
//	ledger/ledger.go         — append-only shadow balance with reconciliation
//	exchange/client.go       — REST client for the venue's CLOB API (place/cancel orders, fetch book)
//	exchange/auth.go         — L1 (EIP-712) and L2 (HMAC) authentication
//	exchange/ws.go           — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	risk/manager.go          — enforces exposure, daily loss, and price-shock limits
//	store/store.go           — gzip+hash checkpoint persistence (survives restarts)
//
// How it makes money:
//
//	The bot captures the bid-ask spread on a single prediction-market token.
//	It posts a buy (bid) below mid price and a sell (ask) above mid price.
//	When both sides fill, the bot earns the spread difference.
//	Avellaneda-Stoikov adjusts quotes based on inventory risk — if the bot
//	accumulates too much of one side, it skews prices to attract offsetting fills.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketmaker-core/internal/api"
	"marketmaker-core/internal/config"
	"marketmaker-core/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
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

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
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

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("market maker started",
		"symbol", cfg.Strategy.Symbol,
		"target_equity", cfg.Strategy.TargetEquity,
		"max_position_usd", cfg.Risk.MaxPositionUSD,
		"dry_run", cfg.DryRun,
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
