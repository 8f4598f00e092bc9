// pairtrade — a statistical pair-trading engine for perpetual futures.
//
// Architecture:
//
//	main.go                  — entry point: loads config, selects a venue connector, runs the engine
//	engine/engine.go         — the control loop: one tick fetches venue state, reconciles, decides, acts
//	evaluator/evaluator.go   — cointegration/half-life/ADF screen that scores a pair's tradability
//	decision/engine.go       — spread, z-score, entry/exit thresholds, exit-reason cascade, arbitration
//	coordinator/coordinator.go — two-leg order placement, reissue and rollback-and-hedge on leg failure
//	reconciler/reconciler.go — reconciles venue positions against pair state on every tick
//	exchange/client.go       — REST + WebSocket connector for the live venue
//	exchange/replay.go       — deterministic backtest connector replaying a recorded price series
//	pairstate/state.go       — per-pair rolling spread history and position/pending-order bookkeeping
//	history/store.go         — durable per-symbol log-price history backing the evaluator's lookback
//
// How it makes money:
//
//	The engine tracks a universe of symbol pairs whose log-price spread is
//	cointegrated. When the spread's z-score diverges far enough from its
//	mean — adjusted for funding carry and estimated transaction cost — it
//	opens a hedged long/short position across both legs, expecting the
//	spread to revert. It exits on reversion, a stop-loss z-level, a risk
//	budget breach, or when the expected reversion no longer outweighs the
//	transaction cost of holding the position.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/engine"
	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PAIRTRADE_CONFIG"); p != "" {
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

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Backtest {
		runBacktest(ctx, *cfg, logger)
		return
	}
	runLive(ctx, *cfg, logger)
}

func runLive(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	var conn exchange.Connector
	if cfg.DryRun {
		conn = exchange.NewFakeConnector()
	} else {
		conn = exchange.NewLiveConnector(cfg, cfg.Symbols(), logger)
	}

	eng := engine.New(cfg, conn, logger)

	logger.Info("pairtrade engine started",
		"venue", cfg.Venue.Name,
		"pairs", len(cfg.Pairs()),
		"max_active_pairs", cfg.Risk.MaxActivePairs,
		"dry_run", cfg.DryRun,
		"observe_only", cfg.ObserveOnly,
	)

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func runBacktest(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	path := cfg.BacktestSource.DataPath
	if path == "" {
		logger.Error("backtest_source.data_path is required when backtest is enabled")
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open backtest source", "path", path, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	ticks, err := exchange.LoadReplayTicks(f)
	if err != nil {
		logger.Error("failed to parse backtest source", "path", path, "error", err)
		os.Exit(1)
	}

	startingEquity := decimal.NewFromFloat(cfg.Risk.EquityFallback)
	replay := exchange.NewReplayConnector(ticks, startingEquity)
	eng := engine.New(cfg, replay, logger)

	logger.Info("pairtrade backtest started",
		"pairs", len(cfg.Pairs()),
		"ticks", len(ticks),
		"source", path,
	)

	if err := eng.RunBacktest(ctx, replay); err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("backtest complete")
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
