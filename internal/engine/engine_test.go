package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DryRun: true,
		Venue:  config.VenueConfig{Name: "extended", BaseURL: "https://example.test"},
		Stats: config.StatsConfig{
			MetricsWindow: 50, LookbackHoursLong: 1, LookbackHoursShort: 0.25,
			WarmStartMode: "relaxed", WarmStartMinBars: 5, HalfLifeMaxHours: 48, AdfPThreshold: 0.1,
			EntryVolWindow: 10, EntryZBase: 2.0, EntryZMin: 1.5, EntryZMax: 3.5,
			ExitZ: 0.5, StopLossZ: 3.5, ReevalInterval: time.Hour, ReevalJumpZMult: 1.5,
			VolSpikeMult: 2.0, VelMax: 3.0,
		},
		Risk: config.RiskConfig{
			RiskPctPerTrade: 0.01, MaxLossRMult: 2.0, EquityFallback: 1000, MaxLeverage: 3.0,
			NetFundingMinPerHour: -1, MaxActivePairs: 3,
		},
		Execution: config.ExecutionConfig{
			SlippageBps: 5, FeeBps: 2, OrderTimeout: 30 * time.Second, EntryPartialFillMaxRetries: 2,
		},
		Operation: config.OperationConfig{
			IntervalSecs: 60, TradingPeriodSecs: 60, CooldownSecs: 900, ForceCloseSecs: 86400,
			StartupForceCloseAttempts: 2, StartupForceCloseWait: time.Millisecond,
		},
		Universe: config.UniverseConfig{Symbols: []string{"AAA-PERP", "BBB-PERP"}},
		Store:    config.StoreConfig{DataDir: filepath.Join(t.TempDir(), "data"), PnlRetainDays: 7},
	}
}

func TestNewWiresSubsystemsForConfiguredPairs(t *testing.T) {
	cfg := testConfig(t)
	conn := exchange.NewFakeConnector()
	e := New(cfg, conn, testLogger())

	if len(e.pairs) != 1 {
		t.Fatalf("expected exactly one pair wired from a two-symbol universe, got %d", len(e.pairs))
	}
	if len(e.symbols) != 2 {
		t.Fatalf("expected two symbols, got %d", len(e.symbols))
	}
}

func TestTickDoesNotPanicWithNoHistory(t *testing.T) {
	cfg := testConfig(t)
	conn := exchange.NewFakeConnector()
	conn.SeedTicker("AAA-PERP", 100)
	conn.SeedTicker("BBB-PERP", 50)
	conn.Equity = types.Balance{Equity: decimal.NewFromInt(1000)}

	e := New(cfg, conn, testLogger())
	now := time.Unix(1_800_000_000, 0)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, state := range e.pairs {
		if state.Beta != 0 {
			t.Fatalf("expected no beta without warmed-up history, got %f", state.Beta)
		}
	}
}

func TestTickEvaluatesOnceWarmStartBarsAccumulate(t *testing.T) {
	cfg := testConfig(t)
	conn := exchange.NewFakeConnector()
	conn.Equity = types.Balance{Equity: decimal.NewFromInt(1000)}

	e := New(cfg, conn, testLogger())

	base := time.Unix(1_800_000_000, 0)
	price := 100.0
	for i := 0; i < 10; i++ {
		price += 0.1
		conn.SeedTicker("AAA-PERP", price)
		conn.SeedTicker("BBB-PERP", price*0.5)
		now := base.Add(time.Duration(i) * time.Minute)
		if err := e.Tick(context.Background(), now); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
	}

	for _, state := range e.pairs {
		if state.LastEvaluated.IsZero() {
			t.Fatal("expected pair to have been evaluated after warm-start bars accumulated")
		}
	}
}

func TestStartupForceCloseCancelsOrdersAndClosesPositions(t *testing.T) {
	cfg := testConfig(t)
	conn := exchange.NewFakeConnector()
	conn.Positions["AAA-PERP"] = types.PositionSnapshot{Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(5)}

	e := New(cfg, conn, testLogger())
	e.startupForceClose(context.Background())

	if !conn.CancelledAllOrders {
		t.Fatal("expected cancel_all_orders to have been called")
	}
	if len(conn.ClosedPositionsFor) == 0 {
		t.Fatal("expected close_all_positions to have been called for the stray position")
	}
}

func TestStartupForceCloseConvergesWithNoPositions(t *testing.T) {
	cfg := testConfig(t)
	conn := exchange.NewFakeConnector()

	e := New(cfg, conn, testLogger())
	e.startupForceClose(context.Background())

	if len(conn.ClosedPositionsFor) != 0 {
		t.Fatalf("expected no close_all_positions calls with an already-flat book, got %d", len(conn.ClosedPositionsFor))
	}
}
