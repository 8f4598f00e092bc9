package reconciler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/internal/pairstate"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSpec() types.PairSpec {
	return types.PairSpec{Base: "AAA-PERP", Quote: "BBB-PERP"}
}

func TestFetchPositionsFiltersDust(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	conn.Positions["AAA-PERP"] = types.PositionSnapshot{Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromFloat(0.0001)}
	conn.Positions["BBB-PERP"] = types.PositionSnapshot{Symbol: "BBB-PERP", Sign: -1, Size: decimal.NewFromInt(5)}

	r := New(conn, 30, testLogger())
	minOrders := map[types.Symbol]decimal.Decimal{"AAA-PERP": decimal.NewFromFloat(0.01)}
	positions, ready, err := r.FetchPositions(context.Background(), []types.Symbol{"AAA-PERP", "BBB-PERP"}, minOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ready {
		t.Fatal("expected ready=true")
	}
	if _, ok := positions["AAA-PERP"]; ok {
		t.Fatal("expected dust position below min_order to be filtered out")
	}
	if _, ok := positions["BBB-PERP"]; !ok {
		t.Fatal("expected non-dust position to survive")
	}
}

func TestFetchPositionsReportsNotReady(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	conn.PositionsNotReady = true
	r := New(conn, 30, testLogger())
	_, ready, err := r.FetchPositions(context.Background(), []types.Symbol{"AAA-PERP"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready {
		t.Fatal("expected ready=false")
	}
}

func TestReconcileBothLegsMissingClearsPosition(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)
	state.Position = &types.Position{Direction: types.LongSpread}
	state.PositionGuard = true

	if err := r.Reconcile(context.Background(), state, map[types.Symbol]types.PositionSnapshot{}, true, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Position != nil || state.PositionGuard {
		t.Fatalf("expected position and guard cleared, got %+v guard=%v", state.Position, state.PositionGuard)
	}
}

func TestReconcileBothLegsPresentOppositeSignsSetsPosition(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(10), EntryPrice: decimal.NewNullDecimal(decimal.NewFromInt(100))},
		"BBB-PERP": {Symbol: "BBB-PERP", Sign: -1, Size: decimal.NewFromInt(20), EntryPrice: decimal.NewNullDecimal(decimal.NewFromInt(50))},
	}
	if err := r.Reconcile(context.Background(), state, positions, true, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Position == nil {
		t.Fatal("expected a position to be set")
	}
	if state.Position.Direction != types.LongSpread {
		t.Fatalf("expected long spread (base sign positive), got %s", state.Position.Direction)
	}
	if state.PositionGuard {
		t.Fatal("expected guard cleared on a clean reconciliation")
	}
}

func TestReconcileBothLegsPresentSameSignSetsGuard(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)
	state.Position = &types.Position{Direction: types.LongSpread}

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(10)},
		"BBB-PERP": {Symbol: "BBB-PERP", Sign: 1, Size: decimal.NewFromInt(20)},
	}
	if err := r.Reconcile(context.Background(), state, positions, true, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.PositionGuard {
		t.Fatal("expected guard set when legs carry the same sign")
	}
	if state.Position != nil {
		t.Fatal("expected position cleared under guard")
	}
}

func TestReconcileLoneLegClosesRemainingSide(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(10)},
	}
	now := time.Now()
	if err := r.Reconcile(context.Background(), state, positions, true, now, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.Placed) != 1 {
		t.Fatalf("expected one closure order, got %d", len(conn.Placed))
	}
	if conn.Placed[0].Side != types.SideSell || !conn.Placed[0].ReduceOnly {
		t.Fatalf("expected opposite-side reduce-only closure, got %+v", conn.Placed[0])
	}
	if state.LastExitAt == nil {
		t.Fatal("expected LastExitAt to be set")
	}
}

func TestReconcileLoneLegQuantizesClosureSizeUp(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromFloat(0.013)},
	}
	minOrders := map[types.Symbol]decimal.Decimal{"AAA-PERP": decimal.NewFromFloat(0.01)}
	if err := r.Reconcile(context.Background(), state, positions, true, time.Now(), minOrders, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.Placed) != 1 {
		t.Fatalf("expected one closure order, got %d", len(conn.Placed))
	}
	if !conn.Placed[0].Size.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("expected closure size quantized up to 0.02, got %v", conn.Placed[0].Size)
	}
}

func TestReconcileLoneLegRespectsCooldown(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)
	recent := time.Now().Add(-5 * time.Second)
	state.LastExitAt = &recent

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(10)},
	}
	if err := r.Reconcile(context.Background(), state, positions, true, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.Placed) != 0 {
		t.Fatalf("expected no closure order within cooldown, got %d", len(conn.Placed))
	}
}

func TestReconcileLoneLegSkippedWhilePendingInFlight(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)
	state.PendingEntry = &types.PendingOrders{PlacedAt: time.Now()}

	positions := map[types.Symbol]types.PositionSnapshot{
		"AAA-PERP": {Symbol: "AAA-PERP", Sign: 1, Size: decimal.NewFromInt(10)},
	}
	if err := r.Reconcile(context.Background(), state, positions, true, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.Placed) != 0 {
		t.Fatalf("expected no closure order while a pending entry owns this pair, got %d", len(conn.Placed))
	}
}

func TestReconcileNotReadySweepsStalePending(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 10, testLogger()) // staleAfter = 60s
	state := pairstate.New(testSpec(), 50)
	old := time.Now().Add(-90 * time.Second)
	state.PendingEntry = &types.PendingOrders{PlacedAt: old}

	if err := r.Reconcile(context.Background(), state, nil, false, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.PositionsReady {
		t.Fatal("expected PositionsReady=false")
	}
	if state.PendingEntry != nil {
		t.Fatal("expected stale pending entry swept")
	}
}

func TestReconcileNotReadyKeepsFreshPending(t *testing.T) {
	t.Parallel()
	conn := exchange.NewFakeConnector()
	r := New(conn, 30, testLogger())
	state := pairstate.New(testSpec(), 50)
	state.PendingEntry = &types.PendingOrders{PlacedAt: time.Now()}

	if err := r.Reconcile(context.Background(), state, nil, false, time.Now(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.PendingEntry == nil {
		t.Fatal("expected fresh pending entry to survive the warmup sweep")
	}
}
