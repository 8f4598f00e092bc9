// Package reconciler implements the Position Reconciler (SPEC_FULL §4.6):
// it pulls venue-reported positions, dust-filters them, and reconciles
// each pair's two legs into a clean Position, a guard flag, or a lone-leg
// closure order.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/coordinator"
	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/internal/pairstate"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

const guardWarnInterval = 60 * time.Second

// Reconciler pulls positions from a Connector and folds them into
// per-pair state.
type Reconciler struct {
	conn   exchange.Connector
	logger *slog.Logger

	loneLegCooldown  time.Duration
	orderTimeoutSecs int64

	lastGuardWarn map[string]time.Time
}

// New creates a Reconciler. orderTimeoutSecs is the same value the
// coordinator uses for reconciliation timeouts — the stale-pending sweep
// fires at 6x this value.
func New(conn exchange.Connector, orderTimeoutSecs int64, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		conn:             conn,
		logger:           logger.With("component", "reconciler"),
		loneLegCooldown:  30 * time.Second,
		orderTimeoutSecs: orderTimeoutSecs,
		lastGuardWarn:    make(map[string]time.Time),
	}
}

// FetchPositions queries the venue for every symbol in symbols and
// returns a dust-filtered {symbol -> PositionSnapshot} map. The second
// return is false while the venue reports its position feed is still
// warming up (SPEC_FULL §4.6) — callers must not reconcile pairs against
// a not-ready map.
func (r *Reconciler) FetchPositions(ctx context.Context, symbols []types.Symbol, minOrders map[types.Symbol]decimal.Decimal) (map[types.Symbol]types.PositionSnapshot, bool, error) {
	out := make(map[types.Symbol]types.PositionSnapshot, len(symbols))
	for _, symbol := range symbols {
		snap, found, err := r.conn.Position(ctx, symbol)
		if err != nil {
			if errors.Is(err, exchange.ErrPositionsNotReady) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("position for %s: %w", symbol, err)
		}
		if !found {
			continue
		}
		if isDust(snap, minOrders[symbol]) {
			continue
		}
		out[symbol] = snap
	}
	return out, true, nil
}

func isDust(snap types.PositionSnapshot, minOrder decimal.Decimal) bool {
	if snap.Sign == 0 || snap.Size.IsZero() {
		return true
	}
	if minOrder.IsPositive() && snap.Size.LessThan(minOrder) {
		return true
	}
	return false
}

// Reconcile folds a fresh positions snapshot into state for one pair.
// When positionsReady is false it only sweeps stale pending slots
// (websocket-warmup guard) and leaves everything else untouched.
// minOrders/sizeDecimals size a lone-leg closure's quantity up to a
// tradable step (SPEC_FULL §4.6 scenario S5).
func (r *Reconciler) Reconcile(ctx context.Context, state *pairstate.State, positions map[types.Symbol]types.PositionSnapshot, positionsReady bool, now time.Time, minOrders map[types.Symbol]decimal.Decimal, sizeDecimals map[types.Symbol]*int32) error {
	if !positionsReady {
		state.PositionsReady = false
		r.sweepStale(state, now)
		return nil
	}
	state.PositionsReady = true

	baseP, baseOK := positions[state.Spec.Base]
	quoteP, quoteOK := positions[state.Spec.Quote]

	switch {
	case !baseOK && !quoteOK:
		state.Position = nil
		state.PositionGuard = false
		return nil

	case baseOK && quoteOK:
		return r.reconcileBothPresent(state, baseP, quoteP, now)

	default:
		return r.reconcileLoneLeg(ctx, state, baseOK, baseP, quoteP, now, minOrders, sizeDecimals)
	}
}

func (r *Reconciler) reconcileBothPresent(state *pairstate.State, baseP, quoteP types.PositionSnapshot, now time.Time) error {
	if baseP.Sign*quoteP.Sign >= 0 {
		state.PositionGuard = true
		state.Position = nil
		key := state.Spec.Key()
		if last, ok := r.lastGuardWarn[key]; !ok || now.Sub(last) >= guardWarnInterval {
			r.lastGuardWarn[key] = now
			r.logger.Warn("legs not opposite-signed, guarding pair", "pair", key, "base_sign", baseP.Sign, "quote_sign", quoteP.Sign)
		}
		return nil
	}

	direction := types.LongSpread
	if baseP.Sign < 0 {
		direction = types.ShortSpread
	}
	enteredAt := now
	if state.Position != nil {
		enteredAt = state.Position.EnteredAt
	}
	state.Position = &types.Position{
		Direction:   direction,
		EnteredAt:   enteredAt,
		EntryPriceA: baseP.EntryPrice,
		EntryPriceB: quoteP.EntryPrice,
		EntrySizeA:  decimal.NewNullDecimal(baseP.Size),
		EntrySizeB:  decimal.NewNullDecimal(quoteP.Size),
	}
	state.PositionGuard = false
	return nil
}

func (r *Reconciler) reconcileLoneLeg(ctx context.Context, state *pairstate.State, baseOK bool, baseP, quoteP types.PositionSnapshot, now time.Time, minOrders map[types.Symbol]decimal.Decimal, sizeDecimals map[types.Symbol]*int32) error {
	if state.PendingEntry != nil || state.PendingExit != nil {
		// A placement or unwind is already in flight for this pair;
		// reconciliation of the pending batch owns this leg, not us.
		return nil
	}
	if state.LastExitAt != nil && now.Sub(*state.LastExitAt) < r.loneLegCooldown {
		return nil
	}

	var symbol types.Symbol
	var leg types.PositionSnapshot
	if baseOK {
		symbol, leg = state.Spec.Base, baseP
	} else {
		symbol, leg = state.Spec.Quote, quoteP
	}

	side := types.SideSell
	if leg.Sign < 0 {
		side = types.SideBuy
	}
	step := coordinator.SizeStep(minOrders[symbol], sizeDecimals[symbol])
	size := coordinator.QuantizeSizeUp(leg.Size, step)
	req := types.OrderRequest{Symbol: symbol, Side: side, Size: size, ReduceOnly: true}
	if _, err := r.conn.PlaceOrder(ctx, req); err != nil {
		return fmt.Errorf("lone-leg closure for %s: %w", symbol, err)
	}

	exitAt := now
	state.LastExitAt = &exitAt
	state.Position = nil
	return nil
}

func (r *Reconciler) sweepStale(state *pairstate.State, now time.Time) {
	staleAfter := time.Duration(6*r.orderTimeoutSecs) * time.Second
	if state.PendingEntry != nil && now.Sub(state.PendingEntry.PlacedAt) >= staleAfter {
		r.logger.Warn("clearing stale pending entry during websocket warmup", "pair", state.Spec.Key())
		state.PendingEntry = nil
	}
	if state.PendingExit != nil && now.Sub(state.PendingExit.PlacedAt) >= staleAfter {
		r.logger.Warn("clearing stale pending exit during websocket warmup", "pair", state.Spec.Key())
		state.PendingExit = nil
	}
}
