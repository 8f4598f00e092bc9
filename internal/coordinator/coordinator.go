package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// Params bundles the coordinator's tunable knobs (SPEC_FULL §4.5).
type Params struct {
	RiskPctPerTrade    float64
	MaxLeverage        float64
	SlippageBps        float64
	FeeBps             float64
	VenueName          string
	PostOnlyEnabled    bool
	PostOnlyAttemptsEntry int
	PostOnlyAttemptsExit  int
	PostOnlyRetryDelay    time.Duration
	PostOnlyWallClockCap  time.Duration
	EntryPartialFillMaxRetries int
	MaxExitRetries             int
	// RollbackWait is how long to wait after cancelling leg A before
	// checking its fill report during a leg-B rollback (SPEC_FULL §4.5
	// specifies 5s; tests shorten this).
	RollbackWait time.Duration
}

// Coordinator places, reconciles and reissues two-leg orders against a
// venue Connector.
type Coordinator struct {
	conn   exchange.Connector
	params Params
	logger *slog.Logger
}

// New creates a Coordinator.
func New(conn exchange.Connector, params Params, logger *slog.Logger) *Coordinator {
	return &Coordinator{conn: conn, params: params, logger: logger.With("component", "coordinator")}
}

// LegSpec is one leg of a two-leg batch the coordinator is asked to place.
type LegSpec struct {
	Symbol     types.Symbol
	Side       types.OrderSide
	Size       decimal.Decimal
	LimitPrice decimal.NullDecimal
	ReduceOnly bool
	SpreadTag  string
}

func (l LegSpec) toRequest() types.OrderRequest {
	return types.OrderRequest{
		Symbol:     l.Symbol,
		Side:       l.Side,
		Size:       l.Size,
		LimitPrice: l.LimitPrice,
		SpreadTag:  l.SpreadTag,
		ReduceOnly: l.ReduceOnly,
	}
}

// RefreshPriceFunc re-fetches a leg's limit price from the live book
// before a post-only retry attempt.
type RefreshPriceFunc func(ctx context.Context) (decimal.NullDecimal, error)

func (c *Coordinator) placeLeg(ctx context.Context, leg LegSpec, isEntry bool, refresh RefreshPriceFunc) (types.OrderResult, error) {
	usePostOnly := c.params.PostOnlyEnabled && PostOnlySupported(c.params.VenueName, c.params.FeeBps) && !leg.ReduceOnly
	if !usePostOnly {
		return c.conn.PlaceOrder(ctx, leg.toRequest())
	}

	attempts := c.params.PostOnlyAttemptsExit
	if isEntry {
		attempts = c.params.PostOnlyAttemptsEntry
	}
	if attempts <= 0 {
		attempts = 1
	}

	deadline := time.Now().Add(c.params.PostOnlyWallClockCap)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if time.Now().After(deadline) {
				break
			}
			if refresh != nil {
				if p, err := refresh(ctx); err == nil {
					leg.LimitPrice = p
				}
			}
			time.Sleep(c.params.PostOnlyRetryDelay)
		}
		res, err := c.conn.PlaceOrder(ctx, leg.toRequest())
		if err == nil {
			return res, nil
		}
		lastErr = err
	}

	if isEntry {
		return types.OrderResult{}, fmt.Errorf("post-only placement exhausted: %w", lastErr)
	}

	// Exits fall back to a plain market order.
	marketLeg := leg
	marketLeg.LimitPrice = decimal.NullDecimal{}
	marketLeg.SpreadTag = ""
	return c.conn.PlaceOrder(ctx, marketLeg.toRequest())
}

// PlacePairOrders places leg A then leg B. If leg B fails, it rolls back
// leg A: cancel, wait 5s, check for a partial fill, and hedge any filled
// portion opposite-side reduce-only. The returned PendingOrders carries
// whatever of leg A is left live so the caller can hand it to
// reconciliation; the returned error is non-nil whenever leg B failed.
func (c *Coordinator) PlacePairOrders(ctx context.Context, legA, legB LegSpec, isEntry bool, refreshA, refreshB RefreshPriceFunc) (*types.PendingOrders, error) {
	resA, err := c.placeLeg(ctx, legA, isEntry, refreshA)
	if err != nil {
		return nil, fmt.Errorf("place leg A: %w", err)
	}

	resB, err := c.placeLeg(ctx, legB, isEntry, refreshB)
	if err != nil {
		if cancelErr := c.conn.CancelOrder(ctx, legA.Symbol, resA.OrderID); cancelErr != nil {
			c.logger.Warn("cancel leg A after leg B failure", "error", cancelErr)
		}
		time.Sleep(c.params.RollbackWait)

		filledSize := decimal.Zero
		if fills, ferr := c.conn.FilledOrders(ctx, legA.Symbol); ferr == nil {
			filledSize = sumFills(fills, resA.OrderID, resA.ExchangeOrderID)
		} else {
			c.logger.Warn("fetch filled orders for leg A rollback", "error", ferr)
		}

		if filledSize.IsPositive() {
			hedge := types.OrderRequest{Symbol: legA.Symbol, Side: legA.Side.Opposite(), Size: filledSize, ReduceOnly: true}
			if _, herr := c.conn.PlaceOrder(ctx, hedge); herr != nil {
				c.logger.Error("hedge partial leg A fill after rollback", "error", herr)
			}
		}

		pendingA := types.PendingLeg{
			Symbol: legA.Symbol, OrderID: resA.OrderID, ExchangeOrderID: resA.ExchangeOrderID,
			TargetSize: legA.Size, FilledSize: filledSize, Side: legA.Side, PlacedPrice: resA.OrderedPrice,
		}
		pending := &types.PendingOrders{Legs: []types.PendingLeg{pendingA}, PlacedAt: time.Now()}
		return pending, fmt.Errorf("place leg B (partial placement, leg A pending): %w", err)
	}

	pendingA := types.PendingLeg{Symbol: legA.Symbol, OrderID: resA.OrderID, ExchangeOrderID: resA.ExchangeOrderID, TargetSize: legA.Size, Side: legA.Side, PlacedPrice: resA.OrderedPrice}
	pendingB := types.PendingLeg{Symbol: legB.Symbol, OrderID: resB.OrderID, ExchangeOrderID: resB.ExchangeOrderID, TargetSize: legB.Size, Side: legB.Side, PlacedPrice: resB.OrderedPrice}
	return &types.PendingOrders{Legs: []types.PendingLeg{pendingA, pendingB}, PlacedAt: time.Now()}, nil
}

// RefreshFills updates each leg's filled_size from the venue's fill
// reports: filled_size = min(target, max(previous_filled, reported)).
func (c *Coordinator) RefreshFills(ctx context.Context, pending *types.PendingOrders) error {
	bySymbol := make(map[types.Symbol][]types.FilledOrder)
	for i := range pending.Legs {
		leg := &pending.Legs[i]
		fills, ok := bySymbol[leg.Symbol]
		if !ok {
			f, err := c.conn.FilledOrders(ctx, leg.Symbol)
			if err != nil {
				return fmt.Errorf("filled orders for %s: %w", leg.Symbol, err)
			}
			fills = f
			bySymbol[leg.Symbol] = f
		}
		reported := sumFills(fills, leg.OrderID, leg.ExchangeOrderID)
		newFilled := decimal.Max(leg.FilledSize, reported)
		if newFilled.GreaterThan(leg.TargetSize) {
			newFilled = leg.TargetSize
		}
		leg.FilledSize = newFilled
	}
	return nil
}

// CancelRemaining cancels every not-yet-fully-filled leg, grouping the
// batch by symbol.
func (c *Coordinator) CancelRemaining(ctx context.Context, pending *types.PendingOrders) error {
	bySymbol := make(map[types.Symbol][]string)
	for _, leg := range pending.Legs {
		if leg.FullyFilled() {
			continue
		}
		bySymbol[leg.Symbol] = append(bySymbol[leg.Symbol], leg.OrderID)
	}
	for symbol, ids := range bySymbol {
		if err := c.conn.CancelOrders(ctx, symbol, ids); err != nil {
			return fmt.Errorf("cancel orders for %s: %w", symbol, err)
		}
	}
	return nil
}

// Reissue rebuilds a PendingOrders after cancelling residual legs:
// fully-filled legs become informational (target=filled=prior filled);
// legs with a sub-step residual are skipped (kept, not reissued); the
// rest are reissued at the quantized (round-up) residual size, as a
// limit order while isEntry and under the retry budget, otherwise as a
// market order (exits always reissue as MARKET, reduce-only).
func (c *Coordinator) Reissue(ctx context.Context, pending *types.PendingOrders, isEntry bool, sizeSteps map[types.Symbol]decimal.Decimal, limitPrices map[types.Symbol]decimal.NullDecimal) (*types.PendingOrders, error) {
	newLegs := make([]types.PendingLeg, 0, len(pending.Legs))
	for _, leg := range pending.Legs {
		if leg.FullyFilled() {
			newLegs = append(newLegs, types.PendingLeg{
				Symbol: leg.Symbol, OrderID: leg.OrderID, ExchangeOrderID: leg.ExchangeOrderID,
				TargetSize: leg.FilledSize, FilledSize: leg.FilledSize, Side: leg.Side, PlacedPrice: leg.PlacedPrice,
			})
			continue
		}

		remaining := leg.Remaining()
		step := sizeSteps[leg.Symbol]
		quantized := QuantizeSizeUp(remaining, step)
		if quantized.IsZero() || remaining.LessThan(step) {
			newLegs = append(newLegs, leg)
			continue
		}

		useMarket := !isEntry || pending.RetryCount >= c.params.EntryPartialFillMaxRetries
		var limitPrice decimal.NullDecimal
		if !useMarket {
			limitPrice = limitPrices[leg.Symbol]
		}

		req := types.OrderRequest{Symbol: leg.Symbol, Side: leg.Side, Size: quantized, LimitPrice: limitPrice, ReduceOnly: !isEntry}
		res, err := c.conn.PlaceOrder(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("reissue leg %s: %w", leg.Symbol, err)
		}

		newLegs = append(newLegs, types.PendingLeg{
			Symbol: leg.Symbol, OrderID: res.OrderID, ExchangeOrderID: res.ExchangeOrderID,
			TargetSize: leg.FilledSize.Add(quantized), FilledSize: leg.FilledSize, Side: leg.Side, PlacedPrice: res.OrderedPrice,
		})
	}

	return &types.PendingOrders{
		Legs: newLegs, Direction: pending.Direction, PlacedAt: time.Now(),
		HedgeRetryCount: pending.HedgeRetryCount + 1, ExitReason: pending.ExitReason, RetryCount: pending.RetryCount + 1,
	}, nil
}

// HandleTimeout applies the §4.5 timeout policy once elapsed >=
// order_timeout_secs. For entries it cancels the remainder and hedges
// any filled portion opposite-side reduce-only, reporting whether
// anything was flattened (the caller clears Position if so). For exits,
// once RetryCount exceeds MaxExitRetries it force-flattens every
// position for the pair via ClosePositions.
func (c *Coordinator) HandleTimeout(ctx context.Context, pending *types.PendingOrders, isEntry bool) (flattened bool, err error) {
	if isEntry {
		if err := c.CancelRemaining(ctx, pending); err != nil {
			return false, err
		}
		anyFlattened := false
		for _, leg := range pending.Legs {
			if !leg.FilledSize.IsPositive() {
				continue
			}
			hedge := types.OrderRequest{Symbol: leg.Symbol, Side: leg.Side.Opposite(), Size: leg.FilledSize, ReduceOnly: true}
			if _, herr := c.conn.PlaceOrder(ctx, hedge); herr != nil {
				pending.HedgeRetryCount++
				return anyFlattened, fmt.Errorf("hedge leg %s on timeout: %w", leg.Symbol, herr)
			}
			anyFlattened = true
		}
		return anyFlattened, nil
	}

	if pending.RetryCount > c.params.MaxExitRetries {
		closed := make(map[types.Symbol]bool, len(pending.Legs))
		for _, leg := range pending.Legs {
			if closed[leg.Symbol] {
				continue
			}
			closed[leg.Symbol] = true
			if err := c.conn.ClosePositions(ctx, leg.Symbol); err != nil {
				return false, fmt.Errorf("close all positions: %w", err)
			}
		}
		return true, nil
	}
	return false, nil
}

// IsPositionMissing implements the reduce-only "position is missing"
// handling (§4.5): it matches errMsg case-insensitively, then confirms
// against the venue whether the position is genuinely absent.
func (c *Coordinator) IsPositionMissing(ctx context.Context, symbol types.Symbol, errMsg string) (bool, error) {
	if !strings.Contains(strings.ToLower(errMsg), "position is missing") {
		return false, nil
	}
	_, found, err := c.conn.Position(ctx, symbol)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func sumFills(fills []types.FilledOrder, orderID, exchangeOrderID string) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		matches := f.OrderID == orderID || (exchangeOrderID != "" && exchangeOrderID != "dry-run" && f.ExchangeOrderID == exchangeOrderID)
		if matches && f.FilledSize.Valid {
			total = total.Add(f.FilledSize.Decimal)
		}
	}
	return total
}
