// replay.go implements a deterministic backtest Connector that replays a
// pre-recorded price series instead of talking to a live venue
// (SPEC_FULL §6.4). Orders fill immediately at the requested price with
// no partial fills, no rejections and no venue-side position drift —
// the coordinator/reconciler logic under test is expected to carry its
// own bookkeeping.
package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// ReplayTick is one synthetic market observation for a symbol at ts.
// BidSize/AskSize are optional; a zero value falls back to a synthetic
// depth of 1000 so hand-written fixtures need not set them.
type ReplayTick struct {
	Symbol      types.Symbol
	Ts          int64
	Price       decimal.Decimal
	FundingRate decimal.Decimal
	BidSize     decimal.Decimal
	AskSize     decimal.Decimal
}

// ReplayConnector serves SymbolSnapshot reads from an in-memory series
// and advances its internal clock on each call to Advance.
type ReplayConnector struct {
	series map[types.Symbol][]ReplayTick
	cursor map[types.Symbol]int
	equity decimal.Decimal
	nextID int
}

// NewReplayConnector builds a replay connector from ticks, grouped and
// sorted by symbol and timestamp.
func NewReplayConnector(ticks []ReplayTick, startingEquity decimal.Decimal) *ReplayConnector {
	series := make(map[types.Symbol][]ReplayTick)
	for _, t := range ticks {
		series[t.Symbol] = append(series[t.Symbol], t)
	}
	for sym := range series {
		sort.Slice(series[sym], func(i, j int) bool { return series[sym][i].Ts < series[sym][j].Ts })
	}
	return &ReplayConnector{
		series: series,
		cursor: make(map[types.Symbol]int),
		equity: startingEquity,
	}
}

// Advance moves symbol's cursor forward one tick. Returns false once the
// series is exhausted.
func (r *ReplayConnector) Advance(symbol types.Symbol) bool {
	if r.cursor[symbol] >= len(r.series[symbol])-1 {
		return false
	}
	r.cursor[symbol]++
	return true
}

func (r *ReplayConnector) current(symbol types.Symbol) (ReplayTick, bool) {
	s := r.series[symbol]
	i := r.cursor[symbol]
	if i < 0 || i >= len(s) {
		return ReplayTick{}, false
	}
	return s[i], true
}

func (r *ReplayConnector) Ticker(_ context.Context, symbol types.Symbol) (types.SymbolSnapshot, error) {
	tick, ok := r.current(symbol)
	if !ok {
		return types.SymbolSnapshot{}, fmt.Errorf("replay: no data for %s", symbol)
	}
	spread := tick.Price.Mul(decimal.NewFromFloat(0.0002))
	bidSize, askSize := tick.BidSize, tick.AskSize
	if bidSize.IsZero() {
		bidSize = decimal.NewFromInt(1000)
	}
	if askSize.IsZero() {
		askSize = decimal.NewFromInt(1000)
	}
	return types.SymbolSnapshot{
		Symbol:      symbol,
		Price:       tick.Price,
		FundingRate: tick.FundingRate,
		BidPrice:    decimal.NewNullDecimal(tick.Price.Sub(spread)),
		AskPrice:    decimal.NewNullDecimal(tick.Price.Add(spread)),
		BidSize:     bidSize,
		AskSize:     askSize,
	}, nil
}

// CurrentTs reports the timestamp of symbol's current tick, used by the
// backtest driver loop to derive the engine's logical clock.
func (r *ReplayConnector) CurrentTs(symbol types.Symbol) (int64, bool) {
	tick, ok := r.current(symbol)
	return tick.Ts, ok
}

// AdvanceAll moves every symbol's cursor forward one tick and reports
// whether any symbol still has data left.
func (r *ReplayConnector) AdvanceAll(symbols []types.Symbol) bool {
	more := false
	for _, sym := range symbols {
		if r.Advance(sym) {
			more = true
		}
	}
	return more
}

func (r *ReplayConnector) OrderBook(ctx context.Context, symbol types.Symbol) (types.OrderBook, error) {
	snap, err := r.Ticker(ctx, symbol)
	if err != nil {
		return types.OrderBook{}, err
	}
	return types.OrderBook{
		Bids: []types.BookLevel{{Price: snap.BidPrice.Decimal, Size: snap.BidSize}},
		Asks: []types.BookLevel{{Price: snap.AskPrice.Decimal, Size: snap.AskSize}},
	}, nil
}

func (r *ReplayConnector) Position(_ context.Context, _ types.Symbol) (types.PositionSnapshot, bool, error) {
	return types.PositionSnapshot{}, false, nil
}

func (r *ReplayConnector) Balance(_ context.Context) (types.Balance, error) {
	return types.Balance{Equity: r.equity}, nil
}

func (r *ReplayConnector) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	r.nextID++
	price := req.LimitPrice.Decimal
	if !req.LimitPrice.Valid {
		if tick, ok := r.current(req.Symbol); ok {
			price = tick.Price
		}
	}
	return types.OrderResult{
		OrderID:         fmt.Sprintf("replay-%d", r.nextID),
		ExchangeOrderID: fmt.Sprintf("replay-exch-%d", r.nextID),
		OrderedPrice:    price,
		OrderedSize:     req.Size,
	}, nil
}

func (r *ReplayConnector) CancelOrder(_ context.Context, _ types.Symbol, _ string) error {
	return nil
}

func (r *ReplayConnector) OpenOrders(_ context.Context, _ types.Symbol) ([]types.OpenOrder, error) {
	return nil, nil
}

func (r *ReplayConnector) CancelOrders(_ context.Context, _ types.Symbol, _ []string) error {
	return nil
}

// FilledOrders always reports the replay's synthetic orders as fully
// filled: PlaceOrder never leaves a resting order behind.
func (r *ReplayConnector) FilledOrders(_ context.Context, _ types.Symbol) ([]types.FilledOrder, error) {
	return nil, nil
}

func (r *ReplayConnector) ClosePositions(_ context.Context, _ types.Symbol) error {
	return nil
}

func (r *ReplayConnector) CancelAllOrders(_ context.Context) error {
	return nil
}

func (r *ReplayConnector) UpcomingMaintenance(_ context.Context) (bool, error) {
	return false, nil
}

var _ Connector = (*ReplayConnector)(nil)
