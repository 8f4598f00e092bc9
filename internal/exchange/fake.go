// fake.go implements an in-memory Connector test double used by the
// coordinator, reconciler and engine test suites.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// FakeConnector is a scriptable in-memory Connector. Tests seed Tickers,
// Books and Positions directly, then inspect Placed/Cancelled after
// exercising the unit under test.
type FakeConnector struct {
	mu sync.Mutex

	Tickers   map[types.Symbol]types.SymbolSnapshot
	Books     map[types.Symbol]types.OrderBook
	Positions map[types.Symbol]types.PositionSnapshot
	Equity    types.Balance
	Maintenance bool
	PositionsNotReady bool

	Placed    []types.OrderRequest
	Cancelled []string
	OpenOrdersBySymbol map[types.Symbol][]types.OpenOrder
	FillsBySymbol      map[types.Symbol][]types.FilledOrder
	ClosedPositionsFor []types.Symbol
	CancelledAllOrders bool

	// NextOrderResult, if set, is returned (and cleared) by the next
	// PlaceOrder call; otherwise a synthetic result is returned at the
	// requested price/size. PlaceOrder records no fill: FilledOrders
	// reports only what FillsBySymbol holds.
	NextOrderResult *types.OrderResult
	PlaceOrderErr   error
	nextID          int
}

// NewFakeConnector creates an empty FakeConnector.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		Tickers:            make(map[types.Symbol]types.SymbolSnapshot),
		Books:              make(map[types.Symbol]types.OrderBook),
		Positions:          make(map[types.Symbol]types.PositionSnapshot),
		OpenOrdersBySymbol: make(map[types.Symbol][]types.OpenOrder),
		FillsBySymbol:      make(map[types.Symbol][]types.FilledOrder),
	}
}

func (f *FakeConnector) Ticker(_ context.Context, symbol types.Symbol) (types.SymbolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.Tickers[symbol]
	if !ok {
		return types.SymbolSnapshot{}, fmt.Errorf("fake: no ticker seeded for %s", symbol)
	}
	return snap, nil
}

func (f *FakeConnector) OrderBook(_ context.Context, symbol types.Symbol) (types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Books[symbol], nil
}

func (f *FakeConnector) Position(_ context.Context, symbol types.Symbol) (types.PositionSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionsNotReady {
		return types.PositionSnapshot{}, false, ErrPositionsNotReady
	}
	p, ok := f.Positions[symbol]
	return p, ok, nil
}

func (f *FakeConnector) Balance(_ context.Context) (types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Equity, nil
}

func (f *FakeConnector) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaceOrderErr != nil {
		return types.OrderResult{}, f.PlaceOrderErr
	}
	f.Placed = append(f.Placed, req)
	if f.NextOrderResult != nil {
		r := *f.NextOrderResult
		f.NextOrderResult = nil
		return r, nil
	}
	f.nextID++
	price := req.LimitPrice.Decimal
	return types.OrderResult{
		OrderID:         fmt.Sprintf("fake-%d", f.nextID),
		ExchangeOrderID: fmt.Sprintf("fake-exch-%d", f.nextID),
		OrderedPrice:    price,
		OrderedSize:     req.Size,
	}, nil
}

func (f *FakeConnector) CancelOrder(_ context.Context, _ types.Symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, orderID)
	return nil
}

func (f *FakeConnector) OpenOrders(_ context.Context, symbol types.Symbol) ([]types.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OpenOrdersBySymbol[symbol], nil
}

func (f *FakeConnector) CancelOrders(_ context.Context, _ types.Symbol, orderIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, orderIDs...)
	return nil
}

func (f *FakeConnector) FilledOrders(_ context.Context, symbol types.Symbol) ([]types.FilledOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FillsBySymbol[symbol], nil
}

func (f *FakeConnector) ClosePositions(_ context.Context, symbol types.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ClosedPositionsFor = append(f.ClosedPositionsFor, symbol)
	delete(f.Positions, symbol)
	return nil
}

func (f *FakeConnector) CancelAllOrders(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelledAllOrders = true
	return nil
}

func (f *FakeConnector) UpcomingMaintenance(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Maintenance, nil
}

// SeedTicker is a convenience helper for tests.
func (f *FakeConnector) SeedTicker(symbol types.Symbol, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tickers[symbol] = types.SymbolSnapshot{
		Symbol:    symbol,
		Price:     decimalFromFloat(price),
		FetchedAt: time.Now(),
	}
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

var _ Connector = (*FakeConnector)(nil)
