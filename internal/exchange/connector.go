// Package exchange implements the venue Connector port (SPEC_FULL §6.1)
// and its three variants: a live client backed by REST + WebSocket, a
// replay client for backtesting, and an in-memory test double.
package exchange

import (
	"context"
	"errors"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// ErrPositionsNotReady is returned by Position reads during venue
// websocket warmup, when the position book has not yet converged.
var ErrPositionsNotReady = errors.New("exchange: positions not ready")

// Connector is the venue-agnostic port every strategy component talks to.
// No component outside this package may depend on a concrete connector
// type (SPEC_FULL §9, "Polymorphism over venue").
type Connector interface {
	// Ticker returns the latest price/funding/book-top read for symbol.
	Ticker(ctx context.Context, symbol types.Symbol) (types.SymbolSnapshot, error)

	// OrderBook returns the current bid/ask ladder for symbol.
	OrderBook(ctx context.Context, symbol types.Symbol) (types.OrderBook, error)

	// Position returns the venue-reported open position for symbol. The
	// second return is false when the venue has no record of a position.
	Position(ctx context.Context, symbol types.Symbol) (types.PositionSnapshot, bool, error)

	// Balance returns current account equity.
	Balance(ctx context.Context) (types.Balance, error)

	// PlaceOrder submits a single-leg order.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)

	// CancelOrder cancels a resting order. Returns nil if the order is
	// already gone.
	CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error

	// OpenOrders lists orders still resting on the venue for symbol.
	OpenOrders(ctx context.Context, symbol types.Symbol) ([]types.OpenOrder, error)

	// CancelOrders cancels a batch of resting orders for symbol in one call.
	CancelOrders(ctx context.Context, symbol types.Symbol, orderIDs []string) error

	// FilledOrders lists fill reports for symbol, matching either the
	// internal order id or the exchange order id.
	FilledOrders(ctx context.Context, symbol types.Symbol) ([]types.FilledOrder, error)

	// ClosePositions force-flattens every open position for symbol (or,
	// if symbol is empty, every open position account-wide).
	ClosePositions(ctx context.Context, symbol types.Symbol) error

	// CancelAllOrders cancels every resting order account-wide.
	CancelAllOrders(ctx context.Context) error

	// UpcomingMaintenance reports whether the venue has a scheduled
	// maintenance window starting within the next two hours.
	UpcomingMaintenance(ctx context.Context) (bool, error)
}
