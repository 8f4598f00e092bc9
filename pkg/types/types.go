// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — symbols, pair
// specs, snapshots, positions and pending-order bookkeeping. It has no
// dependencies on internal packages, so it can be imported by any layer.
//
// Every price, size and notional field is a fixed-point decimal
// (github.com/shopspring/decimal). Floating point is reserved for the
// statistical domain (log prices, z-scores, regression coefficients,
// p-values, half-lives) and never used for anything that touches an order.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is an opaque, venue-local identifier (e.g. "BTC-PERP").
type Symbol string

// PairSpec names the two legs of a tradeable pair. The canonical key is
// "base/quote".
type PairSpec struct {
	Base  Symbol
	Quote Symbol
}

// Key returns the canonical "base/quote" identifier for this pair.
func (p PairSpec) Key() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// Direction is the side of a spread position.
//
// LongSpread means long base, short quote. ShortSpread is the opposite.
type Direction string

const (
	LongSpread  Direction = "long_spread"
	ShortSpread Direction = "short_spread"
)

// Opposite returns the reduce-only direction that flattens this position.
func (d Direction) Opposite() Direction {
	if d == LongSpread {
		return ShortSpread
	}
	return LongSpread
}

// OrderSide is the venue-level side of a single-leg order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the reduce-only side that would close a fill on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PriceSample is an immutable bar-close observation: the natural log of a
// close price at a bar-boundary timestamp. Appended only on bar close —
// never on a raw tick.
type PriceSample struct {
	LogPrice float64
	Ts       int64 // unix seconds
}

// SymbolSnapshot is the per-tick venue read for one symbol.
type SymbolSnapshot struct {
	Symbol       Symbol
	Price        decimal.Decimal
	FundingRate  decimal.Decimal
	BidPrice     decimal.NullDecimal
	AskPrice     decimal.NullDecimal
	BidSize      decimal.Decimal
	AskSize      decimal.Decimal
	MinOrder     decimal.NullDecimal
	MinTick      decimal.NullDecimal
	SizeDecimals *int32
	FetchedAt    time.Time
}

// PositionSnapshot is a venue-reported open position for one symbol,
// already dust-filtered by the caller.
type PositionSnapshot struct {
	Symbol      Symbol
	Sign        int // -1, 0, +1
	Size        decimal.Decimal
	EntryPrice  decimal.NullDecimal
}

// Position is an open, balanced two-leg spread position.
type Position struct {
	Direction    Direction
	EnteredAt    time.Time
	EntryPriceA  decimal.NullDecimal
	EntryPriceB  decimal.NullDecimal
	EntrySizeA   decimal.NullDecimal
	EntrySizeB   decimal.NullDecimal
}

// PendingLeg is one side of an in-flight two-leg order.
type PendingLeg struct {
	Symbol           Symbol
	OrderID          string
	ExchangeOrderID  string
	TargetSize       decimal.Decimal
	FilledSize       decimal.Decimal
	Side             OrderSide
	PlacedPrice      decimal.Decimal
}

// Remaining returns target-size minus filled-size, floored at zero.
func (l PendingLeg) Remaining() decimal.Decimal {
	r := l.TargetSize.Sub(l.FilledSize)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// FullyFilled reports whether this leg has reached its target size.
func (l PendingLeg) FullyFilled() bool {
	return l.FilledSize.GreaterThanOrEqual(l.TargetSize)
}

// PendingOrders is an in-flight two-leg batch: an entry or an exit.
type PendingOrders struct {
	Legs            []PendingLeg
	Direction       Direction
	PlacedAt        time.Time
	HedgeRetryCount int
	// ExitReason is empty for a pending entry and set for a pending exit.
	ExitReason string
	// RetryCount counts Reissue passes (one per partial-fill reissue).
	// Entry reissues compare it against EntryPartialFillMaxRetries and the
	// exit timeout check against MaxExitRetries; an exit that times out
	// with no fill is not reissued and does not advance it.
	RetryCount int
}

// AllFilled reports whether every leg has reached its target size.
func (p PendingOrders) AllFilled() bool {
	for _, l := range p.Legs {
		if !l.FullyFilled() {
			return false
		}
	}
	return true
}

// AnyFilled reports whether at least one leg has a nonzero fill.
func (p PendingOrders) AnyFilled() bool {
	for _, l := range p.Legs {
		if l.FilledSize.IsPositive() {
			return true
		}
	}
	return false
}

// OrderRequest is what the coordinator asks the connector to place.
type OrderRequest struct {
	Symbol      Symbol
	Size        decimal.Decimal
	Side        OrderSide
	LimitPrice  decimal.NullDecimal
	SpreadTag   string
	ReduceOnly  bool
	ExpirySecs  int64
}

// OrderResult is what the connector returns for a successfully-submitted
// order.
type OrderResult struct {
	OrderID         string
	ExchangeOrderID string
	OrderedPrice    decimal.Decimal
	OrderedSize     decimal.Decimal
}

// OpenOrder describes one order still resting on the venue.
type OpenOrder struct {
	OrderID         string
	ExchangeOrderID string
	Symbol          Symbol
}

// FilledOrder describes a fill report for reconciliation.
type FilledOrder struct {
	OrderID         string
	ExchangeOrderID string
	FilledSize      decimal.NullDecimal
	FilledSide      OrderSide
	FilledValue     decimal.NullDecimal
	TradeID         string
}

// Balance is the venue's account-equity report.
type Balance struct {
	Equity decimal.Decimal
}

// BookLevel is one price/size level of an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a shallow bid/ask snapshot.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BestBid returns the best bid level, or false if the book is empty.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the best ask level, or false if the book is empty.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}
