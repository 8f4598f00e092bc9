package coordinator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// PostOnlySupported reports whether venue supports post-only placement
// for this order (§4.5: "extended" or "lighter", and a nonzero maker fee
// worth saving).
func PostOnlySupported(venueName string, feeBps float64) bool {
	return (venueName == "extended" || venueName == "lighter") && feeBps > 0
}

// ReferencePrice picks the reference price for side: top-of-book same
// side (ask for buy, bid for sell) when useTopOfBook is set, falling
// back to last whenever the requested side of the book is empty.
func ReferencePrice(side types.OrderSide, last decimal.Decimal, book types.OrderBook, useTopOfBook bool) decimal.Decimal {
	if !useTopOfBook {
		return last
	}
	if side == types.SideBuy {
		if ask, ok := book.BestAsk(); ok {
			return ask.Price
		}
		return last
	}
	if bid, ok := book.BestBid(); ok {
		return bid.Price
	}
	return last
}

// ApplySlippage adjusts price per SPEC_FULL §4.5: aggressive slippage
// (bps >= 0) moves the price against the trader; passive slippage
// (bps < 0) moves it toward the resting side, in the trader's favor.
func ApplySlippage(price decimal.Decimal, side types.OrderSide, slippageBps float64) decimal.Decimal {
	factor := decimal.NewFromFloat(math.Abs(slippageBps) / 10000)
	against := slippageBps >= 0

	sign := decimal.NewFromInt(1)
	switch {
	case side == types.SideBuy && against:
		sign = decimal.NewFromInt(1).Add(factor)
	case side == types.SideBuy && !against:
		sign = decimal.NewFromInt(1).Sub(factor)
	case side == types.SideSell && against:
		sign = decimal.NewFromInt(1).Sub(factor)
	case side == types.SideSell && !against:
		sign = decimal.NewFromInt(1).Add(factor)
	}
	return price.Mul(sign)
}

// UseTopOfBook reports whether the reference price should be read from
// the book's top level rather than last price (§4.5).
func UseTopOfBook(slippageBps float64, postOnlyEnabled bool) bool {
	return slippageBps < 0 || postOnlyEnabled
}

// RoundUpForSide reports whether price quantization should round toward
// +infinity for this leg's order side: a buy rounds toward -infinity
// (favoring the trader), a sell rounds toward +infinity (SPEC_FULL §4.5).
func RoundUpForSide(side types.OrderSide) bool {
	return side == types.SideSell
}
