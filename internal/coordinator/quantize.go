// Package coordinator implements the Order Coordinator: sizing,
// quantization, reference pricing, two-leg placement with rollback,
// reconciliation, reissue, and reduce-only close semantics (SPEC_FULL
// §4.5).
package coordinator

import (
	"math"

	"github.com/shopspring/decimal"
)

// LegNotional computes the per-leg notional budget: half the leveraged
// risk allocation, floored at a $10 minimum.
func LegNotional(equity decimal.Decimal, riskPct, maxLeverage float64) decimal.Decimal {
	n := equity.Mul(decimal.NewFromFloat(riskPct)).Mul(decimal.NewFromFloat(maxLeverage)).Div(decimal.NewFromInt(2))
	floor := decimal.NewFromInt(10)
	if n.LessThan(floor) {
		return floor
	}
	return n
}

// LegSizes derives the raw (unquantized) quantity for each leg from a
// shared notional budget and the pair's hedge ratio.
func LegSizes(notional, priceA, priceB decimal.Decimal, beta float64) (qtyA, qtyB decimal.Decimal) {
	qtyA = notional.Div(priceA)
	qtyB = notional.Mul(decimal.NewFromFloat(math.Abs(beta))).Div(priceB)
	return qtyA, qtyB
}

// SizeStep returns the quantization step for a symbol: min_order if the
// venue provided one, else 10^-size_decimals.
func SizeStep(minOrder decimal.Decimal, sizeDecimals *int32) decimal.Decimal {
	if minOrder.IsPositive() {
		return minOrder
	}
	decimals := int32(0)
	if sizeDecimals != nil {
		decimals = *sizeDecimals
	}
	return decimal.New(1, -decimals)
}

// QuantizeSizeDown rounds size down to a multiple of step, for entries.
// Returns zero when the floored result would fall below the floor
// (max(min_order, step)) — callers must skip the leg in that case.
func QuantizeSizeDown(size, step, minOrder decimal.Decimal) decimal.Decimal {
	if step.IsZero() || step.IsNegative() {
		return size
	}
	floor := step
	if minOrder.GreaterThan(floor) {
		floor = minOrder
	}
	n := size.Div(step).Floor()
	q := n.Mul(step)
	if q.LessThan(floor) {
		return decimal.Zero
	}
	return q
}

// QuantizeSizeUp rounds size up to a multiple of step, for exits — the
// residual never strands below the requested size.
func QuantizeSizeUp(size, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() || step.IsNegative() {
		return size
	}
	n := size.Div(step).Ceil()
	return n.Mul(step)
}

// QuantizePrice rounds price to a multiple of tick, never below one
// tick. roundUp selects the rounding direction (true -> ceiling, false
// -> floor).
func QuantizePrice(price, tick decimal.Decimal, roundUp bool) decimal.Decimal {
	if tick.IsZero() || tick.IsNegative() {
		return price
	}
	steps := price.Div(tick)
	var n decimal.Decimal
	if roundUp {
		n = steps.Ceil()
	} else {
		n = steps.Floor()
	}
	q := n.Mul(tick)
	if q.LessThan(tick) {
		return tick
	}
	return q
}
