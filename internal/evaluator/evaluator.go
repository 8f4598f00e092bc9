// Package evaluator implements the Pair Evaluator: given bar-aggregated
// log-price history for a pair's two symbols, it produces short/long/
// effective hedge ratios, half-life, ADF p-value, an eligibility verdict
// and a continuous ranking score.
package evaluator

import (
	"math"

	"github.com/shigeo-nakamura/pairtrade/internal/stats"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// WarmStartMode selects how much history is required before a pair can be
// evaluated at all.
type WarmStartMode string

const (
	Strict  WarmStartMode = "strict"
	Relaxed WarmStartMode = "relaxed"
)

// Params bundles the evaluator's tunable thresholds (SPEC_FULL §4.3, §6.2).
type Params struct {
	LookbackHoursLong  float64
	LookbackHoursShort float64
	WarmStartMode      WarmStartMode
	WarmStartMinBars   int
	TradingPeriodSecs  int64
	HalfLifeMaxHours   float64
	AdfPThreshold      float64
}

// Result is a completed evaluation.
type Result struct {
	BetaShort     float64
	BetaLong      float64
	BetaEff       float64
	HalfLifeHours float64
	AdfP          float64
	Eligible      bool
	Score         float64
	// SpreadSeries is s_i = logA_i - BetaEff*logB_i over the long window,
	// in chronological order, suitable for seeding spread_history.
	SpreadSeries []float64
}

// Evaluate computes a Result from symbol A's and symbol B's bar-close log
// price history (oldest first). Returns false when there isn't enough
// history to warm-start under the configured mode.
func Evaluate(histA, histB []types.PriceSample, p Params) (Result, bool) {
	desiredLong := int(p.LookbackHoursLong * 3600 / float64(p.TradingPeriodSecs))
	desiredShort := int(p.LookbackHoursShort * 3600 / float64(p.TradingPeriodSecs))

	available := min(len(histA), len(histB))

	var long, short int
	switch p.WarmStartMode {
	case Strict:
		if available < desiredLong {
			return Result{}, false
		}
		long = desiredLong
		short = desiredShort
	default: // Relaxed
		if available < p.WarmStartMinBars {
			return Result{}, false
		}
		long = min(desiredLong, available)
		short = min(desiredShort, long)
	}
	if long <= 0 {
		return Result{}, false
	}

	logA := tailLog(histA, long)
	logB := tailLog(histB, long)

	shortA := tailSlice(logA, short)
	shortB := tailSlice(logB, short)

	betaLong := stats.OLSBeta(logB, logA)
	betaShort := stats.OLSBeta(shortB, shortA)
	betaEff := 0.7*betaShort + 0.3*betaLong

	spread := make([]float64, long)
	for i := range logA {
		spread[i] = logA[i] - betaEff*logB[i]
	}

	halfLifeHours, adfP := stats.HalfLifeAndP(spread, float64(p.TradingPeriodSecs))

	criteriaTrue := 0
	if halfLifeHours <= p.HalfLifeMaxHours {
		criteriaTrue++
	}
	if adfP <= p.AdfPThreshold {
		criteriaTrue++
	}
	betaSpread := math.Abs(betaShort-betaLong) / math.Max(math.Abs(betaEff), 1e-6)
	if betaSpread <= 0.2 {
		criteriaTrue++
	}
	eligible := criteriaTrue >= 2

	pClamped := math.Min(adfP, 1.0)
	score := 0.6*(1-pClamped) + 0.4*(1/(1+halfLifeHours))

	return Result{
		BetaShort:     betaShort,
		BetaLong:      betaLong,
		BetaEff:       betaEff,
		HalfLifeHours: halfLifeHours,
		AdfP:          adfP,
		Eligible:      eligible,
		Score:         score,
		SpreadSeries:  spread,
	}, true
}

func tailLog(samples []types.PriceSample, n int) []float64 {
	start := len(samples) - n
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = samples[start+i].LogPrice
	}
	return out
}

func tailSlice(xs []float64, n int) []float64 {
	if n > len(xs) {
		n = len(xs)
	}
	return xs[len(xs)-n:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReevalTriggered reports whether re-evaluation should run now, per
// SPEC_FULL §4.3: interval elapsed, z-score jump, velocity jump, or a
// volatility spike relative to the full-window tail std.
func ReevalTriggered(secsSinceLastEval float64, reevalIntervalSecs float64, z, zEntry, reevalJumpZMult float64, vel, velMax float64, currentStd, fullTailStd, volSpikeMult float64) bool {
	if secsSinceLastEval >= reevalIntervalSecs {
		return true
	}
	if math.Abs(z) >= zEntry*reevalJumpZMult {
		return true
	}
	if math.Abs(vel) >= velMax*reevalJumpZMult {
		return true
	}
	if fullTailStd > 1e-12 && currentStd/fullTailStd >= volSpikeMult {
		return true
	}
	return false
}
