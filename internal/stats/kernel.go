// Package stats implements the statistics kernel shared by the pair
// evaluator and decision engine: population mean/std, tailed std, OLS
// hedge-ratio regression, and AR(1) half-life with a Dickey-Fuller
// p-value approximation.
//
// Everything here operates on float64 — log prices, z-scores, regression
// coefficients and p-values are the one part of the system exempted from
// decimal semantics (see SPEC_FULL §9).
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanStd returns the population mean and standard deviation (divide by N,
// not N-1) of window.
func MeanStd(window []float64) (mean, std float64) {
	n := float64(len(window))
	if n == 0 {
		return 0, 0
	}
	mean = stat.Mean(window, nil)
	var ss float64
	for _, x := range window {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / n)
}

// TailStd returns the population std of the last min(n, len(window))
// samples.
func TailStd(window []float64, n int) float64 {
	if n > len(window) {
		n = len(window)
	}
	if n == 0 {
		return 0
	}
	_, std := MeanStd(window[len(window)-n:])
	return std
}

// OLSBeta returns the slope of y regressed on x (y = alpha + beta*x),
// clamped to [0.1, 10.0]. Returns 1.0 if there are fewer than 2 samples or
// x has near-zero variance, matching the source's degenerate-input
// fallback.
func OLSBeta(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return 1.0
	}
	_, varX := stat.MeanVariance(x, nil)
	popVarX := varX * float64(n-1) / float64(n)
	if popVarX < 1e-9 {
		return 1.0
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return clamp(beta, 0.1, 10.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HalfLifeAndP regresses the first difference of spreads against its own
// lag (Δy_t = φ·y_{t-1} + ε, intercept absorbed into mean(Δy)), derives a
// Dickey-Fuller t-statistic, maps it to an approximate p-value, and
// converts φ to a mean-reversion half-life in hours (using
// trading-period-per-sample cadence supplied by the caller as secsPerSample).
//
// half_life = -ln(2) / ln(1+φ) when 0 < 1+φ < 1, else +Inf (no
// mean-reversion, e.g. a pure random walk where φ→0 gives 1+φ→1).
func HalfLifeAndP(spreads []float64, secsPerSample float64) (halfLifeHours, adfP float64) {
	n := len(spreads)
	if n < 5 {
		return math.Inf(1), 1.0
	}

	y := spreads[:n-1]
	dy := make([]float64, n-1)
	for i := 1; i < n; i++ {
		dy[i-1] = spreads[i] - spreads[i-1]
	}

	meanY := stat.Mean(y, nil)
	meanDy := stat.Mean(dy, nil)

	var num, den float64
	for i := range y {
		cy := y[i] - meanY
		num += cy * (dy[i] - meanDy)
		den += cy * cy
	}
	if den < 1e-12 {
		return math.Inf(1), 1.0
	}
	phi := clamp(num/den, -0.999, 0.999)

	var ssRes float64
	for i := range y {
		resid := (dy[i] - meanDy) - phi*(y[i]-meanY)
		ssRes += resid * resid
	}
	m := float64(len(y))
	var sePhi float64
	if den > 1e-12 && m > 2 {
		sigma2 := ssRes / (m - 2)
		sePhi = math.Sqrt(sigma2 / den)
	}

	var t float64
	if sePhi > 0 {
		t = phi / sePhi
	}

	adfP = dfPValue(t, int(m))

	ratio := 1 + phi
	if ratio > 0 && ratio < 1 {
		halfLifeHours = -math.Ln2 / math.Log(ratio) * secsPerSample / 3600.0
	} else {
		halfLifeHours = math.Inf(1)
	}
	return halfLifeHours, adfP
}
