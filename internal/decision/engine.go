// Package decision implements the Decision Engine: per-tick spread
// updates, the dynamic entry threshold, entry/exit predicates, the exit
// reason cascade, and candidate arbitration between competing pairs.
package decision

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/pairstate"
	"github.com/shigeo-nakamura/pairtrade/internal/stats"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// UpdateSpread pushes a new spread observation into state and recomputes
// the std-normalized velocity against the previous observation.
func UpdateSpread(s *pairstate.State, logA, logB, beta float64, tradingPeriodSecs int64) {
	prevLen := len(s.SpreadHistory())
	prevSpread := s.LastSpread
	newSpread := logA - beta*logB
	s.PushSpread(newSpread)

	if prevLen == 0 {
		s.VelocitySigmaPerMin = 0
		return
	}
	_, std := stats.MeanStd(s.SpreadHistory())
	minutesPerSample := float64(tradingPeriodSecs) / 60.0
	if minutesPerSample <= 0 || std < 1e-12 {
		s.VelocitySigmaPerMin = 0
		return
	}
	raw := (newSpread - prevSpread) / minutesPerSample
	s.VelocitySigmaPerMin = raw / std
}

// ZScore computes (last-mean)/std over spreadHistory, returning 0 when std
// is near zero.
func ZScore(spreadHistory []float64, last float64) float64 {
	mean, std := stats.MeanStd(spreadHistory)
	if std < 1e-12 {
		return 0
	}
	return (last - mean) / std
}

// DynamicEntryZ computes the vol-normalized entry threshold (§4.4).
func DynamicEntryZ(volPair, volMedian, entryZBase, entryZMin, entryZMax float64) float64 {
	alpha := 1.0
	if volMedian > 1e-12 {
		alpha = clamp(volPair/volMedian, 0.5, 2.0)
	}
	return clamp(entryZBase*alpha, entryZMin, entryZMax)
}

// NetFundingPerHour computes the direction-adjusted funding carry (§4.4).
// z>0 implies ShortSpread (short base, long quote); z<0 implies the
// negation.
func NetFundingPerHour(z, fundingBase, fundingQuote float64) float64 {
	if z > 0 {
		return (fundingQuote - fundingBase) / 24
	}
	return (fundingBase - fundingQuote) / 24
}

// CostInSigma is the round-trip transaction-cost estimate expressed in
// standard deviations of the spread.
func CostInSigma(feeBps, slippageBps, std float64) float64 {
	if std < 1e-12 {
		return 0
	}
	return (2*feeBps + 2*math.Abs(slippageBps)) / 10000 / std
}

// EntryInput bundles every input ShouldEnter needs.
type EntryInput struct {
	HasActivePosition bool
	Eligible          bool
	Z                 float64
	Std               float64
	SpreadHistoryLen  int
	MetricsWindow     int
	LastExitAt        *time.Time
	Now               time.Time
	CooldownSecs      int64
	ZEntry            float64
	FeeBps            float64
	SlippageBps       float64
	StopLossZ         float64
	FundingBase       float64
	FundingQuote      float64
	NetFundingMinPerHour float64
	SymbolsBusy       bool
	UpcomingMaintenance bool
}

// ShouldEnter evaluates every entry predicate in §4.4 and, if all hold,
// returns the implied direction.
func ShouldEnter(in EntryInput) (bool, types.Direction) {
	if in.HasActivePosition || !in.Eligible {
		return false, ""
	}
	if in.SpreadHistoryLen < maxInt(in.MetricsWindow/2, 10) {
		return false, ""
	}
	if in.LastExitAt != nil && in.Now.Sub(*in.LastExitAt) < time.Duration(in.CooldownSecs)*time.Second {
		return false, ""
	}

	netFunding := NetFundingPerHour(in.Z, in.FundingBase, in.FundingQuote)
	threshold := in.ZEntry
	if netFunding > 0 {
		threshold = 0.9 * in.ZEntry
	}
	if math.Abs(in.Z) < threshold+CostInSigma(in.FeeBps, in.SlippageBps, in.Std) {
		return false, ""
	}
	if math.Abs(in.Z) >= in.StopLossZ {
		return false, ""
	}
	if netFunding < in.NetFundingMinPerHour {
		return false, ""
	}
	if in.SymbolsBusy || in.UpcomingMaintenance {
		return false, ""
	}

	if in.Z > 0 {
		return true, types.ShortSpread
	}
	return true, types.LongSpread
}

// ExitInput bundles every input ExitReason needs.
type ExitInput struct {
	Now            time.Time
	EnteredAt      time.Time
	ForceCloseSecs int64
	Z              float64
	StopLossZ      float64
	ExitZ          float64
	RiskPctPerTrade float64
	MaxLossRMult   float64
	Equity         decimal.Decimal
	PnL            decimal.Decimal
	HalfLifeHours  float64
	Std            float64
	FeeBps         float64
	SlippageBps    float64
	EligibleNow    bool
}

// ExitReason walks the priority cascade from §4.4 and returns the first
// matching reason, or ("", false) when no exit condition holds.
func ExitReason(in ExitInput) (string, bool) {
	elapsed := in.Now.Sub(in.EnteredAt)

	if elapsed >= time.Duration(in.ForceCloseSecs)*time.Second {
		return "force_close", true
	}
	if math.Abs(in.Z) >= in.StopLossZ {
		return "stop_loss_z", true
	}
	if in.ExitZ > 0 && math.Abs(in.Z) <= in.ExitZ {
		return "exit_z", true
	}

	riskBudget := in.Equity.Mul(decimal.NewFromFloat(in.RiskPctPerTrade))
	if in.PnL.GreaterThanOrEqual(riskBudget) {
		return "risk_budget", true
	}
	maxLoss := riskBudget.Mul(decimal.NewFromFloat(in.MaxLossRMult)).Neg()
	if in.PnL.LessThanOrEqual(maxLoss) {
		return "max_loss_r", true
	}

	if in.PnL.IsPositive() && in.Std > 0 && in.HalfLifeHours > 0 && !math.IsInf(in.HalfLifeHours, 1) {
		k := math.Ln2 / (in.HalfLifeHours * 3600)
		remaining := float64(in.ForceCloseSecs) - elapsed.Seconds()
		decay := math.Exp(-k * remaining)
		expectedImprovement := math.Abs(in.Z) * (1 - decay)
		if expectedImprovement <= CostInSigma(in.FeeBps, in.SlippageBps, in.Std) {
			return "expected_value", true
		}
	}

	if !in.EligibleNow {
		return "eligibility_lost", true
	}
	return "", false
}

// Candidate is a pair signalling an Open action this tick, carrying the
// arbitration key (§4.4).
type Candidate struct {
	Spec              types.PairSpec
	Direction         types.Direction
	Score             float64
	NetFundingPerHour float64
	Liquidity         float64
	AbsZ              float64
}

// Arbitrate shortlists candidates by score (desc) to maxActivePairs after
// excluding any whose symbols overlap busySymbols, then returns the
// maximum of the lexicographic key (net_funding, score, liquidity, |z|).
func Arbitrate(candidates []Candidate, maxActivePairs int, busySymbols map[types.Symbol]bool) (Candidate, bool) {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if busySymbols[c.Spec.Base] || busySymbols[c.Spec.Quote] {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return Candidate{}, false
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > maxActivePairs {
		filtered = filtered[:maxActivePairs]
	}

	best := filtered[0]
	for _, c := range filtered[1:] {
		if lexGreater(c, best) {
			best = c
		}
	}
	return best, true
}

func lexGreater(a, b Candidate) bool {
	if a.NetFundingPerHour != b.NetFundingPerHour {
		return a.NetFundingPerHour > b.NetFundingPerHour
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Liquidity != b.Liquidity {
		return a.Liquidity > b.Liquidity
	}
	return a.AbsZ > b.AbsZ
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
