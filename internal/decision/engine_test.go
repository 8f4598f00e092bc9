package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/pairstate"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestUpdateSpreadFirstSampleHasZeroVelocity(t *testing.T) {
	t.Parallel()
	s := pairstate.New(types.PairSpec{Base: "BTC", Quote: "ETH"}, 50)
	UpdateSpread(s, 1.0, 0.5, 1.0, 60)
	if s.VelocitySigmaPerMin != 0 {
		t.Errorf("velocity = %v, want 0 on first sample", s.VelocitySigmaPerMin)
	}
	if len(s.SpreadHistory()) != 1 {
		t.Fatalf("len = %d, want 1", len(s.SpreadHistory()))
	}
}

func TestUpdateSpreadSecondSampleNormalizesByStd(t *testing.T) {
	t.Parallel()
	s := pairstate.New(types.PairSpec{Base: "BTC", Quote: "ETH"}, 50)
	UpdateSpread(s, 1.0, 0.0, 1.0, 60)
	UpdateSpread(s, 1.1, 0.0, 1.0, 60)
	if s.VelocitySigmaPerMin == 0 {
		t.Error("expected non-zero velocity once std is non-zero")
	}
}

func TestZScoreZeroWhenFlat(t *testing.T) {
	t.Parallel()
	flat := []float64{1, 1, 1, 1}
	if z := ZScore(flat, 1); z != 0 {
		t.Errorf("z = %v, want 0 for constant history", z)
	}
}

func TestDynamicEntryZClampsToRange(t *testing.T) {
	t.Parallel()
	z := DynamicEntryZ(10, 1, 2.0, 1.5, 3.0)
	if z != 3.0 {
		t.Errorf("z_entry = %v, want clamp to 3.0", z)
	}
	z = DynamicEntryZ(0.01, 1, 2.0, 1.5, 3.0)
	if z != 1.5 {
		t.Errorf("z_entry = %v, want clamp to 1.5", z)
	}
}

func TestDynamicEntryZFallsBackWhenMedianIsZero(t *testing.T) {
	t.Parallel()
	z := DynamicEntryZ(0.01, 0, 2.0, 1.5, 3.0)
	if z != 2.0 {
		t.Errorf("z_entry = %v, want base 2.0 when median vol is zero", z)
	}
}

func TestNetFundingPerHourSignFollowsZ(t *testing.T) {
	t.Parallel()
	pos := NetFundingPerHour(1.0, 0.0001, 0.0003)
	neg := NetFundingPerHour(-1.0, 0.0001, 0.0003)
	if pos <= 0 {
		t.Errorf("expected positive net funding for z>0, got %v", pos)
	}
	if pos != -neg {
		t.Errorf("expected sign-flip across z=0, got %v and %v", pos, neg)
	}
}

func baseEntryInput() EntryInput {
	return EntryInput{
		Eligible:         true,
		Z:                2.5,
		Std:              0.01,
		SpreadHistoryLen: 100,
		MetricsWindow:    100,
		Now:              time.Unix(100000, 0),
		CooldownSecs:     60,
		ZEntry:           2.0,
		FeeBps:           5,
		SlippageBps:      5,
		StopLossZ:        4.0,
		FundingBase:      0.0001,
		FundingQuote:     0.0003,
		NetFundingMinPerHour: -1,
	}
}

func TestShouldEnterAcceptsCleanSignal(t *testing.T) {
	t.Parallel()
	ok, dir := ShouldEnter(baseEntryInput())
	if !ok {
		t.Fatal("expected entry to be accepted")
	}
	if dir != types.ShortSpread {
		t.Errorf("direction = %v, want ShortSpread for z>0", dir)
	}
}

func TestShouldEnterRejectsWhenAlreadyActive(t *testing.T) {
	t.Parallel()
	in := baseEntryInput()
	in.HasActivePosition = true
	if ok, _ := ShouldEnter(in); ok {
		t.Error("expected rejection when a position is already active")
	}
}

func TestShouldEnterRejectsDuringCooldown(t *testing.T) {
	t.Parallel()
	in := baseEntryInput()
	recent := in.Now.Add(-10 * time.Second)
	in.LastExitAt = &recent
	if ok, _ := ShouldEnter(in); ok {
		t.Error("expected rejection during cooldown")
	}
}

func TestShouldEnterRejectsAboveStopLoss(t *testing.T) {
	t.Parallel()
	in := baseEntryInput()
	in.Z = 5.0
	if ok, _ := ShouldEnter(in); ok {
		t.Error("expected rejection when |z| already exceeds stop_loss_z")
	}
}

func TestShouldEnterRejectsBelowThresholdPlusCost(t *testing.T) {
	t.Parallel()
	in := baseEntryInput()
	in.Z = 2.01
	in.Std = 0.0001 // inflates cost_in_sigma far above the available margin
	if ok, _ := ShouldEnter(in); ok {
		t.Error("expected rejection when transaction cost eats the z margin")
	}
}

func TestShouldEnterRejectsOnBusySymbols(t *testing.T) {
	t.Parallel()
	in := baseEntryInput()
	in.SymbolsBusy = true
	if ok, _ := ShouldEnter(in); ok {
		t.Error("expected rejection when a leg symbol is already committed elsewhere")
	}
}

func baseExitInput() ExitInput {
	return ExitInput{
		Now:             time.Unix(1000, 0),
		EnteredAt:       time.Unix(0, 0),
		ForceCloseSecs:  3600,
		Z:               0.5,
		StopLossZ:       4.0,
		ExitZ:           0.3,
		RiskPctPerTrade: 0.02,
		MaxLossRMult:    1.5,
		Equity:          d("10000"),
		PnL:             d("0"),
		HalfLifeHours:   2,
		Std:             0.01,
		FeeBps:          5,
		SlippageBps:     5,
		EligibleNow:     true,
	}
}

func TestExitReasonForceCloseTakesPriority(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.Now = in.EnteredAt.Add(time.Duration(in.ForceCloseSecs) * time.Second)
	in.Z = 10 // would also trigger stop_loss_z, but force_close must win
	reason, ok := ExitReason(in)
	if !ok || reason != "force_close" {
		t.Errorf("reason = %q, ok = %v, want force_close", reason, ok)
	}
}

func TestExitReasonStopLossZ(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.Z = 4.5
	reason, ok := ExitReason(in)
	if !ok || reason != "stop_loss_z" {
		t.Errorf("reason = %q, ok = %v, want stop_loss_z", reason, ok)
	}
}

func TestExitReasonExitZ(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.Z = 0.1
	reason, ok := ExitReason(in)
	if !ok || reason != "exit_z" {
		t.Errorf("reason = %q, ok = %v, want exit_z", reason, ok)
	}
}

func TestExitReasonRiskBudgetHit(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.ExitZ = 0 // disable so risk_budget can surface
	in.PnL = d("300") // >= 10000*0.02
	reason, ok := ExitReason(in)
	if !ok || reason != "risk_budget" {
		t.Errorf("reason = %q, ok = %v, want risk_budget", reason, ok)
	}
}

func TestExitReasonMaxLossR(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.ExitZ = 0
	in.PnL = d("-400") // below -10000*0.02*1.5 = -300
	reason, ok := ExitReason(in)
	if !ok || reason != "max_loss_r" {
		t.Errorf("reason = %q, ok = %v, want max_loss_r", reason, ok)
	}
}

func TestExitReasonEligibilityLostIsLastResort(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.ExitZ = 0
	in.EligibleNow = false
	reason, ok := ExitReason(in)
	if !ok || reason != "eligibility_lost" {
		t.Errorf("reason = %q, ok = %v, want eligibility_lost", reason, ok)
	}
}

func TestExitReasonNoneWhenNothingTriggers(t *testing.T) {
	t.Parallel()
	in := baseExitInput()
	in.ExitZ = 0
	if _, ok := ExitReason(in); ok {
		t.Error("expected no exit reason when every condition is clean")
	}
}

func TestArbitrateShortlistsByScoreThenFundingLex(t *testing.T) {
	t.Parallel()
	candidates := []Candidate{
		{Spec: types.PairSpec{Base: "A1", Quote: "A2"}, Score: 0.7, NetFundingPerHour: 0.001, Liquidity: 120, AbsZ: 2.2},
		{Spec: types.PairSpec{Base: "B1", Quote: "B2"}, Score: 0.9, NetFundingPerHour: 0.0, Liquidity: 200, AbsZ: 2.5},
		{Spec: types.PairSpec{Base: "C1", Quote: "C2"}, Score: 0.5, NetFundingPerHour: 0.002, Liquidity: 50, AbsZ: 2.1},
	}
	winner, ok := Arbitrate(candidates, 2, nil)
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.Spec.Base != "A1" {
		t.Errorf("winner = %v, want A1 (shortlisted top-2 by score, then funding breaks the tie)", winner.Spec)
	}
}

func TestArbitrateExcludesBusySymbols(t *testing.T) {
	t.Parallel()
	candidates := []Candidate{
		{Spec: types.PairSpec{Base: "BTC", Quote: "ETH"}, Score: 0.9},
		{Spec: types.PairSpec{Base: "SOL", Quote: "AVAX"}, Score: 0.5},
	}
	busy := map[types.Symbol]bool{"BTC": true}
	winner, ok := Arbitrate(candidates, 2, busy)
	if !ok || winner.Spec.Base != "SOL" {
		t.Errorf("winner = %v, ok = %v, want SOL (BTC leg busy)", winner.Spec, ok)
	}
}

func TestArbitrateNoneWhenAllBusy(t *testing.T) {
	t.Parallel()
	candidates := []Candidate{{Spec: types.PairSpec{Base: "BTC", Quote: "ETH"}, Score: 0.9}}
	busy := map[types.Symbol]bool{"ETH": true}
	if _, ok := Arbitrate(candidates, 2, busy); ok {
		t.Error("expected no winner when every candidate is excluded")
	}
}
