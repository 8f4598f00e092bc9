package pairstate

import (
	"testing"
	"time"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func spec() types.PairSpec {
	return types.PairSpec{Base: "BTC", Quote: "ETH"}
}

func TestPushSpreadEvictsOldest(t *testing.T) {
	t.Parallel()
	s := New(spec(), 3)
	for i := 0; i < 5; i++ {
		s.PushSpread(float64(i))
	}
	hist := s.SpreadHistory()
	if len(hist) != 3 {
		t.Fatalf("len = %d, want 3", len(hist))
	}
	if hist[0] != 2 || hist[2] != 4 {
		t.Errorf("got %v, want [2,3,4]", hist)
	}
}

func TestHasActiveAndActiveSymbols(t *testing.T) {
	t.Parallel()
	s := New(spec(), 10)
	if s.HasActive() {
		t.Error("fresh state should not be active")
	}
	s.Position = &types.Position{Direction: types.LongSpread}
	if !s.HasActive() {
		t.Error("expected active state once Position is set")
	}
	syms := s.ActiveSymbols()
	if len(syms) != 2 || syms[0] != "BTC" || syms[1] != "ETH" {
		t.Errorf("got %v", syms)
	}
}

func TestCheckInvariantsRejectsMultipleActiveSlots(t *testing.T) {
	t.Parallel()
	s := New(spec(), 10)
	s.Position = &types.Position{}
	s.PendingExit = &types.PendingOrders{}
	if err := s.CheckInvariants(); err == nil {
		t.Error("expected invariant violation with both position and pending_exit set")
	}
}

func TestCheckInvariantsOKWithOneActiveSlot(t *testing.T) {
	t.Parallel()
	s := New(spec(), 10)
	now := time.Now()
	s.LastExitAt = &now
	s.PendingEntry = &types.PendingOrders{}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
