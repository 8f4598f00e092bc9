// Package pairstate holds the per-pair state machine: rolling spread
// window, z-score, last evaluation, position, pending-order slots and the
// guard flag that records an unhedged or mismatched leg.
package pairstate

import (
	"time"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// State is one pair's complete rolling state.
type State struct {
	Spec types.PairSpec

	Beta      float64
	BetaShort float64
	BetaLong  float64
	ZEntry    float64

	spreadHistory []float64 // bounded FIFO, oldest-evict, len <= metricsWindow
	metricsWindow int

	LastSpread         float64
	VelocitySigmaPerMin float64

	HalfLifeHours float64
	AdfPValue     float64
	Score         float64
	Eligible      bool
	LastEvaluated time.Time

	Position     *types.Position
	PendingEntry *types.PendingOrders
	PendingExit  *types.PendingOrders
	LastExitAt   *time.Time

	// PositionGuard is true when the venue reports unhedged or mismatched
	// legs for this pair; cleared on the next clean reconciliation.
	PositionGuard bool

	// PositionsReady is false while the venue position feed is still
	// warming up; the decision engine must not act on this pair's
	// position state until it flips true.
	PositionsReady bool
}

// New creates an empty state for spec, bounded to metricsWindow spread
// samples.
func New(spec types.PairSpec, metricsWindow int) *State {
	return &State{Spec: spec, metricsWindow: metricsWindow}
}

// PushSpread appends a new spread observation, evicting the oldest entry
// if the window is at capacity. O(1) amortized.
func (s *State) PushSpread(value float64) {
	s.spreadHistory = append(s.spreadHistory, value)
	if len(s.spreadHistory) > s.metricsWindow {
		s.spreadHistory = s.spreadHistory[len(s.spreadHistory)-s.metricsWindow:]
	}
	s.LastSpread = value
}

// SpreadHistory returns the current bounded spread window.
func (s *State) SpreadHistory() []float64 {
	return s.spreadHistory
}

// HasActive reports whether this pair currently occupies one of the three
// mutually-exclusive slots (position, pending_entry, pending_exit).
func (s *State) HasActive() bool {
	return s.Position != nil || s.PendingEntry != nil || s.PendingExit != nil
}

// ActiveSymbols returns the symbols this pair currently holds exclusive
// claim over (base+quote), or nil if the pair is flat.
func (s *State) ActiveSymbols() []types.Symbol {
	if !s.HasActive() {
		return nil
	}
	return []types.Symbol{s.Spec.Base, s.Spec.Quote}
}

// CheckInvariants returns an error describing any violated per-pair
// invariant from SPEC_FULL §3/§8, or nil if state is consistent.
func (s *State) CheckInvariants() error {
	active := 0
	if s.Position != nil {
		active++
	}
	if s.PendingEntry != nil {
		active++
	}
	if s.PendingExit != nil {
		active++
	}
	if active > 1 {
		return errMultipleActiveSlots
	}
	if len(s.spreadHistory) > s.metricsWindow {
		return errSpreadHistoryOverflow
	}
	return nil
}
