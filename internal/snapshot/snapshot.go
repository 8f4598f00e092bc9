// Package snapshot writes the periodic status snapshot (SPEC_FULL §6.3):
// tick timestamp, identity, mode flags, pair counts, open positions and
// aggregate PnL, via the atomic write-to-temp-then-rename idiom used
// throughout this engine's persistence layer (see internal/history,
// internal/persist).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// PositionView is one pair's open-position line in the snapshot.
type PositionView struct {
	Pair       string          `json:"pair"`
	Direction  types.Direction `json:"direction"`
	EnteredAt  time.Time       `json:"entered_at"`
}

// Status is the full on-disk snapshot document.
type Status struct {
	Ts          time.Time      `json:"ts"`
	AgentID     string         `json:"agent_id"`
	Venue       string         `json:"venue"`
	DryRun      bool           `json:"dry_run"`
	Backtest    bool           `json:"backtest"`
	PairCount   int            `json:"pair_count"`
	ActiveCount int            `json:"active_count"`
	Positions   []PositionView `json:"positions"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	DayPnL      decimal.Decimal `json:"day_pnl"`
}

// Writer writes Status documents to path at a fixed cadence, atomically.
type Writer struct {
	path     string
	interval time.Duration
	lastSave time.Time
}

// cadence rounds intervalSecs up to the smallest multiple of itself that
// is >= 60s, per SPEC_FULL §6.3.
func cadence(intervalSecs int64) time.Duration {
	if intervalSecs <= 0 {
		intervalSecs = 60
	}
	n := (59 + intervalSecs) / intervalSecs // ceil(60/interval), at least 1
	secs := n * intervalSecs
	if secs < 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// New creates a Writer that persists to path no more often than the
// smallest multiple of intervalSecs that is at least 60 seconds.
func New(path string, intervalSecs int64) *Writer {
	return &Writer{path: path, interval: cadence(intervalSecs)}
}

// Due reports whether enough time has elapsed since the last successful
// write to justify another one.
func (w *Writer) Due(now time.Time) bool {
	return w.lastSave.IsZero() || now.Sub(w.lastSave) >= w.interval
}

// Write atomically persists status and records now as the last-save time.
func (w *Writer) Write(status Status, now time.Time) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	w.lastSave = now
	return nil
}
