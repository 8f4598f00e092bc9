// Package persist implements the equity baseline and the append-only
// PnL/equity-history logs (SPEC_FULL §6.3). The equity baseline resets on
// UTC date rollover so day-PnL always measures against the day's opening
// equity; the JSON-lines logs rotate by UTC date and are retained for a
// configurable number of days.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EquityBaseline is the day-opening equity reference, written
// atomically (write-to-temp-then-rename).
type EquityBaseline struct {
	path string
}

type equityBaselineDoc struct {
	Date   string          `json:"date"` // YYYY-MM-DD, UTC
	Equity decimal.Decimal `json:"equity"`
}

// NewEquityBaseline opens (without yet reading) a baseline file at path.
func NewEquityBaseline(path string) *EquityBaseline {
	return &EquityBaseline{path: path}
}

// Load reads the current baseline. Returns zero value and false if the
// file doesn't exist yet.
func (b *EquityBaseline) Load() (date string, equity decimal.Decimal, ok bool, err error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", decimal.Zero, false, nil
		}
		return "", decimal.Zero, false, fmt.Errorf("read equity baseline: %w", err)
	}
	var doc equityBaselineDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", decimal.Zero, false, fmt.Errorf("unmarshal equity baseline: %w", err)
	}
	return doc.Date, doc.Equity, true, nil
}

// Save atomically writes a new baseline.
func (b *EquityBaseline) Save(date string, equity decimal.Decimal) error {
	data, err := json.Marshal(equityBaselineDoc{Date: date, Equity: equity})
	if err != nil {
		return fmt.Errorf("marshal equity baseline: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write equity baseline: %w", err)
	}
	return os.Rename(tmp, b.path)
}

// RolloverIfNeeded refreshes the baseline to currentEquity if the UTC
// date has changed since it was last recorded (or it has never been
// recorded), returning the (possibly unchanged) baseline equity to
// measure day-PnL against.
func (b *EquityBaseline) RolloverIfNeeded(now time.Time, currentEquity decimal.Decimal) (decimal.Decimal, error) {
	today := utcDate(now)
	date, equity, ok, err := b.Load()
	if err != nil {
		return decimal.Zero, err
	}
	if ok && date == today {
		return equity, nil
	}
	if err := b.Save(today, currentEquity); err != nil {
		return decimal.Zero, err
	}
	return currentEquity, nil
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// JSONLinesLog is an append-only, UTC-date-rotated log with retention.
// Each Append call opens (or creates) today's file, writes one JSON line,
// and closes it — matching the write-small-and-often idiom the rest of
// this engine uses instead of holding file handles open across ticks.
type JSONLinesLog struct {
	dir          string
	prefix       string
	retainDays   int
}

// NewJSONLinesLog creates a log rotating by UTC date under dir, with
// filenames "<prefix>-YYYY-MM-DD.jsonl", retaining retainDays of history.
func NewJSONLinesLog(dir, prefix string, retainDays int) *JSONLinesLog {
	return &JSONLinesLog{dir: dir, prefix: prefix, retainDays: retainDays}
}

// Append writes one JSON-encoded record as a line to today's file.
func (l *JSONLinesLog) Append(now time.Time, record interface{}) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	path := l.pathFor(now)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write log newline: %w", err)
	}
	return w.Flush()
}

func (l *JSONLinesLog) pathFor(now time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.jsonl", l.prefix, utcDate(now)))
}

// Rotate deletes log files older than retainDays (measured against now).
func (l *JSONLinesLog) Rotate(now time.Time) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read log dir: %w", err)
	}
	cutoff := now.UTC().AddDate(0, 0, -l.retainDays)
	prefix := l.prefix + "-"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".jsonl")
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			_ = os.Remove(filepath.Join(l.dir, name))
		}
	}
	return nil
}
