// Package history implements the Price History Store: a per-symbol
// bounded deque of (log-price, close-timestamp) samples, persisted to
// disk as a single JSON document and age-bounded on load.
//
// Writes use atomic file replacement (write to .tmp, then rename) so a
// crash mid-save never corrupts the file, matching the persistence idiom
// used throughout this engine (see internal/snapshot, internal/persist).
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// Store holds a bounded per-symbol deque of price samples in memory and
// mirrors it to a JSON file.
type Store struct {
	mu       sync.Mutex
	path     string
	maxLen   int
	samples  map[types.Symbol][]types.PriceSample
}

// fileFormat is the on-disk representation: {symbol -> [[log_price, ts], ...]}.
type fileFormat map[string][][2]float64

// Open loads an existing history file (if present) and returns a Store
// bounded to maxLen samples per symbol. Entries older than
// maxHistoryLen*tradingPeriodSecs (computed by the caller and passed as
// minTs) are dropped on load.
func Open(path string, maxLen int, minTs int64) (*Store, error) {
	s := &Store{path: path, maxLen: maxLen, samples: make(map[types.Symbol][]types.PriceSample)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	var raw fileFormat
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	for sym, rows := range raw {
		var kept []types.PriceSample
		for _, row := range rows {
			ts := int64(row[1])
			if ts < minTs {
				continue
			}
			kept = append(kept, types.PriceSample{LogPrice: row[0], Ts: ts})
		}
		if len(kept) > maxLen {
			kept = kept[len(kept)-maxLen:]
		}
		s.samples[types.Symbol(sym)] = kept
	}
	return s, nil
}

// Append adds a sample for symbol, evicting the oldest entry if the deque
// is at capacity. O(1) amortized.
func (s *Store) Append(symbol types.Symbol, sample types.PriceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.samples[symbol]
	list = append(list, sample)
	if len(list) > s.maxLen {
		list = list[len(list)-s.maxLen:]
	}
	s.samples[symbol] = list
}

// Samples returns a copy of the current deque for symbol.
func (s *Store) Samples(symbol types.Symbol) []types.PriceSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.samples[symbol]
	out := make([]types.PriceSample, len(src))
	copy(out, src)
	return out
}

// Len returns the number of samples held for symbol.
func (s *Store) Len(symbol types.Symbol) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples[symbol])
}

// Save atomically writes the current history to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	raw := make(fileFormat, len(s.samples))
	for sym, list := range s.samples {
		rows := make([][2]float64, len(list))
		for i, sample := range list {
			rows[i] = [2]float64{sample.LogPrice, float64(sample.Ts)}
		}
		raw[string(sym)] = rows
	}
	s.mu.Unlock()

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, s.path)
}
