package exchange

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// replayLine is one JSON-lines record in the backtest source file
// (SPEC_FULL §6.4): a timestamp in milliseconds and a price observation
// per symbol.
type replayLine struct {
	TsMs   int64                       `json:"ts_ms"`
	Prices map[string]replayLinePrice `json:"prices"`
}

type replayLinePrice struct {
	Price       decimal.Decimal `json:"price"`
	FundingRate decimal.Decimal `json:"funding_rate"`
	BidSize     decimal.Decimal `json:"bid_size"`
	AskSize     decimal.Decimal `json:"ask_size"`
}

// LoadReplayTicks parses a JSON-lines backtest source into a flat tick
// series suitable for NewReplayConnector. Each line's timestamp is
// converted from milliseconds to the same Unix-second convention the
// rest of the engine uses.
func LoadReplayTicks(r io.Reader) ([]ReplayTick, error) {
	var ticks []ReplayTick
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line replayLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("replay source line %d: %w", lineNum, err)
		}
		ts := line.TsMs / 1000
		for symbol, p := range line.Prices {
			ticks = append(ticks, ReplayTick{
				Symbol:      types.Symbol(symbol),
				Ts:          ts,
				Price:       p.Price,
				FundingRate: p.FundingRate,
				BidSize:     p.BidSize,
				AskSize:     p.AskSize,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay source: %w", err)
	}
	return ticks, nil
}
