package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func ticks() []ReplayTick {
	return []ReplayTick{
		{Symbol: "BTC", Ts: 2, Price: decimal.NewFromInt(102)},
		{Symbol: "BTC", Ts: 1, Price: decimal.NewFromInt(101)},
		{Symbol: "BTC", Ts: 3, Price: decimal.NewFromInt(103)},
	}
}

func TestReplayConnectorSortsBySymbolAndTimestamp(t *testing.T) {
	t.Parallel()
	r := NewReplayConnector(ticks(), decimal.NewFromInt(10000))
	snap, err := r.Ticker(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Ticker returned error: %v", err)
	}
	if !snap.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("price = %v, want 101 (earliest ts first)", snap.Price)
	}
}

func TestReplayConnectorAdvanceWalksSeries(t *testing.T) {
	t.Parallel()
	r := NewReplayConnector(ticks(), decimal.NewFromInt(10000))
	if !r.Advance("BTC") {
		t.Fatal("expected Advance to succeed on a 3-tick series")
	}
	snap, _ := r.Ticker(context.Background(), "BTC")
	if !snap.Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("price = %v, want 102 after one Advance", snap.Price)
	}
	r.Advance("BTC")
	if r.Advance("BTC") {
		t.Error("expected Advance to return false once the series is exhausted")
	}
}

func TestReplayConnectorPlaceOrderFillsAtTickerPriceWhenUnpriced(t *testing.T) {
	t.Parallel()
	r := NewReplayConnector(ticks(), decimal.NewFromInt(10000))
	result, err := r.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "BTC",
		Side:   types.SideBuy,
		Size:   decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if !result.OrderedPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("ordered price = %v, want 101", result.OrderedPrice)
	}
}
