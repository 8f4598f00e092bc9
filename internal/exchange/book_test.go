package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func TestLocalCacheTickerRoundTrips(t *testing.T) {
	t.Parallel()
	c := newLocalCache()
	snap := types.SymbolSnapshot{Symbol: "BTC", Price: decimal.NewFromInt(50000)}
	c.applyTicker(snap)

	got, ok := c.ticker("BTC")
	if !ok {
		t.Fatal("expected ticker to be present")
	}
	if !got.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("price = %v, want 50000", got.Price)
	}
}

func TestLocalCacheApplyBookUpdatesTickerTopOfBook(t *testing.T) {
	t.Parallel()
	c := newLocalCache()
	book := types.OrderBook{
		Bids: []types.BookLevel{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(1)}},
		Asks: []types.BookLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	}
	c.applyBook("ETH", book)

	snap, ok := c.ticker("ETH")
	if !ok {
		t.Fatal("expected ticker entry created by applyBook")
	}
	if !snap.BidPrice.Decimal.Equal(decimal.NewFromInt(99)) {
		t.Errorf("bid price = %v, want 99", snap.BidPrice.Decimal)
	}
	if !snap.AskPrice.Decimal.Equal(decimal.NewFromInt(101)) {
		t.Errorf("ask price = %v, want 101", snap.AskPrice.Decimal)
	}
}

func TestLocalCacheIsStaleWhenUnseen(t *testing.T) {
	t.Parallel()
	c := newLocalCache()
	if !c.isStale("UNKNOWN", time.Minute) {
		t.Error("expected an unseen symbol to be reported stale")
	}
}

func TestLocalCacheIsStaleAfterMaxAge(t *testing.T) {
	t.Parallel()
	c := newLocalCache()
	c.applyTicker(types.SymbolSnapshot{Symbol: "BTC"})
	c.entries["BTC"].updated = time.Now().Add(-time.Hour)
	if !c.isStale("BTC", time.Minute) {
		t.Error("expected stale after max age elapsed")
	}
}
