// book.go maintains a local mirror of ticker and order-book state per
// symbol, updated from REST snapshots and WebSocket deltas. It is
// concurrency-safe so the control loop can read it synchronously without
// ever touching the network itself (SPEC_FULL §5, Go realization note).
package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

type bookEntry struct {
	snapshot types.SymbolSnapshot
	book     types.OrderBook
	updated  time.Time
}

// localCache is a mutex-guarded map of per-symbol ticker/book state.
type localCache struct {
	mu      sync.RWMutex
	entries map[types.Symbol]*bookEntry
}

func newLocalCache() *localCache {
	return &localCache{entries: make(map[types.Symbol]*bookEntry)}
}

func (c *localCache) applyTicker(snap types.SymbolSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[snap.Symbol]
	if e == nil {
		e = &bookEntry{}
		c.entries[snap.Symbol] = e
	}
	e.snapshot = snap
	e.updated = time.Now()
}

func (c *localCache) applyBook(symbol types.Symbol, book types.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[symbol]
	if e == nil {
		e = &bookEntry{}
		c.entries[symbol] = e
	}
	e.book = book
	e.updated = time.Now()

	if bid, ok := book.BestBid(); ok {
		e.snapshot.BidPrice = decimal.NewNullDecimal(bid.Price)
		e.snapshot.BidSize = bid.Size
	}
	if ask, ok := book.BestAsk(); ok {
		e.snapshot.AskPrice = decimal.NewNullDecimal(ask.Price)
		e.snapshot.AskSize = ask.Size
	}
}

func (c *localCache) ticker(symbol types.Symbol) (types.SymbolSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return types.SymbolSnapshot{}, false
	}
	return e.snapshot, true
}

func (c *localCache) orderBook(symbol types.Symbol) (types.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return types.OrderBook{}, false
	}
	return e.book, true
}

// isStale reports whether symbol hasn't been updated within maxAge, or
// has never been seen at all.
func (c *localCache) isStale(symbol types.Symbol, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || e.updated.IsZero() {
		return true
	}
	return time.Since(e.updated) > maxAge
}
