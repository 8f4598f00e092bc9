// Package equity implements the Equity Refresher (SPEC_FULL §4.8 step
// 2): a TTL-cached read of venue account equity, used to size every
// pair's per-leg notional without hitting the balance endpoint on every
// tick.
package equity

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
)

// Refresher caches a Balance read for ttl before re-fetching.
type Refresher struct {
	conn exchange.Connector
	ttl  time.Duration

	mu          sync.Mutex
	cached      decimal.Decimal
	fetchedAt   time.Time
	fallback    decimal.Decimal
	haveCached  bool
}

// New creates a Refresher with the given TTL (SPEC_FULL default 300s)
// and a fallback equity value to use if the very first fetch fails.
func New(conn exchange.Connector, ttl time.Duration, fallback decimal.Decimal) *Refresher {
	return &Refresher{conn: conn, ttl: ttl, fallback: fallback}
}

// Equity returns the cached equity, refreshing it from the venue first
// if the TTL has expired. On a refresh error it keeps serving the last
// good value (or the configured fallback if none has ever been fetched).
func (r *Refresher) Equity(ctx context.Context, now time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveCached && now.Sub(r.fetchedAt) < r.ttl {
		return r.cached, nil
	}

	bal, err := r.conn.Balance(ctx)
	if err != nil {
		if r.haveCached {
			return r.cached, nil
		}
		return r.fallback, err
	}

	r.cached = bal.Equity
	r.fetchedAt = now
	r.haveCached = true
	return r.cached, nil
}

// Invalidate forces the next Equity call to re-fetch regardless of TTL.
func (r *Refresher) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haveCached = false
}
