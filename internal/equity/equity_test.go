package equity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func TestEquityFetchesOnceWithinTTL(t *testing.T) {
	t.Parallel()
	fconn := exchange.NewFakeConnector()
	fconn.Equity = types.Balance{Equity: decimal.NewFromInt(1000)}
	r := New(fconn, 300*time.Second, decimal.Zero)

	now := time.Now()
	v1, err := r.Equity(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("expected 1000, got %s", v1)
	}

	fconn.Equity = types.Balance{Equity: decimal.NewFromInt(2000)}
	v2, err := r.Equity(context.Background(), now.Add(100*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("expected cached value 1000 within TTL, got %s", v2)
	}
}

func TestEquityRefreshesAfterTTLExpires(t *testing.T) {
	t.Parallel()
	fconn := exchange.NewFakeConnector()
	fconn.Equity = types.Balance{Equity: decimal.NewFromInt(1000)}
	r := New(fconn, 300*time.Second, decimal.Zero)

	now := time.Now()
	if _, err := r.Equity(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fconn.Equity = types.Balance{Equity: decimal.NewFromInt(3000)}
	v, err := r.Equity(context.Background(), now.Add(301*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Cmp(decimal.NewFromInt(3000)) != 0 {
		t.Fatalf("expected refreshed value 3000, got %s", v)
	}
}

func TestEquityFallsBackOnFirstFetchError(t *testing.T) {
	t.Parallel()
	broken := &erroringConnector{}
	r := New(broken, time.Second, decimal.NewFromInt(100))

	v, err := r.Equity(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected an error from the broken connector on first fetch")
	}
	if v.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("expected fallback value 100 with no prior cache, got %s", v)
	}
}

func TestEquityKeepsLastGoodValueOnSubsequentError(t *testing.T) {
	t.Parallel()
	fconn := exchange.NewFakeConnector()
	fconn.Equity = types.Balance{Equity: decimal.NewFromInt(750)}
	broken := &erroringConnector{fallbackConn: fconn}
	r := New(broken, time.Millisecond, decimal.NewFromInt(1))

	now := time.Now()
	v1, err := r.Equity(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error on first good fetch: %v", err)
	}
	if v1.Cmp(decimal.NewFromInt(750)) != 0 {
		t.Fatalf("expected 750, got %s", v1)
	}

	broken.fail = true
	v2, err := r.Equity(context.Background(), now.Add(time.Second))
	if err != nil {
		t.Fatalf("expected no error, stale cache should be served: %v", err)
	}
	if v2.Cmp(decimal.NewFromInt(750)) != 0 {
		t.Fatalf("expected last-good value 750 served on refresh error, got %s", v2)
	}
}

// erroringConnector wraps a FakeConnector's Balance, optionally forcing
// it to fail, so the fallback/last-good-value paths can be exercised
// without the plain fake's blanket-error hooks (which cover PlaceOrder,
// not Balance).
type erroringConnector struct {
	exchange.Connector
	fallbackConn *exchange.FakeConnector
	fail         bool
}

func (e *erroringConnector) Balance(ctx context.Context) (types.Balance, error) {
	if e.fail || e.fallbackConn == nil {
		return types.Balance{}, errBalanceUnavailable
	}
	return e.fallbackConn.Balance(ctx)
}

var errBalanceUnavailable = errors.New("balance unavailable")
