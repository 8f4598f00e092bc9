package bars

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBuilderFirstSampleOpensBarNoEmit(t *testing.T) {
	t.Parallel()
	b := New(60)
	_, emitted := b.Add(1000, d("10"))
	if emitted {
		t.Fatal("first sample should not emit")
	}
}

func TestBuilderEmitsOnWindowRollover(t *testing.T) {
	t.Parallel()
	b := New(60)
	b.Add(1000, d("10"))
	b.Add(1030, d("12")) // updates high, still in-window
	close, emitted := b.Add(1061, d("9"))
	if !emitted {
		t.Fatal("expected emission at rollover")
	}
	if !close.Price.Equal(d("12")) {
		t.Errorf("close price = %v, want prev close 12 (last update before rollover)", close.Price)
	}
	if close.Ts != 1060 {
		t.Errorf("close ts = %v, want 1060", close.Ts)
	}
}

func TestBuilderUpdatesHighLowWithinWindow(t *testing.T) {
	t.Parallel()
	b := New(60)
	b.Add(1000, d("10"))
	b.Add(1010, d("15"))
	b.Add(1020, d("5"))
	cur, ok := b.Current()
	if !ok {
		t.Fatal("expected in-progress bar")
	}
	if !cur.High.Equal(d("15")) || !cur.Low.Equal(d("5")) || !cur.Close.Equal(d("5")) {
		t.Errorf("bar = %+v, want high=15 low=5 close=5", cur)
	}
}
