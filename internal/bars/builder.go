// Package bars implements the Bar Builder: it reduces tick-priced samples
// into fixed-window OHLC bars and emits a close-price event on each window
// rollover. Emission is the sole trigger for a history append.
package bars

import "github.com/shopspring/decimal"

// Bar is the in-progress OHLC window.
type Bar struct {
	StartTs int64
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
}

// Close is an emitted bar-close event.
type Close struct {
	Price decimal.Decimal
	Ts    int64
}

// Builder accumulates (ts, price) samples for one symbol into fixed-width
// bars of W seconds.
type Builder struct {
	window int64
	bar     *Bar
}

// New creates a bar builder with window W seconds.
func New(windowSecs int64) *Builder {
	return &Builder{window: windowSecs}
}

// Add feeds one (ts, price) sample. It returns the emitted Close and true
// when ts crosses the current bar's window boundary; otherwise it updates
// the in-progress bar and returns false.
func (b *Builder) Add(ts int64, price decimal.Decimal) (Close, bool) {
	if b.bar == nil {
		b.bar = &Bar{StartTs: ts, Open: price, High: price, Low: price, Close: price}
		return Close{}, false
	}

	if ts-b.bar.StartTs >= b.window {
		emitted := Close{Price: b.bar.Close, Ts: b.bar.StartTs + b.window}
		b.bar = &Bar{StartTs: ts, Open: price, High: price, Low: price, Close: price}
		return emitted, true
	}

	if price.GreaterThan(b.bar.High) {
		b.bar.High = price
	}
	if price.LessThan(b.bar.Low) {
		b.bar.Low = price
	}
	b.bar.Close = price
	return Close{}, false
}

// Current returns the in-progress bar, or false if no sample has arrived
// yet.
func (b *Builder) Current() (Bar, bool) {
	if b.bar == nil {
		return Bar{}, false
	}
	return *b.bar, true
}
