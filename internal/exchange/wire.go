// wire.go holds the REST wire-format DTOs for the live connector and
// their conversion into the domain types in pkg/types.
package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

type restTicker struct {
	Price       string `json:"price"`
	FundingRate string `json:"funding_rate"`
	BidPrice    string `json:"bid_price"`
	BidSize     string `json:"bid_size"`
	AskPrice    string `json:"ask_price"`
	AskSize     string `json:"ask_size"`
	MinOrder    string `json:"min_order_size"`
	MinTick     string `json:"min_tick"`
	SizeDecimals *int32 `json:"size_decimals"`
}

func (r restTicker) toSnapshot(symbol types.Symbol) types.SymbolSnapshot {
	snap := types.SymbolSnapshot{
		Symbol:       symbol,
		Price:        parseDecimal(r.Price),
		FundingRate:  parseDecimal(r.FundingRate),
		BidSize:      parseDecimal(r.BidSize),
		AskSize:      parseDecimal(r.AskSize),
		SizeDecimals: r.SizeDecimals,
		FetchedAt:    time.Now(),
	}
	if r.BidPrice != "" {
		snap.BidPrice = decimal.NewNullDecimal(parseDecimal(r.BidPrice))
	}
	if r.AskPrice != "" {
		snap.AskPrice = decimal.NewNullDecimal(parseDecimal(r.AskPrice))
	}
	if r.MinOrder != "" {
		snap.MinOrder = decimal.NewNullDecimal(parseDecimal(r.MinOrder))
	}
	if r.MinTick != "" {
		snap.MinTick = decimal.NewNullDecimal(parseDecimal(r.MinTick))
	}
	return snap
}

type restBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type restOrderBook struct {
	Bids []restBookLevel `json:"bids"`
	Asks []restBookLevel `json:"asks"`
}

func (r restOrderBook) toBook() types.OrderBook {
	book := types.OrderBook{
		Bids: make([]types.BookLevel, len(r.Bids)),
		Asks: make([]types.BookLevel, len(r.Asks)),
	}
	for i, l := range r.Bids {
		book.Bids[i] = types.BookLevel{Price: parseDecimal(l.Price), Size: parseDecimal(l.Size)}
	}
	for i, l := range r.Asks {
		book.Asks[i] = types.BookLevel{Price: parseDecimal(l.Price), Size: parseDecimal(l.Size)}
	}
	return book
}

type restPositionsResponse struct {
	WarmingUp bool           `json:"warming_up"`
	Positions []restPosition `json:"positions"`
}

type restPosition struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"` // "long", "short", "flat"
	Size       string `json:"size"`
	EntryPrice string `json:"entry_price"`
}

func (r restPosition) toSnapshot() types.PositionSnapshot {
	sign := 0
	switch r.Side {
	case "long":
		sign = 1
	case "short":
		sign = -1
	}
	snap := types.PositionSnapshot{
		Symbol: types.Symbol(r.Symbol),
		Sign:   sign,
		Size:   parseDecimal(r.Size),
	}
	if r.EntryPrice != "" {
		snap.EntryPrice = decimal.NewNullDecimal(parseDecimal(r.EntryPrice))
	}
	return snap
}

type restBalance struct {
	Equity string `json:"equity"`
}

type restOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Price      string `json:"price,omitempty"`
	ReduceOnly bool   `json:"reduce_only"`
	PostOnly   bool   `json:"post_only"`
}

type restOrderResult struct {
	OrderID         string `json:"order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	Status          string `json:"status"`
}

func (r restOrderResult) toOrderResult(req types.OrderRequest) types.OrderResult {
	price := decimal.Zero
	if req.LimitPrice.Valid {
		price = req.LimitPrice.Decimal
	}
	return types.OrderResult{
		OrderID:         r.OrderID,
		ExchangeOrderID: r.ExchangeOrderID,
		OrderedPrice:    price,
		OrderedSize:     req.Size,
	}
}

type restMaintenance struct {
	StartsAt int64 `json:"starts_at"` // unix seconds, 0 if none scheduled
}

type restFill struct {
	OrderID         string `json:"order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	FilledSize      string `json:"filled_size"`
	FilledSide      string `json:"filled_side"`
	FilledValue     string `json:"filled_value"`
	TradeID         string `json:"trade_id"`
}

func (r restFill) toFilledOrder() types.FilledOrder {
	out := types.FilledOrder{
		OrderID:         r.OrderID,
		ExchangeOrderID: r.ExchangeOrderID,
		FilledSide:      types.OrderSide(r.FilledSide),
		TradeID:         r.TradeID,
	}
	if r.FilledSize != "" {
		out.FilledSize = decimal.NewNullDecimal(parseDecimal(r.FilledSize))
	}
	if r.FilledValue != "" {
		out.FilledValue = decimal.NewNullDecimal(parseDecimal(r.FilledValue))
	}
	return out
}
