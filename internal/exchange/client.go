// client.go implements the live Connector against a generic perp-DEX REST
// API, backed by a resty client with retry/backoff, HMAC-signed trading
// requests, per-category rate limiting, and a WebSocket-fed local cache
// for ticker/book reads.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// LiveConnector is the production Connector implementation.
type LiveConnector struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	cache  *localCache
	feed   *WSFeed
	dryRun bool
	logger *slog.Logger
}

// NewLiveConnector creates a REST+WS connector for cfg.Venue, subscribed
// to symbols on the public ticker feed. Call Run to start the feed.
func NewLiveConnector(cfg config.Config, symbols []types.Symbol, logger *slog.Logger) *LiveConnector {
	httpClient := resty.New().
		SetBaseURL(cfg.Venue.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	symbolStrs := make([]string, len(symbols))
	for i, s := range symbols {
		symbolStrs[i] = string(s)
	}

	return &LiveConnector{
		http:   httpClient,
		auth:   NewAuth(cfg.Venue.ApiKey, cfg.Venue.Secret),
		rl:     NewRateLimiter(),
		cache:  newLocalCache(),
		feed:   NewWSFeed(cfg.Venue.WSURL, symbolStrs, logger),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange", "venue", cfg.Venue.Name),
	}
}

// Run starts the WebSocket feed and drains it into the local cache.
// Blocks until ctx is cancelled.
func (c *LiveConnector) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-c.feed.Tickers():
				if !ok {
					return
				}
				c.cache.applyTicker(snap)
			}
		}
	}()
	return c.feed.Run(ctx)
}

// Ticker returns the cached ticker if fresh, otherwise falls back to a
// synchronous REST read.
func (c *LiveConnector) Ticker(ctx context.Context, symbol types.Symbol) (types.SymbolSnapshot, error) {
	if snap, ok := c.cache.ticker(symbol); ok && !c.cache.isStale(symbol, 10*time.Second) {
		return snap, nil
	}

	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return types.SymbolSnapshot{}, err
	}

	var result restTicker
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&result).
		Get("/ticker")
	if err != nil {
		return types.SymbolSnapshot{}, fmt.Errorf("get ticker: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.SymbolSnapshot{}, fmt.Errorf("get ticker: status %d: %s", resp.StatusCode(), resp.String())
	}

	snap := result.toSnapshot(symbol)
	c.cache.applyTicker(snap)
	return snap, nil
}

// OrderBook returns the cached book if fresh, otherwise a synchronous
// REST read.
func (c *LiveConnector) OrderBook(ctx context.Context, symbol types.Symbol) (types.OrderBook, error) {
	if book, ok := c.cache.orderBook(symbol); ok && !c.cache.isStale(symbol, 10*time.Second) {
		return book, nil
	}

	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return types.OrderBook{}, err
	}

	var result restOrderBook
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&result).
		Get("/orderbook")
	if err != nil {
		return types.OrderBook{}, fmt.Errorf("get orderbook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBook{}, fmt.Errorf("get orderbook: status %d: %s", resp.StatusCode(), resp.String())
	}

	book := result.toBook()
	c.cache.applyBook(symbol, book)
	return book, nil
}

// Position returns the venue-reported position for symbol.
func (c *LiveConnector) Position(ctx context.Context, symbol types.Symbol) (types.PositionSnapshot, bool, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return types.PositionSnapshot{}, false, err
	}

	headers, err := c.auth.Headers("GET", "/positions", "")
	if err != nil {
		return types.PositionSnapshot{}, false, fmt.Errorf("sign headers: %w", err)
	}

	var result restPositionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return types.PositionSnapshot{}, false, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.PositionSnapshot{}, false, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.WarmingUp {
		return types.PositionSnapshot{}, false, ErrPositionsNotReady
	}
	for _, p := range result.Positions {
		if types.Symbol(p.Symbol) == symbol {
			return p.toSnapshot(), true, nil
		}
	}
	return types.PositionSnapshot{}, false, nil
}

// Balance returns current account equity.
func (c *LiveConnector) Balance(ctx context.Context) (types.Balance, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return types.Balance{}, err
	}

	headers, err := c.auth.Headers("GET", "/balance", "")
	if err != nil {
		return types.Balance{}, fmt.Errorf("sign headers: %w", err)
	}

	var result restBalance
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return types.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Balance{}, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	equity, err := decimal.NewFromString(result.Equity)
	if err != nil {
		return types.Balance{}, fmt.Errorf("parse equity: %w", err)
	}
	return types.Balance{Equity: equity}, nil
}

// PlaceOrder submits a single-leg order.
func (c *LiveConnector) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", req.Symbol, "side", req.Side, "size", req.Size)
		return types.OrderResult{
			OrderID:         fmt.Sprintf("dry-run-%s-%d", req.Symbol, time.Now().UnixNano()),
			ExchangeOrderID: "dry-run",
			OrderedPrice:    req.LimitPrice.Decimal,
			OrderedSize:     req.Size,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	payload := restOrderRequest{
		Symbol:     string(req.Symbol),
		Side:       string(req.Side),
		Size:       req.Size.String(),
		ReduceOnly: req.ReduceOnly,
		PostOnly:   !req.ReduceOnly,
	}
	if req.LimitPrice.Valid {
		payload.Price = req.LimitPrice.Decimal.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.Headers("POST", "/orders", string(body))
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("sign headers: %w", err)
	}

	var result restOrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderResult{}, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return result.toOrderResult(req), nil
}

// CancelOrder cancels a resting order.
func (c *LiveConnector) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	headers, err := c.auth.Headers("DELETE", path, "")
	if err != nil {
		return fmt.Errorf("sign headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// OpenOrders lists orders still resting on the venue for symbol.
func (c *LiveConnector) OpenOrders(ctx context.Context, symbol types.Symbol) ([]types.OpenOrder, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("sign headers: %w", err)
	}

	var results []restOrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&results).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.OpenOrder, len(results))
	for i, r := range results {
		out[i] = types.OpenOrder{OrderID: r.OrderID, ExchangeOrderID: r.ExchangeOrderID, Symbol: symbol}
	}
	return out, nil
}

// CancelOrders cancels a batch of resting orders for symbol.
func (c *LiveConnector) CancelOrders(ctx context.Context, symbol types.Symbol, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "symbol", symbol, "count", len(orderIDs))
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	payload := struct {
		Symbol   string   `json:"symbol"`
		OrderIDs []string `json:"order_ids"`
	}{Symbol: string(symbol), OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.Headers("DELETE", "/orders", string(body))
	if err != nil {
		return fmt.Errorf("sign headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// FilledOrders lists fill reports for symbol.
func (c *LiveConnector) FilledOrders(ctx context.Context, symbol types.Symbol) ([]types.FilledOrder, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers("GET", "/fills", "")
	if err != nil {
		return nil, fmt.Errorf("sign headers: %w", err)
	}

	var results []restFill
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&results).
		Get("/fills")
	if err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get fills: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.FilledOrder, len(results))
	for i, r := range results {
		out[i] = r.toFilledOrder()
	}
	return out, nil
}

// ClosePositions force-flattens open positions for symbol (or every
// position, when symbol is empty).
func (c *LiveConnector) ClosePositions(ctx context.Context, symbol types.Symbol) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would close positions", "symbol", symbol)
		return nil
	}

	headers, err := c.auth.Headers("POST", "/positions/close", "")
	if err != nil {
		return fmt.Errorf("sign headers: %w", err)
	}

	payload := struct {
		Symbol string `json:"symbol,omitempty"`
	}{Symbol: string(symbol)}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		Post("/positions/close")
	if err != nil {
		return fmt.Errorf("close positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("close positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAllOrders cancels every resting order account-wide.
func (c *LiveConnector) CancelAllOrders(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.Headers("DELETE", "/orders/all", "")
	if err != nil {
		return fmt.Errorf("sign headers: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/orders/all")
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("all orders cancelled")
	return nil
}

// UpcomingMaintenance reports whether the venue has scheduled downtime
// starting within the next two hours.
func (c *LiveConnector) UpcomingMaintenance(ctx context.Context) (bool, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return false, err
	}

	var result restMaintenance
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/maintenance")
	if err != nil {
		return false, fmt.Errorf("get maintenance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("get maintenance: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.StartsAt == 0 {
		return false, nil
	}
	return time.Until(time.Unix(result.StartsAt, 0)) <= 2*time.Hour, nil
}

var _ Connector = (*LiveConnector)(nil)
