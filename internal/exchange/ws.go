// ws.go implements the public ticker WebSocket feed used to keep the
// local book cache warm between polling ticks.
//
// The feed auto-reconnects with exponential backoff (1s -> 30s max) and
// re-subscribes to every tracked symbol on reconnection. A read deadline
// (90s) ensures a silently-dead server connection is detected within
// ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	tickerBufferSize = 256
)

type wsSubscribeMsg struct {
	Operation string   `json:"operation"`
	Symbols   []string `json:"symbols"`
}

type wsTickerEvent struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	FundingRate string `json:"funding_rate"`
	BidPrice    string `json:"bid_price"`
	BidSize     string `json:"bid_size"`
	AskPrice    string `json:"ask_price"`
	AskSize     string `json:"ask_size"`
}

// WSFeed manages the WebSocket connection to the public ticker channel.
type WSFeed struct {
	url string

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickerCh chan types.SymbolSnapshot

	logger *slog.Logger
}

// NewWSFeed creates a ticker feed for wsURL, subscribed initially to symbols.
func NewWSFeed(wsURL string, symbols []string, logger *slog.Logger) *WSFeed {
	subscribed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		subscribed[s] = true
	}
	return &WSFeed{
		url:        wsURL,
		subscribed: subscribed,
		tickerCh:   make(chan types.SymbolSnapshot, tickerBufferSize),
		logger:     logger.With("component", "ws_ticker"),
	}
}

// Tickers returns a read-only channel of parsed ticker updates.
func (f *WSFeed) Tickers() <-chan types.SymbolSnapshot { return f.tickerCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendSubscription() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Symbols: symbols})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var evt wsTickerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Debug("ignoring unparseable ws message", "data", string(data))
		return
	}
	if evt.Symbol == "" {
		return
	}

	snap := types.SymbolSnapshot{
		Symbol:      types.Symbol(evt.Symbol),
		Price:       parseDecimal(evt.Price),
		FundingRate: parseDecimal(evt.FundingRate),
		BidSize:     parseDecimal(evt.BidSize),
		AskSize:     parseDecimal(evt.AskSize),
		FetchedAt:   time.Now(),
	}
	if evt.BidPrice != "" {
		snap.BidPrice = decimal.NewNullDecimal(parseDecimal(evt.BidPrice))
	}
	if evt.AskPrice != "" {
		snap.AskPrice = decimal.NewNullDecimal(parseDecimal(evt.AskPrice))
	}

	select {
	case f.tickerCh <- snap:
	default:
		f.logger.Warn("ticker channel full, dropping update", "symbol", evt.Symbol)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("ping")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
