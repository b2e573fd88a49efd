// Package feed implements a generic reconnecting WebSocket client used by
// cmd/chartagg to consume the exchange process's trade stream. Grounded on
// the teacher's WSFeed (internal/exchange/ws.go): same dial/reconnect/
// exponential-backoff/read-deadline shape, collapsed from Polymarket's
// two typed channels (market/user, each with book/price/trade/order event
// types) down to the one typed event this system's chart aggregator needs.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"derivex/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	pingWait         = 50 * time.Second
	eventBufferSize  = 256
)

// TradeFeed consumes one instrument's /trades/{instrument} route from the
// exchange's wsgateway, auto-reconnecting with exponential backoff.
type TradeFeed struct {
	url    string
	events chan types.TradeMessage
	logger *slog.Logger
}

// NewTradeFeed builds a feed pointed at wsBaseURL + "/trades/" + instrument
// (e.g. "ws://localhost:8082/trades/BTCUSD-PERP").
func NewTradeFeed(wsBaseURL, instrument string, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:    wsBaseURL + "/trades/" + instrument,
		events: make(chan types.TradeMessage, eventBufferSize),
		logger: logger.With("component", "trade-feed", "instrument", instrument),
	}
}

// Events returns the channel of trade messages consumers read from.
func (f *TradeFeed) Events() <-chan types.TradeMessage { return f.events }

// Run connects and maintains the connection with auto-reconnect until ctx
// is cancelled. A disconnect is logged and retried, never fatal — matching
// §5's "background loops log and continue" policy.
func (f *TradeFeed) Run(ctx context.Context) {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("trade feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *TradeFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.logger.Info("trade feed connected")

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var tm types.TradeMessage
		if err := json.Unmarshal(msg, &tm); err != nil {
			f.logger.Error("decode trade message", "error", err)
			continue
		}

		select {
		case f.events <- tm:
		default:
			f.logger.Warn("trade feed consumer too slow, dropping message")
		}
	}
}

func (f *TradeFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingWait)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
