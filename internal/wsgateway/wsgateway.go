// Package wsgateway relays broker messages to browser-style WebSocket
// clients. Each endpoint is read-only from the client's perspective: the
// server never consumes client frames except to detect disconnect, and
// pushes whatever the matching broker channel publishes. Grounded on the
// teacher's Hub/Client pump pair (internal/api/stream.go), generalized from
// one dashboard-wide broadcast channel to one subscription per connection,
// keyed by the channel id in the URL path.
package wsgateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"derivex/internal/broker"
	"derivex/pkg/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Gateway owns the HTTP server and the broker it relays from.
type Gateway struct {
	brk      *broker.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
	server   *http.Server
}

func New(addr string, brk *broker.Broker, logger *slog.Logger) *Gateway {
	g := &Gateway{
		brk: brk,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws-gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/trades/{cid}", g.handleTrades)
	mux.HandleFunc("/ticker/{cid}", g.handle(func(cid string) (<-chan types.PublicEvent, func()) {
		return g.brk.SubscribePublic("ticker." + cid)
	}))
	mux.HandleFunc("/index/{cid}", g.handle(func(cid string) (<-chan types.PublicEvent, func()) {
		return g.brk.SubscribePublic("price_index." + cid)
	}))
	mux.HandleFunc("/orderbook/{cid}", g.handle(func(cid string) (<-chan types.PublicEvent, func()) {
		return g.brk.SubscribePublic("orderbook." + cid)
	}))
	mux.HandleFunc("/chart/{cid}", g.handle(func(cid string) (<-chan types.PublicEvent, func()) {
		return g.brk.SubscribePublic("chart.trade." + cid)
	}))
	mux.HandleFunc("/account/{cid}", g.handle(func(cid string) (<-chan types.PublicEvent, func()) {
		return g.brk.SubscribePublic("account." + cid)
	}))

	g.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return g
}

func (g *Gateway) ListenAndServe() error {
	g.logger.Info("ws gateway starting", "addr", g.server.Addr)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (g *Gateway) Shutdown() error {
	return g.server.Close()
}

func (g *Gateway) handle(subscribe func(cid string) (<-chan types.PublicEvent, func())) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cid := r.PathValue("cid")

		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Error("websocket upgrade failed", "error", err, "cid", cid)
			return
		}

		ch, unsub := subscribe(cid)
		go g.pump(conn, ch, unsub)
		go g.drainReads(conn)
	}
}

// handleTrades is the /trades/{cid} route: it relays the raw trade stream
// for instrument cid, the feed cmd/chartagg's internal/feed client consumes
// to build OHLC bars. Unlike the other routes it subscribes to the
// broker's "trades" topic, not "public_subs" — the OHLC aggregator needs
// every fill tick, not the 2-second ticker snapshot.
func (g *Gateway) handleTrades(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err, "cid", cid)
		return
	}

	ch, unsub := g.brk.SubscribeTrades(cid)
	go g.pumpTrades(conn, ch, unsub)
	go g.drainReads(conn)
}

func (g *Gateway) pumpTrades(conn *websocket.Conn, ch <-chan types.TradeMessage, unsub func()) {
	defer func() {
		unsub()
		conn.Close()
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				g.logger.Error("marshal trade message", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pump relays every event published on ch to the connection until the
// channel is closed or a write fails; a ping keeps the connection alive
// between events.
func (g *Gateway) pump(conn *websocket.Conn, ch <-chan types.PublicEvent, unsub func()) {
	defer func() {
		unsub()
		conn.Close()
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				g.logger.Error("marshal public event", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads does nothing with client frames beyond noticing disconnect —
// these endpoints are push-only.
func (g *Gateway) drainReads(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
