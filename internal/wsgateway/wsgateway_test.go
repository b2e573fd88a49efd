package wsgateway

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"derivex/internal/broker"
	"derivex/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()
	brk := broker.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := New(":0", brk, logger)

	srv := httptest.NewServer(g.server.Handler)
	t.Cleanup(srv.Close)
	return srv, brk
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTickerEndpointRelaysPublishedEvent(t *testing.T) {
	t.Parallel()

	srv, brk := newTestServer(t)
	conn := dial(t, srv, "/ticker/BTCUSD-PERP")

	deadline := time.Now().Add(2 * time.Second)
	var gotMsg []byte
	for time.Now().Before(deadline) {
		brk.PublishPublic("ticker.BTCUSD-PERP", types.PublicEvent{Channel: "ticker.BTCUSD-PERP"})

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			gotMsg = msg
			break
		}
	}
	if gotMsg == nil {
		t.Fatal("never received a ticker event over the websocket")
	}
	if !strings.Contains(string(gotMsg), "ticker.BTCUSD-PERP") {
		t.Errorf("message = %s, want it to mention the channel", gotMsg)
	}
}

func TestAccountEndpointIsIsolatedByChannelID(t *testing.T) {
	t.Parallel()

	srv, brk := newTestServer(t)
	connA := dial(t, srv, "/account/0xAAAA")
	connB := dial(t, srv, "/account/0xBBBB")

	brk.PublishPublic("account.0xAAAA", types.PublicEvent{Channel: "account.0xAAAA"})

	connA.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := connA.ReadMessage(); err != nil {
		t.Fatalf("expected connA to receive its own account event: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("connB must not receive connA's account event")
	}
}
