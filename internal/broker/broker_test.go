package broker

import (
	"testing"
	"time"

	"derivex/pkg/types"
)

func TestPublishSubscribeTrades(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.SubscribeTrades("BTCUSD-PERP")
	defer unsub()

	b.PublishTrade("BTCUSD-PERP", types.TradeMessage{InstrumentName: "BTCUSD-PERP", Kind: "trade"})

	select {
	case msg := <-ch:
		if msg.InstrumentName != "BTCUSD-PERP" {
			t.Errorf("InstrumentName = %q, want BTCUSD-PERP", msg.InstrumentName)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published trade")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.SubscribeTrades("ETHUSD-PERP")
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected the channel to be closed after unsubscribe")
	}
}

func TestTradeChannelIsolatedByKey(t *testing.T) {
	t.Parallel()

	b := New()
	chBTC, unsubBTC := b.SubscribeTrades("BTCUSD-PERP")
	defer unsubBTC()
	chETH, unsubETH := b.SubscribeTrades("ETHUSD-PERP")
	defer unsubETH()

	b.PublishTrade("BTCUSD-PERP", types.TradeMessage{InstrumentName: "BTCUSD-PERP"})

	select {
	case <-chBTC:
	case <-time.After(time.Second):
		t.Fatal("expected BTC subscriber to receive the trade")
	}
	select {
	case <-chETH:
		t.Fatal("ETH subscriber must not receive a trade published on BTC's topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriberCountReflectsLiveSubscriptions(t *testing.T) {
	t.Parallel()

	b := New()
	if got := b.SubscriberCount("ticker.BTCUSD-PERP"); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 before any subscription", got)
	}

	ch, unsub := b.SubscribePublic("ticker.BTCUSD-PERP")
	_ = ch
	if got := b.SubscriberCount("ticker.BTCUSD-PERP"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}
	unsub()
	if got := b.SubscriberCount("ticker.BTCUSD-PERP"); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after unsubscribe", got)
	}
}
