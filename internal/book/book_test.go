package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"derivex/internal/order"
	"derivex/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLimit(id, from string, side types.Side, size, price string, tif types.TimeInForce, t int64) *order.Limit {
	return &order.Limit{
		Market: order.Market{
			Base:        order.Base{OrderID: id, FromAddr: from, CreatedTime: t},
			Side:        side,
			Size:        dec(size),
			Remaining:   dec(size),
			Leverage:    10,
			TimeInForce: tif,
		},
		Price: dec(price),
	}
}

func newMarket(id, from string, side types.Side, size string, t int64) *order.Market {
	return &order.Market{
		Base:      order.Base{OrderID: id, FromAddr: from, CreatedTime: t},
		Side:      side,
		Size:      dec(size),
		Remaining: dec(size),
		Leverage:  10,
	}
}

func TestTwoOrderCrossPartialFill(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	a := newLimit("A1", "0xA", types.BUY, "10", "100", types.GTC, 1)
	b.ProcessLimit(a)

	res := b.ProcessLimit(newLimit("B1", "0xB", types.SELL, "6", "100", types.GTC, 2))

	if len(res.Trades) != 1 {
		t.Fatalf("len(trades) = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if !tr.Price.Equal(dec("100")) || !tr.Size.Equal(dec("6")) || tr.Taker != "0xB" || tr.Maker != "0xA" {
		t.Errorf("trade = %+v, want price=100 size=6 taker=0xB maker=0xA", tr)
	}

	bidPrice, bidSize, _, _, hasBid, _ := b.BestBidAsk()
	if !hasBid || !bidPrice.Equal(dec("100")) || !bidSize.Equal(dec("4")) {
		t.Errorf("best bid = (%v,%v), want (100,4)", bidPrice, bidSize)
	}

	aggBids, aggAsks := b.Aggregates()
	if !aggBids.Equal(dec("4")) || !aggAsks.Equal(dec("0")) {
		t.Errorf("aggregates = (%v,%v), want (4,0)", aggBids, aggAsks)
	}
	if oi := b.OpenInterest(); !oi.Equal(dec("6")) {
		t.Errorf("open interest = %v, want 6", oi)
	}
}

func TestMarketSweepsTwoLevels(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	b.ProcessLimit(newLimit("A1", "0xA", types.SELL, "5", "101", types.GTC, 1))
	b.ProcessLimit(newLimit("C1", "0xC", types.SELL, "5", "102", types.GTC, 2))

	res := b.ProcessMarket(newMarket("B1", "0xB", types.BUY, "8", 3))

	if len(res.Trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(res.Trades))
	}
	if !res.Trades[0].Price.Equal(dec("101")) || !res.Trades[0].Size.Equal(dec("5")) {
		t.Errorf("trade[0] = %+v, want price=101 size=5", res.Trades[0])
	}
	if !res.Trades[1].Price.Equal(dec("102")) || !res.Trades[1].Size.Equal(dec("3")) {
		t.Errorf("trade[1] = %+v, want price=102 size=3", res.Trades[1])
	}

	_, _, askPrice, askSize, _, hasAsk := b.BestBidAsk()
	if !hasAsk || !askPrice.Equal(dec("102")) || !askSize.Equal(dec("2")) {
		t.Errorf("best ask = (%v,%v), want (102,2)", askPrice, askSize)
	}
}

func TestIOCCancelOnResidual(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	b.ProcessLimit(newLimit("A1", "0xA", types.SELL, "3", "100", types.GTC, 1))

	res := b.ProcessLimit(newLimit("B1", "0xB", types.BUY, "10", "100", types.IOC, 2))

	if len(res.Trades) != 1 || !res.Trades[0].Size.Equal(dec("3")) {
		t.Fatalf("trades = %+v, want one trade of size 3", res.Trades)
	}
	if _, ok := res.Cancelled["B1"]; !ok {
		t.Fatal("expected B1 in cancelled set")
	}
	if snap := res.Cancelled["B1"]; !snap.Remaining.Equal(dec("7")) {
		t.Errorf("cancelled residual = %v, want 7", snap.Remaining)
	}
	if _, _, _, _, hasBid, _ := b.BestBidAsk(); hasBid {
		t.Error("IOC order must not rest in the book")
	}
}

func TestSelfTradeConsumesLiquidityNoTrade(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	b.ProcessLimit(newLimit("A1", "0xA", types.BUY, "5", "100", types.GTC, 1))
	res := b.ProcessLimit(newLimit("A2", "0xA", types.SELL, "5", "100", types.GTC, 2))

	if len(res.Trades) != 0 {
		t.Fatalf("self-trade must emit no Trade, got %d", len(res.Trades))
	}
	if _, _, _, _, hasBid, _ := b.BestBidAsk(); hasBid {
		t.Error("resting order must be consumed by the self-trade")
	}
	aggBids, _ := b.Aggregates()
	if !aggBids.IsZero() {
		t.Errorf("aggregated bid size = %v, want 0 after self-trade consumption", aggBids)
	}
	if oi := b.OpenInterest(); !oi.IsZero() {
		t.Errorf("open interest = %v, want 0 (self-trades do not update OI)", oi)
	}
}

func TestCancelUnknownOrderIsNoop(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	res := b.ProcessCancel(&order.Cancel{Base: order.Base{OrderID: "ghost"}})
	if len(res.Cancelled) != 0 {
		t.Errorf("cancelling an unknown id must be a no-op, got %+v", res.Cancelled)
	}
}

func TestPricePriority(t *testing.T) {
	t.Parallel()
	b := New("BTC-PERP", "perp")

	b.ProcessLimit(newLimit("A1", "0xA", types.BUY, "5", "100", types.GTC, 1))
	b.ProcessLimit(newLimit("A2", "0xA2", types.BUY, "5", "101", types.GTC, 2))

	res := b.ProcessMarket(newMarket("S1", "0xS", types.SELL, "5", 3))
	if len(res.Trades) != 1 || res.Trades[0].Maker != "0xA2" {
		t.Errorf("expected the better (higher) bid price to match first, got %+v", res.Trades)
	}
}
