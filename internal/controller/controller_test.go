package controller

import (
	"log/slog"
	"io"
	"testing"

	"github.com/shopspring/decimal"

	"derivex/internal/account"
	"derivex/internal/broker"
	"derivex/internal/index"
	"derivex/internal/instrument"
	"derivex/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const addrA = "0x00000000000000000000000000000000000000AA"
const addrB = "0x00000000000000000000000000000000000000BB"

func newTestController(t *testing.T) (*Controller, *instrument.Registry, *index.Bus) {
	t.Helper()
	reg := instrument.NewRegistry()
	btc := instrument.Currency{Symbol: "BTC"}
	usdc := instrument.Currency{Symbol: "USDC", IsCollateral: true}
	reg.AddCurrency(btc)
	reg.AddCurrency(usdc)

	perp := instrument.NewPerp(btc, usdc, decimal.NewFromInt(1), dec("0.5"), 10)
	reg.Add(perp)

	idx := index.New()
	idx.Set("BTC/USDC", dec("20000"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(reg, account.NewStore(), idx, broker.New(), logger)
	return c, reg, idx
}

func TestDepositAndGetCollateral(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	resp := c.Deposit(addrA, "USDC", dec("1000"))
	if resp.Status != "success" {
		t.Fatalf("Deposit failed: %+v", resp)
	}

	resp = c.GetCollateral(addrA)
	if resp.Status != "success" {
		t.Fatalf("GetCollateral failed: %+v", resp)
	}
}

func TestWithdrawRejectsOverAvailableMargin(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	c.Deposit(addrA, "USDC", dec("100"))

	resp := c.Withdraw(addrA, "USDC", dec("500"))
	if resp.Status != "failure" {
		t.Fatalf("expected failure, got %+v", resp)
	}
}

// Literal scenario: A deposits 100 USDC. Index BTC/USDC=20000. A submits BUY
// limit size=1 price=20000 leverage=10 on BTCUSD-PERP. Required >= 2000 > 100
// -> failure: insufficient-margin, book unchanged.
func TestPlaceOrderRejectsUndercollateralized(t *testing.T) {
	t.Parallel()

	c, reg, _ := newTestController(t)
	c.Deposit(addrA, "USDC", dec("100"))

	resp := c.PlaceOrder(addrA, "BTCUSD-PERP", types.BUY, types.KindLimit, dec("1"), dec("20000"), 10, types.GTC)
	if resp.Status != "failure" {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if v, ok := resp.Response.(string); !ok || v != string(types.KindInsufficientMargin) {
		t.Errorf("response = %v, want %q", resp.Response, types.KindInsufficientMargin)
	}

	inst, _ := reg.Get("BTCUSD-PERP")
	_, _, _, _, hasBid, _ := inst.Book().BestBidAsk()
	if hasBid {
		t.Error("book must be unchanged after a rejected order")
	}
}

func TestPlaceOrderCrossesAndUpdatesBothAccounts(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	c.Deposit(addrA, "USDC", dec("100000"))
	c.Deposit(addrB, "USDC", dec("100000"))

	sellResp := c.PlaceOrder(addrA, "BTCUSD-PERP", types.SELL, types.KindLimit, dec("1"), dec("20000"), 10, types.GTC)
	if sellResp.Status != "success" {
		t.Fatalf("resting sell failed: %+v", sellResp)
	}

	buyResp := c.PlaceOrder(addrB, "BTCUSD-PERP", types.BUY, types.KindLimit, dec("1"), dec("20000"), 10, types.GTC)
	if buyResp.Status != "success" {
		t.Fatalf("crossing buy failed: %+v", buyResp)
	}

	aAcc, _ := c.accounts.Get(addrA)
	bAcc, _ := c.accounts.Get(addrB)

	posA := aAcc.Positions["BTCUSD-PERP"]
	posB := bAcc.Positions["BTCUSD-PERP"]
	if posA == nil || posB == nil {
		t.Fatal("expected both accounts to hold a position after the cross")
	}
	if posA.Direction != types.DirSell {
		t.Errorf("seller direction = %v, want sell", posA.Direction)
	}
	if posB.Direction != types.DirBuy {
		t.Errorf("buyer direction = %v, want buy", posB.Direction)
	}
}

func TestGetTickerNotReadyWithoutIndex(t *testing.T) {
	t.Parallel()

	reg := instrument.NewRegistry()
	eth := instrument.Currency{Symbol: "ETH"}
	usdc := instrument.Currency{Symbol: "USDC", IsCollateral: true}
	perp := instrument.NewPerp(eth, usdc, decimal.NewFromInt(1), dec("0.1"), 10)
	reg.Add(perp)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(reg, account.NewStore(), index.New(), broker.New(), logger)

	resp := c.GetTicker("ETHUSD-PERP")
	payload := resp.Response.(types.TickerPayload)
	if payload.Ready {
		t.Error("ticker must not be Ready before any index price has been set")
	}
}

func TestStatsReportsActiveInstruments(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	resp := c.Stats()
	if resp.Status != "success" {
		t.Fatalf("Stats failed: %+v", resp)
	}
	stats := resp.Response.(map[string]any)
	if stats["active_instruments"].(int) != 1 {
		t.Errorf("active_instruments = %v, want 1", stats["active_instruments"])
	}
}

func TestGetTickerUnknownInstrument(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	resp := c.GetTicker("NOPE")
	if resp.Status != "failure" {
		t.Fatalf("expected failure for unknown instrument, got %+v", resp)
	}
}
