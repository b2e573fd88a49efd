package account

import (
	"testing"

	"github.com/shopspring/decimal"

	"derivex/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGetOrCreateRejectsBadAddress(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if _, ok := s.GetOrCreate("not-an-address"); ok {
		t.Fatal("expected GetOrCreate to reject a non-hex address")
	}
}

func TestGetOrCreateIsLazyAndIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	addr := "0x00000000000000000000000000000000000000AA"
	a1, ok := s.GetOrCreate(addr)
	if !ok {
		t.Fatal("expected a valid address to be accepted")
	}
	a2, _ := s.GetOrCreate(addr)
	if a1 != a2 {
		t.Error("GetOrCreate must return the same account on repeated calls")
	}
}

func TestApplyFillCreatesPosition(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.ApplyFill("ETH-PERP", types.DirBuy, dec("5"), dec("100"), dec("1"), dec("100"), dec("100"), 10)

	pos := a.Positions["ETH-PERP"]
	if pos == nil {
		t.Fatal("expected a position to be created")
	}
	if !pos.Size.Equal(dec("5")) {
		t.Errorf("size = %v, want 5", pos.Size)
	}
	if !pos.Margin.Equal(dec("50")) {
		t.Errorf("margin = %v, want 50", pos.Margin)
	}
	if pos.Direction != types.DirBuy {
		t.Errorf("direction = %v, want buy", pos.Direction)
	}
}

func TestApplyFillSameSignAdds(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.ApplyFill("ETH-PERP", types.DirBuy, dec("5"), dec("100"), dec("1"), dec("100"), dec("100"), 10)
	a.ApplyFill("ETH-PERP", types.DirBuy, dec("5"), dec("110"), dec("1"), dec("110"), dec("110"), 10)

	pos := a.Positions["ETH-PERP"]
	if !pos.Size.Equal(dec("10")) {
		t.Errorf("size = %v, want 10", pos.Size)
	}
	wantAvg := dec("105") // (100*5 + 110*5)/10
	if !pos.AveragePrice.Equal(wantAvg) {
		t.Errorf("avg price = %v, want %v", pos.AveragePrice, wantAvg)
	}
	wantMargin := dec("50").Add(dec("55")) // 50 + 110*5/10
	if !pos.Margin.Equal(wantMargin) {
		t.Errorf("margin = %v, want %v", pos.Margin, wantMargin)
	}
}

// Literal scenario: A holds long 5 at avg 100 (leverage 10, margin 50) on
// ETH-20DEC23. A takes SELL 8 filled at 110. Expected: size=-3, avg=110,
// direction=sell, leverage=10, margin=33, liq=121.
func TestApplyFillPositionFlip(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.ApplyFill("ETH-20DEC23", types.DirBuy, dec("5"), dec("100"), dec("1"), dec("100"), dec("100"), 10)
	a.ApplyFill("ETH-20DEC23", types.DirSell, dec("8"), dec("110"), dec("1"), dec("110"), dec("110"), 10)

	pos := a.Positions["ETH-20DEC23"]
	if pos == nil {
		t.Fatal("expected a flipped position to remain open")
	}
	if !pos.Size.Equal(dec("-3")) {
		t.Errorf("size = %v, want -3", pos.Size)
	}
	if !pos.AveragePrice.Equal(dec("110")) {
		t.Errorf("avg price = %v, want 110", pos.AveragePrice)
	}
	if pos.Direction != types.DirSell {
		t.Errorf("direction = %v, want sell", pos.Direction)
	}
	if !pos.Margin.Equal(dec("33")) {
		t.Errorf("margin = %v, want 33", pos.Margin)
	}
	wantLiq := dec("121")
	if !pos.EstimatedLiquidationPrice.Equal(wantLiq) {
		t.Errorf("liquidation price = %v, want %v", pos.EstimatedLiquidationPrice, wantLiq)
	}
}

func TestApplyFillOppositeReduction(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.ApplyFill("ETH-PERP", types.DirBuy, dec("10"), dec("100"), dec("1"), dec("100"), dec("100"), 10)
	a.ApplyFill("ETH-PERP", types.DirSell, dec("4"), dec("105"), dec("1"), dec("105"), dec("105"), 10)

	pos := a.Positions["ETH-PERP"]
	if !pos.Size.Equal(dec("6")) {
		t.Errorf("size = %v, want 6", pos.Size)
	}
	if !pos.AveragePrice.Equal(dec("100")) {
		t.Errorf("avg price must not change on a reduction, got %v", pos.AveragePrice)
	}
}

func TestApplyFillExactCloseDeletesPosition(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.ApplyFill("ETH-PERP", types.DirBuy, dec("5"), dec("100"), dec("1"), dec("100"), dec("100"), 10)
	a.ApplyFill("ETH-PERP", types.DirSell, dec("5"), dec("110"), dec("1"), dec("110"), dec("110"), 10)

	if _, ok := a.Positions["ETH-PERP"]; ok {
		t.Error("expected the position to be removed once size reaches zero")
	}
}

func TestDepositWithdraw(t *testing.T) {
	t.Parallel()

	a := newAccount("0xA")
	a.Deposit("USDC", dec("1000"))
	if !a.Collateral["USDC"].Equal(dec("1000")) {
		t.Fatalf("collateral = %v, want 1000", a.Collateral["USDC"])
	}
	a.Withdraw("USDC", dec("400"))
	if !a.Collateral["USDC"].Equal(dec("600")) {
		t.Fatalf("collateral = %v, want 600", a.Collateral["USDC"])
	}
}
