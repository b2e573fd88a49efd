package index

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSetAndPriceDirectHit(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("BTC/USDC", dec("20000"))

	if got := b.Price("BTC", "USDC"); !got.Equal(dec("20000")) {
		t.Errorf("Price = %v, want 20000", got)
	}
}

func TestPriceDerivesCrossPair(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("BTC/USD", dec("20000"))
	b.Set("ETH/USD", dec("2000"))

	got := b.Price("BTC", "ETH")
	if !got.Equal(dec("10")) {
		t.Errorf("Price = %v, want 10 (20000/2000)", got)
	}
}

func TestPriceMissingPairReturnsZero(t *testing.T) {
	t.Parallel()

	b := New()
	if got := b.Price("BTC", "USDC"); !got.IsZero() {
		t.Errorf("Price = %v, want 0 for an unknown pair", got)
	}
}

func TestPriceByNameSplitsPair(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("BTC/USDC", dec("20000"))

	if got := b.PriceByName("BTC/USDC"); !got.Equal(dec("20000")) {
		t.Errorf("PriceByName = %v, want 20000", got)
	}
}

func TestNamesReflectsPushedIndices(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("BTC/USDC", dec("20000"))
	b.Set("ETH/USDC", dec("2000"))

	names := b.Names()
	if len(names) != 2 {
		t.Fatalf("Names = %v, want 2 entries", names)
	}
}
