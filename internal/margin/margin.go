// Package margin implements the standard linear margin model and the
// pre-trade margin gate (C7): how much margin a position or open order
// locks, how much an account has free, and whether a hypothetical new
// order is allowed to proceed.
package margin

import (
	"github.com/shopspring/decimal"

	"derivex/internal/account"
	"derivex/internal/order"
	"derivex/pkg/types"
)

// ForPosition returns the stored margin value for a position — preferred
// over recomputing from avg_price/leverage, per §4.3.
func ForPosition(p *account.Position) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Margin
}

// ForOpenOrder is remaining*price/leverage for a single resting limit order.
func ForOpenOrder(remaining, price decimal.Decimal, leverage int) decimal.Decimal {
	if leverage == 0 {
		return decimal.Zero
	}
	return remaining.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// ForOpenOrderSnapshot derives the same quantity from a persisted snapshot.
func ForOpenOrderSnapshot(s order.Snapshot) decimal.Decimal {
	return ForOpenOrder(s.Remaining, s.Price, s.Leverage)
}

// TotalRequired sums margin(positions) + margin(open orders) across every
// instrument an account touches.
func TotalRequired(a *account.Account) decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Positions {
		total = total.Add(ForPosition(p))
	}
	for _, byID := range a.OpenOrders {
		for _, s := range byID {
			total = total.Add(ForOpenOrderSnapshot(s))
		}
	}
	return total
}

// AvailableMargin is collateral(currency) minus TotalRequired(a).
func AvailableMargin(a *account.Account, currency string) decimal.Decimal {
	return a.Collateral[currency].Sub(TotalRequired(a))
}

// Delta computes the change in total required margin if a hypothetical
// order on instrumentName (side d, size s, price p, leverage L) were
// matched in full against the account's existing position on that
// instrument, per §4.3's four cases. pos is nil if the account holds no
// position on the instrument yet.
func Delta(pos *account.Position, d types.Side, s, p decimal.Decimal, leverage int) decimal.Decimal {
	newExposureMargin := s.Mul(p).Div(decimal.NewFromInt(int64(leverage)))

	if pos == nil || pos.Size.IsZero() {
		return newExposureMargin
	}

	delta := s
	if d == types.SELL {
		delta = s.Neg()
	}

	sameSign := (pos.Size.IsPositive() && delta.IsPositive()) || (pos.Size.IsNegative() && delta.IsNegative())
	if sameSign {
		// case 1: straight addition, full notional margin is newly required
		return newExposureMargin
	}

	if delta.Abs().LessThan(pos.Size.Abs()) {
		// case 2: reduction never requires new margin
		return decimal.Zero
	}

	// case 3 (cross-through, strictly larger) and the exact-close boundary
	// (cross-through at equal magnitude) both reduce to the same formula:
	// the new position's margin requirement net of what the old position
	// already had locked, floored at zero.
	newSize := pos.Size.Abs().Sub(s).Abs()
	newMarginRequired := newSize.Mul(p).Div(decimal.NewFromInt(int64(leverage)))
	freed := pos.Margin

	diff := newMarginRequired.Sub(freed)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

// Allows reports whether total_required(A) + delta <= collateral(currency)
// — the pre-trade gate of §4.3/§4.4. It never mutates the account.
func Allows(a *account.Account, currency string, delta decimal.Decimal) bool {
	return TotalRequired(a).Add(delta).LessThanOrEqual(a.Collateral[currency])
}

// LiquidationPrice mirrors the stored estimated_liquidation_price formula:
// avg - margin/size (sign falls out of signed size).
func LiquidationPrice(avgPrice, marginAmt, size decimal.Decimal) decimal.Decimal {
	if size.IsZero() {
		return decimal.Zero
	}
	return avgPrice.Sub(marginAmt.Div(size))
}
