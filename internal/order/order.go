// Package order defines the tagged order variants accepted by an instrument's
// book and the strict priority comparators that order the resting sides.
package order

import (
	"github.com/shopspring/decimal"

	"derivex/pkg/types"
)

// Base carries the fields common to every order variant.
type Base struct {
	OrderID       string
	FromAddr      string
	CreatedTime   int64 // microseconds since epoch, monotonic within a process
	Label         string
	IsLiquidation bool
}

// Market is a market order: fill immediately against the book, never rest.
type Market struct {
	Base
	Side        types.Side
	Size        decimal.Decimal
	Remaining   decimal.Decimal
	Leverage    int
	TimeInForce types.TimeInForce
}

// Limit is a market order plus a limit price quantized to the instrument's
// tick size. Only GTC limit orders with residual > 0 are ever rested.
type Limit struct {
	Market
	Price decimal.Decimal
}

// Cancel references an existing order_id for removal from the book.
type Cancel struct {
	Base
}

// Margin returns remaining·price/leverage, the open-order margin contribution.
func (l *Limit) Margin() decimal.Decimal {
	if l.Leverage == 0 {
		return decimal.Zero
	}
	return l.Remaining.Mul(l.Price).Div(decimal.NewFromInt(int64(l.Leverage)))
}

// Filled reports whether the order has no remaining quantity.
func (m *Market) Filled() bool {
	return m.Remaining.Sign() <= 0
}

// LessLimit implements the strict total order for resting limit orders on one
// side of the book: price priority, then earlier created_time, then smaller
// remaining. Both orders must be on the same side.
func LessLimit(a, b *Limit) bool {
	if !a.Price.Equal(b.Price) {
		if a.Side == types.BUY {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	if a.CreatedTime != b.CreatedTime {
		return a.CreatedTime < b.CreatedTime
	}
	return a.Remaining.LessThan(b.Remaining)
}

// LessMarket implements the (rarely needed) ordering between two market
// orders: earlier created_time first, then smaller size.
func LessMarket(a, b *Market) bool {
	if a.CreatedTime != b.CreatedTime {
		return a.CreatedTime < b.CreatedTime
	}
	return a.Size.LessThan(b.Size)
}

// Snapshot is the get_obj()-equivalent view returned to RPC callers and used
// in filled/updated/cancelled result sets.
type Snapshot struct {
	OrderID       string          `json:"order_id"`
	CreatedTime   int64           `json:"time"`
	FromAddr      string          `json:"fromaddr"`
	Class         string          `json:"class"`
	Side          types.Side      `json:"side,omitempty"`
	Size          decimal.Decimal `json:"size,omitempty"`
	Remaining     decimal.Decimal `json:"remainingToFill,omitempty"`
	TimeInForce   types.TimeInForce `json:"time_in_force,omitempty"`
	Price         decimal.Decimal `json:"price,omitempty"`
	Leverage      int             `json:"leverage,omitempty"`
	Label         string          `json:"label"`
	IsLiquidation bool            `json:"is_liquidation"`
}

func (l *Limit) ToSnapshot() Snapshot {
	return Snapshot{
		OrderID:     l.OrderID,
		CreatedTime: l.CreatedTime,
		FromAddr:    l.FromAddr,
		Class:       "LimitOrder",
		Side:        l.Side,
		Size:        l.Size,
		Remaining:   l.Remaining,
		TimeInForce: l.TimeInForce,
		Price:       l.Price,
		Leverage:    l.Leverage,
		Label:       l.Label,
		IsLiquidation: l.IsLiquidation,
	}
}

func (m *Market) ToSnapshot() Snapshot {
	return Snapshot{
		OrderID:     m.OrderID,
		CreatedTime: m.CreatedTime,
		FromAddr:    m.FromAddr,
		Class:       "MarketOrder",
		Side:        m.Side,
		Size:        m.Size,
		Remaining:   m.Remaining,
		TimeInForce: m.TimeInForce,
		Leverage:    m.Leverage,
		Label:       m.Label,
		IsLiquidation: m.IsLiquidation,
	}
}

func (c *Cancel) ToSnapshot() Snapshot {
	return Snapshot{
		OrderID:       c.OrderID,
		CreatedTime:   c.CreatedTime,
		FromAddr:      c.FromAddr,
		Class:         "CancelOrder",
		Label:         c.Label,
		IsLiquidation: c.IsLiquidation,
	}
}
