// Package account holds per-address collateral, positions, open orders and
// the lifecycle rules that reshape a position on each fill (C6).
package account

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"derivex/internal/order"
	"derivex/pkg/types"
)

// Position is one account's exposure to one instrument. Size is signed:
// positive for a long, negative for a short.
type Position struct {
	InstrumentName          string
	AveragePrice            decimal.Decimal
	ContractSize            decimal.Decimal
	Direction               types.Direction
	EstimatedLiquidationPrice decimal.Decimal
	Margin                  decimal.Decimal
	Leverage                int
	Size                    decimal.Decimal
	MarkPrice               decimal.Decimal
	IndexPrice              decimal.Decimal
	UnrealizedPnL           decimal.Decimal
	RealizedFunding         decimal.Decimal
}

func directionOf(size decimal.Decimal) types.Direction {
	switch {
	case size.IsPositive():
		return types.DirBuy
	case size.IsNegative():
		return types.DirSell
	default:
		return types.DirZero
	}
}

// liquidationPrice mirrors §4.3's "avg - margin/size for longs, avg +
// margin/size for shorts" (sign falls out naturally from signed size).
func liquidationPrice(avg, margin, size decimal.Decimal) decimal.Decimal {
	return avg.Sub(margin.Div(size))
}

// Account is one address's full trading state: collateral, positions, open
// orders, deposit/withdrawal history.
type Account struct {
	Address         string
	Collateral      map[string]decimal.Decimal
	AvailableMargin map[string]decimal.Decimal
	Positions       map[string]*Position            // instrument name -> position, absent if none
	OpenOrders      map[string]map[string]order.Snapshot // instrument name -> order_id -> snapshot
	Trades          []types.Trade
	Deposits        map[string][]decimal.Decimal
	Withdrawals     map[string][]decimal.Decimal
	MaxOpenOrders   int
}

func newAccount(addr string) *Account {
	return &Account{
		Address:         addr,
		Collateral:      make(map[string]decimal.Decimal),
		AvailableMargin: make(map[string]decimal.Decimal),
		Positions:       make(map[string]*Position),
		OpenOrders:      make(map[string]map[string]order.Snapshot),
		Deposits:        make(map[string][]decimal.Decimal),
		Withdrawals:     make(map[string][]decimal.Decimal),
		MaxOpenOrders:   10_000,
	}
}

func (a *Account) ordersFor(instrumentName string) map[string]order.Snapshot {
	m, ok := a.OpenOrders[instrumentName]
	if !ok {
		m = make(map[string]order.Snapshot)
		a.OpenOrders[instrumentName] = m
	}
	return m
}

// Store is the process-wide, address-keyed account table. Accounts are
// created lazily on first reference (deposit, order, or query) the way the
// running system's _generateAccount does, never pre-provisioned.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewStore() *Store {
	return &Store{accounts: make(map[string]*Account)}
}

// GetOrCreate validates addr as a hex-style on-chain address (no signature
// verification — that transport concern is explicitly out of scope) and
// returns its account, creating one on first reference.
func (s *Store) GetOrCreate(addr string) (*Account, bool) {
	if !common.IsHexAddress(addr) {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[addr]
	if !ok {
		a = newAccount(addr)
		s.accounts[addr] = a
	}
	return a, true
}

// Get returns an existing account without creating one.
func (s *Store) Get(addr string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[addr]
	return a, ok
}

func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	return out
}

// Deposit credits currency into the account's collateral balance.
func (a *Account) Deposit(currency string, amount decimal.Decimal) {
	a.Collateral[currency] = a.Collateral[currency].Add(amount)
	a.Deposits[currency] = append(a.Deposits[currency], amount)
}

// Withdraw debits currency from collateral; the available-margin check is
// the caller's responsibility (internal/margin owns that gate).
func (a *Account) Withdraw(currency string, amount decimal.Decimal) {
	a.Collateral[currency] = a.Collateral[currency].Sub(amount)
	a.Withdrawals[currency] = append(a.Withdrawals[currency], amount)
}

// RecordOpenOrder stores a resting order's snapshot under the instrument it
// belongs to, for margin accounting and get_open_orders.
func (a *Account) RecordOpenOrder(instrumentName string, s order.Snapshot) {
	a.ordersFor(instrumentName)[s.OrderID] = s
}

// RemoveOpenOrder drops a filled/cancelled order from the open-orders map.
func (a *Account) RemoveOpenOrder(instrumentName, orderID string) {
	delete(a.ordersFor(instrumentName), orderID)
}

// ApplyFill reshapes the account's position on instrumentName per §4.3's
// fill rules: create on first exposure, net on same-sign additions, shrink
// on opposite-side reductions, re-open on a flip, and delete when the net
// size reaches exactly zero.
func (a *Account) ApplyFill(instrumentName string, d types.Direction, size, price, contractSize, markPrice, indexPrice decimal.Decimal, leverage int) {
	delta := size
	if d == types.DirSell {
		delta = size.Neg()
	}

	pos, exists := a.Positions[instrumentName]
	if !exists || pos == nil {
		margin := delta.Abs().Mul(price).Div(decimal.NewFromInt(int64(leverage)))
		a.Positions[instrumentName] = &Position{
			InstrumentName:            instrumentName,
			AveragePrice:              price,
			ContractSize:              contractSize,
			Direction:                 directionOf(delta),
			Margin:                    margin,
			Leverage:                  leverage,
			Size:                      delta,
			MarkPrice:                 markPrice,
			IndexPrice:                indexPrice,
			UnrealizedPnL:             markPrice.Sub(price).Mul(delta).Mul(contractSize),
			EstimatedLiquidationPrice: liquidationPrice(price, margin, delta),
		}
		return
	}

	oldSize := pos.Size
	newSize := oldSize.Add(delta)
	sameSign := (oldSize.IsPositive() && delta.IsPositive()) || (oldSize.IsNegative() && delta.IsNegative())

	switch {
	case newSize.IsZero():
		delete(a.Positions, instrumentName)
		return

	case sameSign:
		addedMargin := delta.Abs().Mul(price).Div(decimal.NewFromInt(int64(leverage)))
		newAvg := pos.AveragePrice.Mul(oldSize).Add(delta.Mul(price)).Div(newSize)
		newMargin := pos.Margin.Add(addedMargin)
		pos.AveragePrice = newAvg
		pos.Margin = newMargin
		pos.Leverage = leverage
		pos.Size = newSize
		pos.EstimatedLiquidationPrice = liquidationPrice(newAvg, newMargin, newSize)

	case delta.Abs().LessThan(oldSize.Abs()):
		// opposite-side reduction: average price and leverage are unchanged
		newMargin := newSize.Abs().Mul(price).Div(decimal.NewFromInt(int64(pos.Leverage)))
		pos.Margin = newMargin
		pos.Size = newSize
		pos.EstimatedLiquidationPrice = liquidationPrice(pos.AveragePrice, newMargin, newSize)

	default:
		// flip: the trade crossed through zero and opened the opposite side
		newMargin := newSize.Abs().Mul(price).Div(decimal.NewFromInt(int64(leverage)))
		pos.AveragePrice = price
		pos.Margin = newMargin
		pos.Leverage = leverage
		pos.Size = newSize
		pos.EstimatedLiquidationPrice = liquidationPrice(price, newMargin, newSize)
	}

	pos.Direction = directionOf(pos.Size)
	pos.MarkPrice = markPrice
	pos.IndexPrice = indexPrice
	pos.UnrealizedPnL = unrealizedPnL(pos.MarkPrice, pos.AveragePrice, pos.Size, pos.ContractSize)
}

// unrealizedPnL is (mark - new_avg) * new_size * contract_size — signed size
// already orients the sign for longs vs shorts, so no separate branch is
// needed per direction.
func unrealizedPnL(mark, avg, size, contractSize decimal.Decimal) decimal.Decimal {
	return mark.Sub(avg).Mul(size).Mul(contractSize)
}

// RefreshPosition recomputes mark/index/unrealized_pnl for a resting
// position against the instrument's latest prices, without touching size,
// average price or margin (§4.4's periodic refresh path).
func (a *Account) RefreshPosition(instrumentName string, markPrice, indexPrice decimal.Decimal) {
	pos, ok := a.Positions[instrumentName]
	if !ok {
		return
	}
	pos.MarkPrice = markPrice
	pos.IndexPrice = indexPrice
	pos.UnrealizedPnL = unrealizedPnL(markPrice, pos.AveragePrice, pos.Size, pos.ContractSize)
}
