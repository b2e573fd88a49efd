package book

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PerpBook adds the perpetual-specific mark-price state (§3 "PerpBook") on
// top of a plain Book: the EMA, the funding rate, the impact price notional
// used to compute fair impact prices, and the contract size used to convert
// order notional into contracts.
type PerpBook struct {
	Book

	ContractSize  decimal.Decimal
	ImpactNotional decimal.Decimal // IMN = 200 × max_leverage, set at construction

	emaMu       sync.RWMutex
	perpEMA     float64
	fundingRate float64
}

// NewPerp constructs a perpetual instrument's book.
func NewPerp(name string, contractSize decimal.Decimal, maxLeverage int) *PerpBook {
	return &PerpBook{
		Book:           newBook(name, "perp"),
		ContractSize:   contractSize,
		ImpactNotional: decimal.NewFromInt(200).Mul(decimal.NewFromInt(int64(maxLeverage))),
	}
}

// EMA returns the current perp EMA (index-relative deviation).
func (p *PerpBook) EMA() float64 {
	p.emaMu.RLock()
	defer p.emaMu.RUnlock()
	return p.perpEMA
}

// SetEMA is called once per second by the mark-price loop (C3); it is the
// loop's only write into the book's state.
func (p *PerpBook) SetEMA(v float64) {
	p.emaMu.Lock()
	defer p.emaMu.Unlock()
	p.perpEMA = v
}

// FundingRate returns the current per-cycle funding rate.
func (p *PerpBook) FundingRate() float64 {
	p.emaMu.RLock()
	defer p.emaMu.RUnlock()
	return p.fundingRate
}

// SetFundingRate is called once per 5s cycle-sample by the funding loop.
func (p *PerpBook) SetFundingRate(v float64) {
	p.emaMu.Lock()
	defer p.emaMu.Unlock()
	p.fundingRate = v
}
