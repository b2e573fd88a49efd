package book

import "sync"

// FuturesBook adds the dated-futures mark-price state (§3 "FuturesBook") on
// top of a plain Book: the EMA and the contract's expiration timestamp.
type FuturesBook struct {
	Book

	Expiration int64 // unix seconds

	emaMu      sync.RWMutex
	futuresEMA float64
}

// NewFutures constructs a dated-futures instrument's book.
func NewFutures(name string, expiration int64) *FuturesBook {
	return &FuturesBook{
		Book:       newBook(name, "future"),
		Expiration: expiration,
	}
}

// EMA returns the current futures EMA (index-relative deviation).
func (f *FuturesBook) EMA() float64 {
	f.emaMu.RLock()
	defer f.emaMu.RUnlock()
	return f.futuresEMA
}

// SetEMA is called once per second by the mark-price loop (C3).
func (f *FuturesBook) SetEMA(v float64) {
	f.emaMu.Lock()
	defer f.emaMu.Unlock()
	f.futuresEMA = v
}
