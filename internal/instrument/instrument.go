// Package instrument holds the static descriptors for every tradeable
// contract (C4): currencies, instrument metadata, the name-derivation
// invariants, and the process-wide registry mapping name -> instrument.
package instrument

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"derivex/internal/book"
	"derivex/pkg/types"
)

// Currency is a supported settlement/collateral asset descriptor, restored
// from the running system's currency registry (name/symbol/decimals/
// is_coll_asset) even though the distilled spec only names "collateral[currency]".
type Currency struct {
	Symbol       string
	Name         string
	Decimals     int
	IsCollateral bool
}

// Commissions groups the four named fee rates every instrument carries.
type Commissions struct {
	Maker              decimal.Decimal
	Taker              decimal.Decimal
	BlockTrade         decimal.Decimal
	MaxLiquidation     decimal.Decimal
}

// DefaultCommissions mirrors the running system's defaults.
func DefaultCommissions() Commissions {
	return Commissions{
		Maker:          decimal.NewFromFloat(0.0003),
		Taker:          decimal.NewFromFloat(0.0003),
		BlockTrade:     decimal.NewFromFloat(0.0001),
		MaxLiquidation: decimal.NewFromFloat(0.0075),
	}
}

// Instrument is the static descriptor for one tradeable contract plus a
// handle to its live book. MarkClamp is the fractional clamp applied to the
// EMA-derived mark price (§4.2); parameterized per Open Question 2.
type Instrument struct {
	Name           string
	Code           types.InstrumentCode
	IndexBase      string
	IndexQuote     string
	ContractSize   decimal.Decimal
	BaseCurrency   Currency
	QuoteCurrency  Currency
	TickSize       decimal.Decimal
	MaxLeverage    int
	Commissions    Commissions
	Expiration     int64 // unix seconds; zero for perpetuals
	MarkClamp      decimal.Decimal
	RFQ            bool
	IsActive       bool
	IsExpired      bool

	PerpBook    *book.PerpBook    // non-nil iff Code == USD_M_PERP
	FuturesBook *book.FuturesBook // non-nil iff Code == USD_M_FUTURE
}

// defaultMarkClamp is 0.5%, matching the perp clamp; used for dated futures
// too per the Open Question 2 decision (the original's 1.0000003/0.9999997
// constants are treated as a typo of 1.005/0.995 and not carried forward).
var defaultMarkClamp = decimal.NewFromFloat(0.005)

// ExpiryName formats a unix-seconds expiration as "{DD}{MON}{YY}" uppercase,
// e.g. 1703030400 -> "20DEC23". Matches getExpiryFromTimestamp.
func ExpiryName(expirationUnix int64) string {
	t := time.Unix(expirationUnix, 0).UTC()
	return fmt.Sprintf("%02d%s%02d", t.Day(), strings.ToUpper(t.Format("Jan")), t.Year()%100)
}

// NewPerp constructs a USD_M_PERP instrument named "{base}USD-PERP".
func NewPerp(base, quote Currency, contractSize decimal.Decimal, tickSize decimal.Decimal, maxLeverage int) *Instrument {
	name := base.Symbol + "USD-PERP"
	return &Instrument{
		Name:          name,
		Code:          types.CodeUSDMPerp,
		IndexBase:     base.Symbol,
		IndexQuote:    quote.Symbol,
		ContractSize:  contractSize,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		TickSize:      tickSize,
		MaxLeverage:   maxLeverage,
		Commissions:   DefaultCommissions(),
		MarkClamp:     defaultMarkClamp,
		RFQ:           true,
		IsActive:      true,
		PerpBook:      book.NewPerp(name, contractSize, maxLeverage),
	}
}

// NewFuture constructs a USD_M_FUTURE instrument. name is derived as
// "{base}-{DDMMMYY}" from expirationUnix.
func NewFuture(base, quote Currency, contractSize decimal.Decimal, tickSize decimal.Decimal, maxLeverage int, expirationUnix int64) *Instrument {
	name := base.Symbol + "-" + ExpiryName(expirationUnix)
	expired := expirationUnix < time.Now().Unix()
	return &Instrument{
		Name:          name,
		Code:          types.CodeUSDMFuture,
		IndexBase:     base.Symbol,
		IndexQuote:    quote.Symbol,
		ContractSize:  contractSize,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		TickSize:      tickSize,
		MaxLeverage:   maxLeverage,
		Commissions:   DefaultCommissions(),
		Expiration:    expirationUnix,
		MarkClamp:     defaultMarkClamp,
		RFQ:           true,
		IsActive:      !expired,
		IsExpired:     expired,
		FuturesBook:   book.NewFutures(name, expirationUnix),
	}
}

// Book returns the underlying order book regardless of instrument kind.
func (i *Instrument) Book() *book.Book {
	switch {
	case i.PerpBook != nil:
		return &i.PerpBook.Book
	case i.FuturesBook != nil:
		return &i.FuturesBook.Book
	default:
		return nil
	}
}

// Ready reports whether the instrument's index price is primed — the single
// predicate gating both ticker publication and the ticker payload's Ready
// field (Open Question 5).
func (i *Instrument) Ready(indexPrice decimal.Decimal) bool {
	return !indexPrice.IsZero()
}

// Registry is the process-wide static-data store: name -> *Instrument.
// Populated once at startup from configuration; reads are lock-free-safe
// via RWMutex for the rare case of dynamic activation/deactivation.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
	currencies  map[string]Currency
}

func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
		currencies:  make(map[string]Currency),
	}
}

func (r *Registry) AddCurrency(c Currency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currencies[c.Symbol] = c
}

func (r *Registry) Currency(symbol string) (Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currencies[symbol]
	return c, ok
}

func (r *Registry) Currencies() []Currency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Currency, 0, len(r.currencies))
	for _, c := range r.currencies {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Add(i *Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[i.Name] = i
}

func (r *Registry) Get(name string) (*Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.instruments[name]
	return i, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instruments))
	for n := range r.instruments {
		out = append(out, n)
	}
	return out
}

func (r *Registry) All() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, i := range r.instruments {
		out = append(out, i)
	}
	return out
}

// Active/Expired split All() by IsActive/IsExpired, used by the controller's
// Stats() method.
func (r *Registry) Active() []*Instrument {
	var out []*Instrument
	for _, i := range r.All() {
		if i.IsActive {
			out = append(out, i)
		}
	}
	return out
}

func (r *Registry) Expired() []*Instrument {
	var out []*Instrument
	for _, i := range r.All() {
		if i.IsExpired {
			out = append(out, i)
		}
	}
	return out
}
