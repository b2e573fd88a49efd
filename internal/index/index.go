// Package index implements the process-wide index-price bus (C5): a
// single-writer, many-reader mapping of index name ("{base}/{quote}") to
// latest price, with cross-pair derivation when a direct quote is absent.
package index

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Bus holds the latest price for every index name the oracle ingester has
// ever pushed. Direct lookups hit prices map; if absent, Price derives the
// pair via {base}/USD ÷ {quote}/USD, returning zero if neither resolves.
type Bus struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// New constructs an empty index bus.
func New() *Bus {
	return &Bus{prices: make(map[string]decimal.Decimal)}
}

// Set is the oracle ingester's single write path.
func (b *Bus) Set(name string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[name] = price
}

// Price returns the index price for name: a direct hit if present, else the
// derived cross-pair "{base}/USD" ÷ "{quote}/USD", else zero.
func (b *Bus) Price(base, quote string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	name := base + "/" + quote
	if p, ok := b.prices[name]; ok {
		return p
	}

	baseUSD, okBase := b.prices[base+"/USD"]
	quoteUSD, okQuote := b.prices[quote+"/USD"]
	if !okBase || !okQuote || quoteUSD.IsZero() {
		return decimal.Zero
	}
	return baseUSD.Div(quoteUSD)
}

// PriceByName looks up an index directly by its "{base}/{quote}" name,
// applying the same direct-or-derived rule as Price.
func (b *Bus) PriceByName(name string) decimal.Decimal {
	base, quote, ok := splitPair(name)
	if !ok {
		b.mu.RLock()
		p := b.prices[name]
		b.mu.RUnlock()
		return p
	}
	return b.Price(base, quote)
}

func splitPair(name string) (base, quote string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

// Names returns every index name currently populated (get_index_price_names).
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.prices))
	for n := range b.prices {
		out = append(out, n)
	}
	return out
}
