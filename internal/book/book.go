// Package book implements the per-instrument order book and matching engine
// (C2): two priority containers (bids, asks), the process_order matching
// algorithm, aggregate maintenance, and the rolling stats window.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"derivex/internal/order"
	"derivex/pkg/types"
)

// level holds every resting limit order at one price, in strict
// time-then-remaining priority order (FIFO at insertion, since only the
// front of a level is ever popped or re-pushed).
type level struct {
	price     decimal.Decimal
	orders    []*order.Limit
	remaining decimal.Decimal // sum of orders[i].Remaining
}

func (lv *level) insert(o *order.Limit) {
	i := 0
	for i < len(lv.orders) && order.LessLimit(lv.orders[i], o) {
		i++
	}
	lv.orders = append(lv.orders, nil)
	copy(lv.orders[i+1:], lv.orders[i:])
	lv.orders[i] = o
	lv.remaining = lv.remaining.Add(o.Remaining)
}

func (lv *level) removeAt(i int) {
	lv.remaining = lv.remaining.Sub(lv.orders[i].Remaining)
	lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
}

type levels = btree.BTreeG[*level]

func newSide(side types.Side) *levels {
	if side == types.BUY {
		return btree.NewBTreeG(func(a, b *level) bool { return a.price.GreaterThan(b.price) })
	}
	return btree.NewBTreeG(func(a, b *level) bool { return a.price.LessThan(b.price) })
}

// MatchResult is the (trades, updated, filled, cancelled, involved_accounts)
// tuple process_order returns.
type MatchResult struct {
	Trades            []types.Trade
	Updated           map[string]order.Snapshot
	Filled            map[string]order.Snapshot
	Cancelled         map[string]order.Snapshot
	InvolvedAccounts  []string
}

func newResult() MatchResult {
	return MatchResult{
		Updated:   map[string]order.Snapshot{},
		Filled:    map[string]order.Snapshot{},
		Cancelled: map[string]order.Snapshot{},
	}
}

// Book is a single instrument's order book: bids, asks, last trade, open
// interest, aggregates, and the rolling stats window (§3).
type Book struct {
	mu sync.RWMutex

	InstrumentName string
	Kind           string // taxonomy tag copied into published trade messages

	bids *levels
	asks *levels
	byID map[string]*order.Limit // order_id -> resting order, for O(1) cancel

	lastTrade *types.Trade
	recent    []types.Trade // most recent trades, capped, for get_trades_by_instrument

	openInterest   decimal.Decimal
	aggBidsSize    decimal.Decimal
	aggAsksSize    decimal.Decimal

	last24hPrices     []decimal.Decimal
	volumeBase        decimal.Decimal
	volumeQuote       decimal.Decimal
	volumeWindowStart time.Time

	stats types.BookStats
	state string
}

func newBook(name, kind string) Book {
	return Book{
		InstrumentName:    name,
		Kind:              kind,
		bids:              newSide(types.BUY),
		asks:              newSide(types.SELL),
		byID:              make(map[string]*order.Limit),
		openInterest:      decimal.Zero,
		aggBidsSize:       decimal.Zero,
		aggAsksSize:       decimal.Zero,
		volumeBase:        decimal.Zero,
		volumeQuote:       decimal.Zero,
		volumeWindowStart: time.Now(),
		state:             "open",
	}
}

// New constructs a spot-style book with no mark-price state.
func New(name, kind string) *Book {
	b := newBook(name, kind)
	return &b
}

func bestOf(t *levels) (*level, bool) {
	return t.Min()
}

// sideOf returns the resting-order container for the given side.
func (b *Book) sideOf(s types.Side) *levels {
	if s == types.BUY {
		return b.bids
	}
	return b.asks
}

func (b *Book) aggregate(s types.Side) *decimal.Decimal {
	if s == types.BUY {
		return &b.aggBidsSize
	}
	return &b.aggAsksSize
}

// ProcessCancel removes a resting order by id, if present, from whichever
// side it rests on. Unknown ids are a silent no-op (§9 Open Question 3).
func (b *Book) ProcessCancel(c *order.Cancel) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := newResult()
	o, ok := b.byID[c.OrderID]
	if !ok {
		return res
	}
	b.removeResting(o)
	res.Cancelled[c.OrderID] = o.ToSnapshot()
	return res
}

// removeResting deletes a resting order from its side's tree and the id
// index, decrementing that side's aggregate.
func (b *Book) removeResting(o *order.Limit) {
	tree := b.sideOf(o.Side)
	lv, ok := tree.Get(&level{price: o.Price})
	if !ok {
		delete(b.byID, o.OrderID)
		return
	}
	for i, ro := range lv.orders {
		if ro.OrderID == o.OrderID {
			lv.removeAt(i)
			break
		}
	}
	if len(lv.orders) == 0 {
		tree.Delete(lv)
	}
	*b.aggregate(o.Side) = b.aggregate(o.Side).Sub(o.Remaining)
	delete(b.byID, o.OrderID)
}

// insertResting adds a GTC limit order with residual to its side, updating
// the id index and that side's aggregate.
func (b *Book) insertResting(o *order.Limit) {
	tree := b.sideOf(o.Side)
	lv, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lv = &level{price: o.Price}
		tree.Set(lv)
	}
	lv.insert(o)
	b.byID[o.OrderID] = o
	*b.aggregate(o.Side) = b.aggregate(o.Side).Add(o.Remaining)
}

// crosses reports whether the incoming order can still trade against the
// current best of the opposite side.
func crosses(isLimit bool, limitPrice decimal.Decimal, side types.Side, bestPrice decimal.Decimal) bool {
	if !isLimit {
		return true
	}
	if side == types.BUY {
		return limitPrice.GreaterThanOrEqual(bestPrice)
	}
	return limitPrice.LessThanOrEqual(bestPrice)
}

// ProcessLimit runs the matching algorithm for an incoming limit order.
func (b *Book) ProcessLimit(o *order.Limit) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := newResult()
	opposite := b.sideOf(o.Side.Opposite())

	for {
		best, ok := bestOf(opposite)
		if !ok || !crosses(true, o.Price, o.Side, best.price) {
			break
		}
		if b.matchOne(o.Side, opposite, best, &o.Remaining, o.OrderID, o.FromAddr, o.ToSnapshot, &res) {
			break
		}
	}

	if o.Remaining.Sign() > 0 {
		involved(&res, o.FromAddr)
		if o.TimeInForce == types.GTC {
			b.insertResting(o)
			res.Updated[o.OrderID] = o.ToSnapshot()
		} else {
			res.Cancelled[o.OrderID] = o.ToSnapshot()
		}
	}
	return res
}

// ProcessMarket runs the matching algorithm for an incoming market order.
// Any residual is dropped — market orders are never rested.
func (b *Book) ProcessMarket(o *order.Market) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := newResult()
	opposite := b.sideOf(o.Side.Opposite())

	for {
		best, ok := bestOf(opposite)
		if !ok {
			break
		}
		if b.matchOne(o.Side, opposite, best, &o.Remaining, o.OrderID, o.FromAddr, o.ToSnapshot, &res) {
			break
		}
	}
	if o.Remaining.Sign() > 0 {
		involved(&res, o.FromAddr)
	}
	return res
}

func involved(res *MatchResult, addr string) {
	for _, a := range res.InvolvedAccounts {
		if a == addr {
			return
		}
	}
	res.InvolvedAccounts = append(res.InvolvedAccounts, addr)
}

// matchOne consumes one resting order (or partially consumes the incoming
// order against it) and returns true if the incoming order's matching loop
// is done (the incoming order fully filled, possibly leaving the resting
// order with leftover that is pushed back); it returns false when only the
// resting order was consumed, so the caller matches the next one.
func (b *Book) matchOne(
	incomingSide types.Side,
	opposite *levels,
	best *level,
	incomingRemaining *decimal.Decimal,
	incomingID, incomingFrom string,
	incomingSnapshot func() order.Snapshot,
	res *MatchResult,
) bool {
	resting := best.orders[0]
	v := decimal.Min(*incomingRemaining, resting.Remaining)

	*incomingRemaining = incomingRemaining.Sub(v)
	resting.Remaining = resting.Remaining.Sub(v)
	*b.aggregate(incomingSide.Opposite()) = b.aggregate(incomingSide.Opposite()).Sub(v)
	best.remaining = best.remaining.Sub(v)

	trade := types.Trade{
		Timestamp:       types.NowMicros(),
		Side:            incomingSide,
		Price:           resting.Price,
		Size:            v,
		Taker:           incomingFrom,
		Maker:           resting.FromAddr,
		IncomingOrderID: incomingID,
		BookOrderID:     resting.OrderID,
	}

	involved(res, resting.FromAddr)
	involved(res, incomingFrom)

	if resting.FromAddr != incomingFrom {
		b.recordTrade(trade)
		res.Trades = append(res.Trades, trade)
	}

	restingDone := resting.Remaining.Sign() <= 0
	incomingDone := incomingRemaining.Sign() <= 0

	if restingDone {
		best.orders = best.orders[1:]
		delete(b.byID, resting.OrderID)
		if len(best.orders) == 0 {
			opposite.Delete(best)
		}
		res.Filled[resting.OrderID] = resting.ToSnapshot()
	} else {
		res.Updated[resting.OrderID] = resting.ToSnapshot()
	}

	if incomingDone {
		res.Filled[incomingID] = incomingSnapshot()
		return true
	}
	// restingDone is necessarily true here: v = min(incoming, resting), and
	// incoming not being done means resting supplied the smaller side.
	return false
}

// recordTrade applies a non-self-trade to last_trade, open_interest, the
// rolling 24h price list, and the running volume counters.
func (b *Book) recordTrade(t types.Trade) {
	tt := t
	b.lastTrade = &tt
	if t.Side == types.BUY {
		b.openInterest = b.openInterest.Add(t.Size)
	} else {
		b.openInterest = b.openInterest.Sub(t.Size)
	}

	b.recent = append(b.recent, t)
	if len(b.recent) > 20 {
		b.recent = b.recent[len(b.recent)-20:]
	}

	if time.UnixMicro(t.Timestamp).After(b.volumeWindowStart) {
		b.volumeBase = b.volumeBase.Add(t.Size.Abs())
		b.volumeQuote = b.volumeQuote.Add(t.Size.Abs().Mul(t.Price.Abs()))
	}
	b.last24hPrices = append(b.last24hPrices, t.Price.Abs())
}

// RollStats recomputes the 5-second stats snapshot (§4.1 "Stats").
func (b *Book) RollStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.VolumeBase = b.volumeBase
	b.stats.VolumeQuote = b.volumeQuote
	if len(b.last24hPrices) > 0 {
		low, high := b.last24hPrices[0], b.last24hPrices[0]
		for _, p := range b.last24hPrices {
			if p.LessThan(low) {
				low = p
			}
			if p.GreaterThan(high) {
				high = p
			}
		}
		b.stats.Low = low
		b.stats.High = high
		b.stats.PriceChange = b.last24hPrices[len(b.last24hPrices)-1].Sub(b.last24hPrices[0])
	}
}

// ResetDailyWindow clears the 24h price list and volume counters and resets
// the window start to now. Invoked once per UTC day.
func (b *Book) ResetDailyWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last24hPrices = nil
	b.volumeBase = decimal.Zero
	b.volumeQuote = decimal.Zero
	b.volumeWindowStart = time.Now()
}

// BestBidAsk returns the best bid and ask (price, size), and whether each
// side is non-empty.
func (b *Book) BestBidAsk() (bidPrice, bidSize, askPrice, askSize decimal.Decimal, hasBid, hasAsk bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if lv, ok := bestOf(b.bids); ok {
		bidPrice, bidSize, hasBid = lv.price, lv.remaining, true
	}
	if lv, ok := bestOf(b.asks); ok {
		askPrice, askSize, hasAsk = lv.price, lv.remaining, true
	}
	return
}

// LastPrice returns the most recent non-self trade price, or zero if none.
func (b *Book) LastPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastTrade == nil {
		return decimal.Zero
	}
	return b.lastTrade.Price
}

// OpenInterest returns the signed running sum of trade sizes by aggressor side.
func (b *Book) OpenInterest() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.openInterest
}

// Aggregates returns the current aggregated resting size on each side.
func (b *Book) Aggregates() (bids, asks decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aggBidsSize, b.aggAsksSize
}

// Stats returns the last rolled-up 5-second stats snapshot.
func (b *Book) Stats() types.BookStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// State returns the book's lifecycle state (always "open" in this scope).
func (b *Book) State() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// RecentTrades returns up to the last 20 trades (get_trades_by_instrument).
func (b *Book) RecentTrades() []types.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Trade, len(b.recent))
	copy(out, b.recent)
	return out
}

// Depth returns up to n aggregated price levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	walk := func(t *levels) []types.PriceLevel {
		out := make([]types.PriceLevel, 0, n)
		t.Scan(func(lv *level) bool {
			out = append(out, types.PriceLevel{Price: lv.price, Size: lv.remaining})
			return len(out) < n
		})
		return out
	}
	return walk(b.bids), walk(b.asks)
}

// WalkSide invokes fn for each resting limit order on side s, in priority
// order, until fn returns false. Used by the mark-price loops (C3) to walk
// the book without mutating it; callers must not retain the *order.Limit
// beyond the callback (it may be mutated concurrently by the matching path
// under the book's own lock — WalkSide holds the read lock for its duration).
func (b *Book) WalkSide(s types.Side, fn func(o *order.Limit) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tree := b.sideOf(s)
	tree.Scan(func(lv *level) bool {
		for _, o := range lv.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}
