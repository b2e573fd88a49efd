// Package controller implements the exchange controller (C8): the single
// entry point RPC handlers call into. It validates requests, runs the
// pre-trade margin gate, submits orders to the matching instrument's book,
// applies the resulting fills to every involved account, and publishes
// trade/ticker events to the broker. Grounded on the running system's
// Exchange class (_handle_mkt_order/_handle_lmt_order/_update_account_orders/
// _update_account_positions), restated as small, individually testable
// methods instead of one sprawling dispatch function.
package controller

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"derivex/internal/account"
	"derivex/internal/book"
	"derivex/internal/broker"
	"derivex/internal/index"
	"derivex/internal/instrument"
	"derivex/internal/margin"
	"derivex/internal/markprice"
	"derivex/internal/order"
	"derivex/pkg/types"
)

// Controller wires together the account store, instrument registry, index
// bus and broker. It holds no book state of its own — every instrument's
// book lives inside its *instrument.Instrument entry in the registry.
type Controller struct {
	registry *instrument.Registry
	accounts *account.Store
	indexBus *index.Bus
	brk      *broker.Broker
	logger   *slog.Logger

	supportedCollateral []string
}

func New(reg *instrument.Registry, accts *account.Store, idx *index.Bus, brk *broker.Broker, logger *slog.Logger) *Controller {
	return &Controller{
		registry:            reg,
		accounts:            accts,
		indexBus:            idx,
		brk:                 brk,
		logger:              logger.With("component", "controller"),
		supportedCollateral: []string{"USDC"},
	}
}

func quantize(v, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return v
	}
	return v.DivRound(tick, 0).Mul(tick)
}

// ————————————————————————————————————————————————————————————————————————
// Account endpoints
// ————————————————————————————————————————————————————————————————————————

func (c *Controller) Deposit(addr, currency string, amount decimal.Decimal) types.Response {
	if !contains(c.supportedCollateral, currency) {
		return types.Failure(types.KindUnsupportedCollateral)
	}
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	a.Deposit(currency, amount)
	return types.Success(map[string]any{"currency": currency, "amount": amount})
}

func (c *Controller) Withdraw(addr, currency string, amount decimal.Decimal) types.Response {
	if !contains(c.supportedCollateral, currency) {
		return types.Failure(types.KindUnsupportedCollateral)
	}
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	if margin.AvailableMargin(a, currency).LessThan(amount) {
		return types.Failure(types.KindInsufficientMargin)
	}
	a.Withdraw(currency, amount)
	return types.Success(map[string]any{"currency": currency, "amount": amount})
}

func (c *Controller) GetCollateral(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	return types.Success(map[string]decimal.Decimal{"USDC": a.Collateral["USDC"]})
}

func (c *Controller) GetAllTrades(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	return types.Success(a.Trades)
}

func (c *Controller) GetPositions(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	c.refreshPositions(a)
	return types.Success(a.Positions)
}

func (c *Controller) GetOpenOrders(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	return types.Success(a.OpenOrders)
}

func (c *Controller) GetAccountSummary(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	c.refreshPositions(a)

	pnl := decimal.Zero
	for _, p := range a.Positions {
		pnl = pnl.Add(p.UnrealizedPnL)
	}
	required := margin.TotalRequired(a)
	equity := a.Collateral["USDC"]
	available := equity.Sub(required)

	return types.Success(map[string]any{
		"total_pl":                    pnl,
		"margin":                      available,
		"equity":                      equity,
		"currency":                    "USDC",
		"balance":                     available,
		"available_withdrawal_funds": available,
	})
}

func (c *Controller) GetAccountDetails(addr string) types.Response {
	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}
	c.refreshPositions(a)
	return types.Success(map[string]any{
		"positions":        a.Positions,
		"open_orders":      a.OpenOrders,
		"collateral":       a.Collateral["USDC"],
		"available_margin": margin.AvailableMargin(a, "USDC"),
		"trades":           a.Trades,
		"deposits":         a.Deposits,
		"withdrawals":      a.Withdrawals,
	})
}

func (c *Controller) refreshPositions(a *account.Account) {
	for name, pos := range a.Positions {
		inst, ok := c.registry.Get(name)
		if !ok {
			continue
		}
		a.RefreshPosition(name, c.markPrice(inst), c.indexPrice(inst))
		_ = pos
	}
}

func (c *Controller) markPrice(inst *instrument.Instrument) decimal.Decimal {
	idx := c.indexPrice(inst)
	switch {
	case inst.PerpBook != nil:
		return markprice.Mark(idx, inst.PerpBook.EMA(), inst.MarkClamp)
	case inst.FuturesBook != nil:
		return markprice.Mark(idx, inst.FuturesBook.EMA(), inst.MarkClamp)
	default:
		return idx
	}
}

func (c *Controller) indexPrice(inst *instrument.Instrument) decimal.Decimal {
	return c.indexBus.Price(inst.IndexBase, inst.IndexQuote)
}

// ————————————————————————————————————————————————————————————————————————
// Trading endpoints
// ————————————————————————————————————————————————————————————————————————

// PlaceOrder is the shared path for private/buy and private/sell: validate,
// margin-gate, submit to the book, apply fills to every involved account,
// and publish trade events. side/kind/tif come directly off the RPC params.
func (c *Controller) PlaceOrder(addr, instrumentName string, side types.Side, kind types.OrderKind, size, price decimal.Decimal, leverage int, tif types.TimeInForce) types.Response {
	if size.Sign() <= 0 || leverage <= 0 {
		return types.Failure(types.KindInvalidArgument)
	}

	inst, ok := c.registry.Get(instrumentName)
	if !ok || !inst.IsActive {
		return types.Failure(types.KindNotFound)
	}

	a, ok := c.accounts.GetOrCreate(addr)
	if !ok {
		return types.Failure(types.KindInvalidArgument)
	}

	gatePrice := price
	if kind == types.KindMarket {
		gatePrice = c.indexPrice(inst)
	}
	gatePrice = quantize(gatePrice, inst.TickSize)

	delta := margin.Delta(a.Positions[instrumentName], side, size, gatePrice, leverage)
	if !margin.Allows(a, "USDC", delta) {
		return types.Failure(types.KindInsufficientMargin)
	}

	base := order.Base{OrderID: newOrderID(), FromAddr: addr, CreatedTime: types.NowMicros()}
	var res book.MatchResult
	switch kind {
	case types.KindLimit:
		lim := &order.Limit{
			Market: order.Market{Base: base, Side: side, Size: size, Remaining: size, Leverage: leverage, TimeInForce: tif},
			Price:  quantize(price, inst.TickSize),
		}
		res = inst.Book().ProcessLimit(lim)
	case types.KindMarket:
		mkt := &order.Market{Base: base, Side: side, Size: size, Remaining: size, Leverage: leverage, TimeInForce: types.GTC}
		res = inst.Book().ProcessMarket(mkt)
	default:
		return types.Failure(types.KindInvalidArgument)
	}

	c.applyFills(inst, leverage, res)
	c.publishTrades(instrumentName, res.Trades)

	return types.Success(map[string]any{"order_id": base.OrderID, "trades": res.Trades})
}

// applyFills reshapes every involved account's position per trade, and
// keeps each account's open-orders map in sync with the match result.
func (c *Controller) applyFills(inst *instrument.Instrument, leverage int, res book.MatchResult) {
	mark := c.markPrice(inst)
	idx := c.indexPrice(inst)
	contractSize := inst.ContractSize

	for _, t := range res.Trades {
		takerDir, makerDir := types.DirBuy, types.DirSell
		if t.Side == types.SELL {
			takerDir, makerDir = types.DirSell, types.DirBuy
		}
		if taker, ok := c.accounts.Get(t.Taker); ok {
			taker.ApplyFill(inst.Name, takerDir, t.Size, t.Price, contractSize, mark, idx, leverage)
		}
		if maker, ok := c.accounts.Get(t.Maker); ok {
			maker.ApplyFill(inst.Name, makerDir, t.Size, t.Price, contractSize, mark, idx, leverage)
		}
	}

	for addr, snaps := range ownerSnapshots(res.Updated) {
		if a, ok := c.accounts.Get(addr); ok {
			for _, snap := range snaps {
				a.RecordOpenOrder(inst.Name, snap)
			}
		}
	}
	for addr, snaps := range ownerSnapshots(res.Filled) {
		if a, ok := c.accounts.Get(addr); ok {
			for _, snap := range snaps {
				a.RemoveOpenOrder(inst.Name, snap.OrderID)
			}
		}
	}
	for addr, snaps := range ownerSnapshots(res.Cancelled) {
		if a, ok := c.accounts.Get(addr); ok {
			for _, snap := range snaps {
				a.RemoveOpenOrder(inst.Name, snap.OrderID)
			}
		}
	}
}

// ownerSnapshots groups a set of order snapshots by the owning address,
// since the match result only tracks them by order_id.
func ownerSnapshots(m map[string]order.Snapshot) map[string][]order.Snapshot {
	out := make(map[string][]order.Snapshot, len(m))
	for _, s := range m {
		out[s.FromAddr] = append(out[s.FromAddr], s)
	}
	return out
}

func (c *Controller) publishTrades(instrumentName string, trades []types.Trade) {
	for _, t := range trades {
		c.brk.PublishTrade(instrumentName, types.TradeMessage{InstrumentName: instrumentName, Kind: "trade", Trade: t})
	}
}

// SubmitLimit and SubmitMarket skip request validation and the margin gate —
// the seeder/market-maker path, mirroring
// _marketMakerLimitOrder/_marketTakerMarketOrder — but apply fills to the
// involved accounts and publish trades exactly as PlaceOrder does.
func (c *Controller) SubmitLimit(addr, instrumentName string, side types.Side, size, price decimal.Decimal, leverage int) (string, bool) {
	inst, ok := c.registry.Get(instrumentName)
	if !ok {
		return "", false
	}
	if _, ok := c.accounts.GetOrCreate(addr); !ok {
		return "", false
	}
	id := newOrderID()
	lim := &order.Limit{
		Market: order.Market{
			Base:        order.Base{OrderID: id, FromAddr: addr, CreatedTime: types.NowMicros()},
			Side:        side,
			Size:        size,
			Remaining:   size,
			Leverage:    leverage,
			TimeInForce: types.GTC,
		},
		Price: price,
	}
	res := inst.Book().ProcessLimit(lim)
	c.applyFills(inst, leverage, res)
	c.publishTrades(instrumentName, res.Trades)
	return id, true
}

func (c *Controller) SubmitMarket(addr, instrumentName string, side types.Side, size decimal.Decimal, leverage int) (string, bool) {
	inst, ok := c.registry.Get(instrumentName)
	if !ok {
		return "", false
	}
	if _, ok := c.accounts.GetOrCreate(addr); !ok {
		return "", false
	}
	id := newOrderID()
	mkt := &order.Market{
		Base:        order.Base{OrderID: id, FromAddr: addr, CreatedTime: types.NowMicros()},
		Side:        side,
		Size:        size,
		Remaining:   size,
		Leverage:    leverage,
		TimeInForce: types.GTC,
	}
	res := inst.Book().ProcessMarket(mkt)
	c.applyFills(inst, leverage, res)
	c.publishTrades(instrumentName, res.Trades)
	return id, true
}

// ————————————————————————————————————————————————————————————————————————
// Public (market-data) endpoints
// ————————————————————————————————————————————————————————————————————————

func (c *Controller) GetOrderBook(instrumentName string, depth int) types.Response {
	inst, ok := c.registry.Get(instrumentName)
	if !ok {
		return types.Failure(types.KindNotFound)
	}
	bids, asks := inst.Book().Depth(depth)
	return types.Success(map[string]any{"bids": bids, "asks": asks})
}

func (c *Controller) GetTicker(instrumentName string) types.Response {
	inst, ok := c.registry.Get(instrumentName)
	if !ok {
		return types.Failure(types.KindNotFound)
	}
	return types.Success(c.buildTicker(inst))
}

func (c *Controller) buildTicker(inst *instrument.Instrument) types.TickerPayload {
	idx := c.indexPrice(inst)
	bidPrice, bidSize, askPrice, askSize, _, _ := inst.Book().BestBidAsk()
	bids, asks := inst.Book().Depth(10)
	return types.TickerPayload{
		Instrument:   inst.Name,
		Ready:        inst.Ready(idx),
		BestBidPrice: bidPrice,
		BestBidSize:  bidSize,
		BestAskPrice: askPrice,
		BestAskSize:  askSize,
		IndexPrice:   idx,
		MarkPrice:    c.markPrice(inst),
		LastPrice:    inst.Book().LastPrice(),
		OpenInterest: inst.Book().OpenInterest(),
		Stats:        inst.Book().Stats(),
		TopBids:      bids,
		TopAsks:      asks,
	}
}

func (c *Controller) GetIndexPrice(name string) types.Response {
	p := c.indexBus.PriceByName(name)
	if p.IsZero() {
		return types.Failure(types.KindNotFound)
	}
	return types.Success(p)
}

func (c *Controller) GetIndexPriceNames() types.Response {
	return types.Success(c.indexBus.Names())
}

// UpdateIndex is the oracle ingester's sole write path into the index bus
// (§5 "Index bus is a single-writer ... structure"), reached over RPC
// rather than a direct in-process call since the oracle is its own process.
func (c *Controller) UpdateIndex(name string, price decimal.Decimal) {
	c.indexBus.Set(name, price)
}

func (c *Controller) GetCurrencies() types.Response {
	return types.Success(c.registry.Currencies())
}

func (c *Controller) GetAllInstrumentNames() types.Response {
	return types.Success(c.registry.Names())
}

func (c *Controller) GetInstruments() types.Response {
	return types.Success(c.registry.All())
}

func (c *Controller) GetTradesByInstrument(instrumentName string) types.Response {
	inst, ok := c.registry.Get(instrumentName)
	if !ok {
		return types.Failure(types.KindNotFound)
	}
	return types.Success(inst.Book().RecentTrades())
}

func (c *Controller) HealthCheck() types.Response {
	return types.Success(map[string]string{"status": "ok"})
}

// Stats mirrors the running exchange's self.stats block: counts exposed for
// monitoring, not consumed by any matching/margin logic.
func (c *Controller) Stats() types.Response {
	currencies := c.registry.Currencies()
	names := make([]string, 0, len(currencies))
	for _, cur := range currencies {
		names = append(names, cur.Symbol)
	}

	return types.Success(map[string]any{
		"supported_currencies": names,
		"supported_collateral": c.supportedCollateral,
		"supported_indices":    c.indexBus.Names(),
		"active_instruments":   len(c.registry.Active()),
		"expired_instruments":  len(c.registry.Expired()),
		"users_count":          len(c.accounts.Addresses()),
	})
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Background publishers
// ————————————————————————————————————————————————————————————————————————

// RunTickerPublisher rebuilds and publishes every active instrument's
// ticker every 2 seconds, skipping any instrument not yet Ready (Open
// Question 5: an instrument with no index price yet stays silent rather
// than publishing a zeroed ticker).
func (c *Controller) RunTickerPublisher(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, inst := range c.registry.Active() {
				if !inst.Ready(c.indexPrice(inst)) {
					continue
				}
				payload := c.buildTicker(inst)
				c.brk.PublishPublic("ticker."+inst.Name, types.PublicEvent{Channel: "ticker." + inst.Name, Data: payload})
			}
		}
	}
}

// RunAccountBroadcaster refreshes and publishes every known account's
// positions every 2 seconds, the account-channel counterpart of the ticker
// publisher.
func (c *Controller) RunAccountBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range c.accounts.Addresses() {
				a, ok := c.accounts.Get(addr)
				if !ok {
					continue
				}
				c.refreshPositions(a)
				c.brk.PublishPublic("account."+addr, types.PublicEvent{Channel: "account." + addr, Data: a.Positions})
			}
		}
	}
}

var orderSeq uint64

// newOrderID produces a monotonically increasing, process-unique order id.
// The running system uses uuid1(); a counter is used here instead since
// crypto/rand or uuid generation is not part of the teacher's stack and a
// monotonic counter gives the same "never repeats for this process"
// guarantee the matching engine actually relies on.
func newOrderID() string {
	return "o" + itoa(atomic.AddUint64(&orderSeq, 1))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
