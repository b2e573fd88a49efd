// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange — order sides,
// instrument codes, the RPC envelope, and broker/WebSocket payload shapes.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// TimeInForce enumerates the supported order lifecycles.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
	IOC TimeInForce = "IOC" // Immediate-Or-Cancel: any residual is discarded, never rested
)

// OrderKind distinguishes limit orders from market orders for dispatch.
type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

// Direction is the sign of a position, reported to clients alongside size.
type Direction string

const (
	DirBuy  Direction = "buy"
	DirSell Direction = "sell"
	DirZero Direction = "zero"
)

// InstrumentCode enumerates the contract families the registry can hold.
// Only USD_M_PERP and USD_M_FUTURE have live matching/mark-price loops;
// SPOT and USD_M_OPTION are carried as data-model completeness only (no
// option pricing is in scope).
type InstrumentCode string

const (
	CodeSpot        InstrumentCode = "SPOT"
	CodeUSDMPerp    InstrumentCode = "USD_M_PERP"
	CodeUSDMFuture  InstrumentCode = "USD_M_FUTURE"
	CodeUSDMOption  InstrumentCode = "USD_M_OPTION"
)

// ————————————————————————————————————————————————————————————————————————
// Errors
// ————————————————————————————————————————————————————————————————————————

// Kind is the error taxonomy surfaced over RPC as {status:"failure", response:<kind>}.
type Kind string

const (
	KindInvalidArgument     Kind = "invalid-argument"
	KindInsufficientMargin  Kind = "insufficient-margin"
	KindUnsupportedCollateral Kind = "unsupported-collateral"
	KindNotFound            Kind = "not-found"
	KindUnavailable         Kind = "unavailable"
)

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is an immutable fill record. Timestamp is microseconds since epoch;
// Price is always the resting (maker) order's price.
type Trade struct {
	Timestamp      int64           `json:"timestamp"`
	Side           Side            `json:"side"` // side of the aggressor
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"`
	Taker          string          `json:"taker"`
	Maker          string          `json:"maker"`
	IncomingOrderID string         `json:"incoming_order_id"`
	BookOrderID    string          `json:"book_order_id"`
}

// ————————————————————————————————————————————————————————————————————————
// RPC envelope
// ————————————————————————————————————————————————————————————————————————

// Request is the JSON-RPC-style call envelope accepted on POST /api/.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  map[string]any  `json:"params"`
}

// Response wraps every RPC result: "success" with a payload, or "failure"
// with an error Kind string.
type Response struct {
	Status   string `json:"status"` // "success" | "failure"
	Response any    `json:"response"`
}

func Success(payload any) Response {
	return Response{Status: "success", Response: payload}
}

func Failure(kind Kind) Response {
	return Response{Status: "failure", Response: string(kind)}
}

// ————————————————————————————————————————————————————————————————————————
// Broker / WebSocket payloads
// ————————————————————————————————————————————————————————————————————————

// TradeMessage is published on the "trades" broker topic, one per trade.
type TradeMessage struct {
	InstrumentName string `json:"instrument_name"`
	Kind           string `json:"kind"`
	Trade          Trade  `json:"trade"`
}

// PublicEvent is published on the "public_subs" broker topic. The controller
// publishes it on "ticker.<instrument>" and "account.<address>" channels;
// nothing in this module publishes "price_index.<index>",
// "orderbook.<instrument>" or "chart.trade.<instrument>" events.
type PublicEvent struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// TickerPayload is the per-instrument snapshot assembled every 2 seconds.
type TickerPayload struct {
	Instrument   string          `json:"instrument"`
	Ready        bool            `json:"ready"`
	BestBidPrice decimal.Decimal `json:"best_bid_price"`
	BestBidSize  decimal.Decimal `json:"best_bid_size"`
	BestAskPrice decimal.Decimal `json:"best_ask_price"`
	BestAskSize  decimal.Decimal `json:"best_ask_size"`
	IndexPrice   decimal.Decimal `json:"index_price"`
	MarkPrice    decimal.Decimal `json:"mark_price"`
	LastPrice    decimal.Decimal `json:"last_price"`
	OpenInterest decimal.Decimal `json:"open_interest"`
	Stats        BookStats       `json:"stats"`
	TopBids      []PriceLevel    `json:"top_bids"`
	TopAsks      []PriceLevel    `json:"top_asks"`
}

// PriceLevel is a single aggregated price/size pair used in depth snapshots.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookStats is the rolling 5s-refreshed window reported in the ticker; no
// orderbook channel carries it.
type BookStats struct {
	VolumeBase  decimal.Decimal `json:"volume_base"`
	VolumeQuote decimal.Decimal `json:"volume_quote"`
	PriceChange decimal.Decimal `json:"price_change"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
}

// ChartRequest/ChartResponse form the request/response pair exchanged on the
// "chartReqs"/"responses" broker topics between the exchange and cmd/chartagg.
type ChartRequest struct {
	RequestID  string `json:"request_id"`
	Instrument string `json:"instrument"`
	FromMs     int64  `json:"from_ms"`
	ToMs       int64  `json:"to_ms"`
	Resolution string `json:"resolution"`
}

type ChartBar struct {
	TimeMs int64           `json:"time_ms"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type ChartResponse struct {
	RequestID string     `json:"request_id"`
	Bars      []ChartBar `json:"bars"`
}

// IndexUpdate is pushed by cmd/oracle into the exchange's index bus over RPC.
type IndexUpdate struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	AtMs  int64           `json:"at_ms"`
}

// NowMicros returns the current time as microseconds since epoch, the unit
// used for order/trade timestamps throughout the system.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
