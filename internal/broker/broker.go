// Package broker is the in-process publish/subscribe layer that decouples
// the matching/margin core from its transports: the WebSocket gateway
// relays broker messages to browser clients, and the chart aggregator
// consumes the trade stream over the feed client. Grounded on the teacher's
// WebSocket Hub (register/unregister/broadcast channels), generalized from
// one global broadcast channel to one channel-set per topic key so each
// instrument/channel id fans out independently.
package broker

import (
	"sync"

	"derivex/pkg/types"
)

// Topic names the three classes of message this system fans out.
type Topic string

const (
	TopicTrades    Topic = "trades"
	TopicPublic    Topic = "public_subs"
	TopicChartReq  Topic = "chartReqs"
	TopicChartResp Topic = "responses"
)

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
}

// topicBus is a single topic's fan-out: one buffered channel per
// subscriber, keyed by an opaque subscription id so Unsubscribe is O(1).
type topicBus[T any] struct {
	mu   sync.RWMutex
	subs map[int]*subscriber[T]
	next int
}

func newTopicBus[T any]() *topicBus[T] {
	return &topicBus[T]{subs: make(map[int]*subscriber[T])}
}

func (b *topicBus[T]) subscribe(buf int) (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	s := &subscriber[T]{ch: make(chan T, buf), done: make(chan struct{})}
	b.subs[id] = s
	return id, s.ch
}

func (b *topicBus[T]) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		close(s.ch)
		delete(b.subs, id)
	}
}

func (b *topicBus[T]) publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- v:
		default:
			// slow subscriber: drop rather than block the publisher, matching
			// the teacher hub's "client can't keep up" behavior.
		}
	}
}

func (b *topicBus[T]) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broker fans out trades, ticker/index/orderbook/account updates
// ("public_subs"), and chart request/response pairs, each keyed by a
// channel id (an instrument name, an account address, or a chart request
// id depending on the topic).
type Broker struct {
	mu      sync.RWMutex
	trades  map[string]*topicBus[types.TradeMessage]
	public  map[string]*topicBus[types.PublicEvent]
	chartRq map[string]*topicBus[types.ChartRequest]
	chartRs map[string]*topicBus[types.ChartResponse]
}

func New() *Broker {
	return &Broker{
		trades:  make(map[string]*topicBus[types.TradeMessage]),
		public:  make(map[string]*topicBus[types.PublicEvent]),
		chartRq: make(map[string]*topicBus[types.ChartRequest]),
		chartRs: make(map[string]*topicBus[types.ChartResponse]),
	}
}

func busFor[T any](b *Broker, m map[string]*topicBus[T], key string) *topicBus[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := m[key]
	if !ok {
		t = newTopicBus[T]()
		m[key] = t
	}
	return t
}

// PublishTrade fans a trade out to every subscriber of instrumentName's
// trade channel.
func (b *Broker) PublishTrade(instrumentName string, msg types.TradeMessage) {
	busFor(b, b.trades, instrumentName).publish(msg)
}

// SubscribeTrades returns a channel of trades for instrumentName and an
// unsubscribe function.
func (b *Broker) SubscribeTrades(instrumentName string) (<-chan types.TradeMessage, func()) {
	bus := busFor(b, b.trades, instrumentName)
	id, ch := bus.subscribe(64)
	return ch, func() { bus.unsubscribe(id) }
}

// PublishPublic fans out a ticker/index/orderbook/account event keyed by
// channel id (an instrument name for ticker/index/orderbook, an address for
// account updates).
func (b *Broker) PublishPublic(channelID string, evt types.PublicEvent) {
	busFor(b, b.public, channelID).publish(evt)
}

func (b *Broker) SubscribePublic(channelID string) (<-chan types.PublicEvent, func()) {
	bus := busFor(b, b.public, channelID)
	id, ch := bus.subscribe(64)
	return ch, func() { bus.unsubscribe(id) }
}

// PublishChartRequest and PublishChartResponse let the chart aggregator and
// its callers exchange OHLC queries without a direct dependency on each
// other's package.
func (b *Broker) PublishChartRequest(channelID string, req types.ChartRequest) {
	busFor(b, b.chartRq, channelID).publish(req)
}

func (b *Broker) SubscribeChartRequests(channelID string) (<-chan types.ChartRequest, func()) {
	bus := busFor(b, b.chartRq, channelID)
	id, ch := bus.subscribe(16)
	return ch, func() { bus.unsubscribe(id) }
}

func (b *Broker) PublishChartResponse(channelID string, resp types.ChartResponse) {
	busFor(b, b.chartRs, channelID).publish(resp)
}

func (b *Broker) SubscribeChartResponses(channelID string) (<-chan types.ChartResponse, func()) {
	bus := busFor(b, b.chartRs, channelID)
	id, ch := bus.subscribe(16)
	return ch, func() { bus.unsubscribe(id) }
}

// SubscriberCount reports how many live subscribers a public channel id
// has.
func (b *Broker) SubscriberCount(channelID string) int {
	b.mu.RLock()
	bus, ok := b.public[channelID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return bus.count()
}
