// Package ohlc aggregates trades into fixed 5-second base-resolution bars
// and resamples them to a caller-requested resolution on query (C9).
// Grounded on the running system's chart consumer: a frontier/row_flag/
// start_flag state machine that opens a new bar on the first trade inside
// each 5-second window, updates it in place for subsequent trades in the
// same window, and synthesizes a flat (zero-volume) bar at the last close
// price if no trade arrived during a window at all.
package ohlc

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"derivex/pkg/types"
)

const baseResolution = 5 * time.Second

// Bar is one OHLC bucket; TimeMs is the bucket's floor-aligned start.
type Bar struct {
	TimeMs int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

func floorMs(t time.Time, res time.Duration) int64 {
	ms := t.UnixMilli()
	step := res.Milliseconds()
	return (ms / step) * step
}

// series is one instrument's bar history plus the state machine that
// decides whether the next trade opens a new bar or updates the current one.
type series struct {
	mu       sync.Mutex
	frontier int64 // ms
	rowFlag  bool  // true: no bar opened yet for [frontier, frontier+5s)
	bars     []Bar // append-only, oldest first
}

func newSeries(frontier int64) *series {
	return &series{frontier: frontier, rowFlag: true}
}

// PublishFunc is called once per bar mutation (new bar or in-place update),
// letting the caller fan the bar out over the broker without this package
// importing it.
type PublishFunc func(instrumentName string, bar Bar)

// Aggregator owns one series per instrument.
type Aggregator struct {
	mu       sync.RWMutex
	series   map[string]*series
	publish  PublishFunc
}

func New(publish PublishFunc) *Aggregator {
	return &Aggregator{series: make(map[string]*series), publish: publish}
}

func (a *Aggregator) seriesFor(instrumentName string) *series {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.series[instrumentName]
	if !ok {
		s = newSeries(floorMs(time.Now(), baseResolution))
		a.series[instrumentName] = s
	}
	return s
}

// ProcessTrade feeds one trade into instrumentName's series: it opens a new
// bar if the series has no bar yet for the current window, else it updates
// the open bar's high/low/close/volume in place.
func (a *Aggregator) ProcessTrade(instrumentName string, timestampMicros int64, price, size decimal.Decimal) {
	s := a.seriesFor(instrumentName)
	tickMs := timestampMicros / 1000

	s.mu.Lock()
	var bar Bar
	if s.rowFlag && tickMs >= s.frontier {
		bar = Bar{TimeMs: s.frontier, Open: price, High: price, Low: price, Close: price, Volume: size}
		s.bars = append(s.bars, bar)
		s.rowFlag = false
	} else if len(s.bars) > 0 {
		last := &s.bars[len(s.bars)-1]
		if price.GreaterThan(last.High) {
			last.High = price
		}
		if price.LessThan(last.Low) {
			last.Low = price
		}
		last.Close = price
		last.Volume = last.Volume.Add(size)
		bar = *last
	} else {
		bar = Bar{TimeMs: s.frontier, Open: price, High: price, Low: price, Close: price, Volume: size}
		s.bars = append(s.bars, bar)
		s.rowFlag = false
	}
	s.mu.Unlock()

	if a.publish != nil {
		a.publish(instrumentName, bar)
	}
}

// RunOnClose runs the base-resolution close loop: every 5 seconds, any
// series that received no trade during the window gets a synthetic
// flat/zero-volume bar at its last close, then every series' frontier
// advances to the new window.
func (a *Aggregator) RunOnClose(ctx context.Context) {
	ticker := time.NewTicker(baseResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.onClose(now)
		}
	}
}

func (a *Aggregator) onClose(now time.Time) {
	a.mu.RLock()
	all := make(map[string]*series, len(a.series))
	for name, s := range a.series {
		all[name] = s
	}
	a.mu.RUnlock()

	nextFrontier := floorMs(now, baseResolution)

	for name, s := range all {
		s.mu.Lock()
		if s.rowFlag && len(s.bars) > 0 {
			lastClose := s.bars[len(s.bars)-1].Close
			flat := Bar{TimeMs: s.frontier, Open: lastClose, High: lastClose, Low: lastClose, Close: lastClose, Volume: decimal.Zero}
			s.bars = append(s.bars, flat)
			if a.publish != nil {
				a.publish(name, flat)
			}
		}
		s.rowFlag = true
		s.frontier = nextFrontier
		s.mu.Unlock()
	}
}

// ParseResolution turns a chart request's resolution string into a bucket
// duration: a bare integer is minutes (matching the running system's
// `str(int(resolution)) + "min"` coercion); "Ns"/"Nmin"/"Nh" suffixes are
// accepted directly.
func ParseResolution(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, true
	}

	lower := strings.ToLower(s)
	for _, suffix := range []struct {
		tag  string
		unit time.Duration
	}{
		{"min", time.Minute},
		{"h", time.Hour},
		{"s", time.Second},
	} {
		if strings.HasSuffix(lower, suffix.tag) {
			n, err := strconv.Atoi(strings.TrimSuffix(lower, suffix.tag))
			if err != nil {
				continue
			}
			return time.Duration(n) * suffix.unit, true
		}
	}
	return 0, false
}

// Resample rebuilds instrumentName's base-resolution bars into buckets of
// the requested resolution, restricted to [fromMs, toMs], using
// open=first/high=max/low=min/close=last/volume=sum per bucket — the same
// aggregation the running system's pandas .resample(...).agg(...) applies.
func (a *Aggregator) Resample(instrumentName string, fromMs, toMs int64, resolution time.Duration) []types.ChartBar {
	a.mu.RLock()
	s, ok := a.series[instrumentName]
	a.mu.RUnlock()
	if !ok || resolution <= 0 {
		return nil
	}

	s.mu.Lock()
	bars := make([]Bar, len(s.bars))
	copy(bars, s.bars)
	s.mu.Unlock()

	stepMs := resolution.Milliseconds()
	buckets := make(map[int64]*types.ChartBar)
	var order []int64

	for _, b := range bars {
		bucketTime := (b.TimeMs / stepMs) * stepMs
		cb, ok := buckets[bucketTime]
		if !ok {
			cb = &types.ChartBar{TimeMs: bucketTime, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			buckets[bucketTime] = cb
			order = append(order, bucketTime)
			continue
		}
		if b.High.GreaterThan(cb.High) {
			cb.High = b.High
		}
		if b.Low.LessThan(cb.Low) {
			cb.Low = b.Low
		}
		cb.Close = b.Close
		cb.Volume = cb.Volume.Add(b.Volume)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]types.ChartBar, 0, len(order))
	for _, t := range order {
		if t < fromMs || t > toMs {
			continue
		}
		out = append(out, *buckets[t])
	}
	return out
}
