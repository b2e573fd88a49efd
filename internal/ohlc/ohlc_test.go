package ohlc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestProcessTradeOpensNewBarThenUpdatesInPlace(t *testing.T) {
	t.Parallel()

	a := New(nil)
	s := a.seriesFor("BTCUSD-PERP")
	s.frontier = 1_000_000 // ms
	s.rowFlag = true

	a.ProcessTrade("BTCUSD-PERP", 1_000_000_000, dec("100"), dec("2"))
	if len(s.bars) != 1 {
		t.Fatalf("bars = %d, want 1 after first trade", len(s.bars))
	}
	first := s.bars[0]
	if !first.Open.Equal(dec("100")) || !first.Close.Equal(dec("100")) || !first.Volume.Equal(dec("2")) {
		t.Fatalf("first bar = %+v, want O=C=100 V=2", first)
	}

	a.ProcessTrade("BTCUSD-PERP", 1_000_002_000, dec("105"), dec("1"))
	if len(s.bars) != 1 {
		t.Fatalf("bars = %d, want still 1 (same window)", len(s.bars))
	}
	updated := s.bars[0]
	if !updated.High.Equal(dec("105")) || !updated.Close.Equal(dec("105")) || !updated.Volume.Equal(dec("3")) {
		t.Fatalf("updated bar = %+v, want H=C=105 V=3", updated)
	}

	a.ProcessTrade("BTCUSD-PERP", 1_000_001_000, dec("95"), dec("1"))
	updated = s.bars[0]
	if !updated.Low.Equal(dec("95")) {
		t.Fatalf("Low = %s, want 95", updated.Low)
	}
}

func TestOnCloseSynthesizesFlatBarWhenNoTradeArrived(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.ProcessTrade("ETHUSD-PERP", time.Now().UnixMicro(), dec("2000"), dec("1"))

	s := a.seriesFor("ETHUSD-PERP")

	// First close after the trade's window just confirms the bar that trade
	// already opened; it must not synthesize anything.
	a.onClose(time.Now().Add(baseResolution))

	s.mu.Lock()
	lastClose := s.bars[len(s.bars)-1].Close
	barsBefore := len(s.bars)
	s.mu.Unlock()

	// Second close with no intervening trade: the window is empty, so a flat
	// bar carrying the last close forward must be appended.
	a.onClose(time.Now().Add(2 * baseResolution))

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) != barsBefore+1 {
		t.Fatalf("bars = %d, want %d after a trade-less close", len(s.bars), barsBefore+1)
	}
	flat := s.bars[len(s.bars)-1]
	if !flat.Open.Equal(lastClose) || !flat.High.Equal(lastClose) || !flat.Low.Equal(lastClose) || !flat.Close.Equal(lastClose) {
		t.Fatalf("flat bar = %+v, want OHLC all = %s", flat, lastClose)
	}
	if !flat.Volume.IsZero() {
		t.Errorf("flat bar volume = %s, want 0", flat.Volume)
	}
	if !s.rowFlag {
		t.Error("rowFlag must be reset to true after onClose")
	}
}

func TestOnCloseSkipsInstrumentThatAlreadyHasABarThisWindow(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.ProcessTrade("BTCUSD-PERP", time.Now().UnixMicro(), dec("100"), dec("1"))

	s := a.seriesFor("BTCUSD-PERP")
	s.mu.Lock()
	barsBefore := len(s.bars)
	s.mu.Unlock()

	a.onClose(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) != barsBefore {
		t.Fatalf("bars = %d, want unchanged at %d: a bar already opened this window", len(s.bars), barsBefore)
	}
}

func TestParseResolution(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5", 5 * time.Minute, true},
		{"15", 15 * time.Minute, true},
		{"1min", time.Minute, true},
		{"1h", time.Hour, true},
		{"30s", 30 * time.Second, true},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseResolution(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseResolution(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

// Scenario: three 5-second base bars inside one 15-second window resample to
// a single bar whose open is the first bar's open, close is the last bar's
// close, high/low are the window extremes, and volume is the window sum.
func TestResampleAggregatesAcrossBaseBars(t *testing.T) {
	t.Parallel()

	a := New(nil)
	s := a.seriesFor("BTCUSD-PERP")
	s.mu.Lock()
	s.bars = []Bar{
		{TimeMs: 0, Open: dec("100"), High: dec("110"), Low: dec("95"), Close: dec("105"), Volume: dec("1")},
		{TimeMs: 5000, Open: dec("105"), High: dec("120"), Low: dec("100"), Close: dec("115"), Volume: dec("2")},
		{TimeMs: 10000, Open: dec("115"), High: dec("118"), Low: dec("90"), Close: dec("92"), Volume: dec("3")},
	}
	s.mu.Unlock()

	bars := a.Resample("BTCUSD-PERP", 0, 14999, 15*time.Second)
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}
	got := bars[0]
	if !got.Open.Equal(dec("100")) {
		t.Errorf("Open = %s, want 100", got.Open)
	}
	if !got.Close.Equal(dec("92")) {
		t.Errorf("Close = %s, want 92", got.Close)
	}
	if !got.High.Equal(dec("120")) {
		t.Errorf("High = %s, want 120", got.High)
	}
	if !got.Low.Equal(dec("90")) {
		t.Errorf("Low = %s, want 90", got.Low)
	}
	if !got.Volume.Equal(dec("6")) {
		t.Errorf("Volume = %s, want 6", got.Volume)
	}
}

func TestResampleFiltersToWindow(t *testing.T) {
	t.Parallel()

	a := New(nil)
	s := a.seriesFor("BTCUSD-PERP")
	s.mu.Lock()
	s.bars = []Bar{
		{TimeMs: 0, Open: dec("100"), High: dec("100"), Low: dec("100"), Close: dec("100"), Volume: dec("1")},
		{TimeMs: 60000, Open: dec("200"), High: dec("200"), Low: dec("200"), Close: dec("200"), Volume: dec("1")},
	}
	s.mu.Unlock()

	bars := a.Resample("BTCUSD-PERP", 30000, 90000, time.Minute)
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1 (only the second bucket is in range)", len(bars))
	}
	if bars[0].TimeMs != 60000 {
		t.Errorf("TimeMs = %d, want 60000", bars[0].TimeMs)
	}
}

func TestResampleUnknownInstrumentReturnsNil(t *testing.T) {
	t.Parallel()

	a := New(nil)
	if bars := a.Resample("NOPE", 0, 1000, time.Minute); bars != nil {
		t.Errorf("bars = %v, want nil for an unknown instrument", bars)
	}
}

// Literal scenario: three trades on ETH inside one 5-second window at
// frontier F: (F+1s,100,1), (F+2s,105,2), (F+3s,98,1). The scheduler closes
// the bar at F+5s. Expected base bar (F,100,105,98,98,4); resampled at 1min
// over a window spanning F, the first resampled bar is open=100 high=105
// low=98 close=98 volume=4.
func TestOHLCResampleScenario(t *testing.T) {
	t.Parallel()

	const frontierMs = 1_700_000_040_000
	a := New(nil)
	s := a.seriesFor("ETHUSD-PERP")
	s.mu.Lock()
	s.frontier = frontierMs
	s.rowFlag = true
	s.mu.Unlock()

	a.ProcessTrade("ETHUSD-PERP", (frontierMs+1000)*1000, dec("100"), dec("1"))
	a.ProcessTrade("ETHUSD-PERP", (frontierMs+2000)*1000, dec("105"), dec("2"))
	a.ProcessTrade("ETHUSD-PERP", (frontierMs+3000)*1000, dec("98"), dec("1"))

	s.mu.Lock()
	if len(s.bars) != 1 {
		t.Fatalf("bars = %d, want 1 base bar for the window", len(s.bars))
	}
	base := s.bars[0]
	s.mu.Unlock()

	if !base.Open.Equal(dec("100")) || !base.High.Equal(dec("105")) || !base.Low.Equal(dec("98")) ||
		!base.Close.Equal(dec("98")) || !base.Volume.Equal(dec("4")) {
		t.Fatalf("base bar = %+v, want (100,105,98,98,4)", base)
	}

	res, ok := ParseResolution("1min")
	if !ok {
		t.Fatal("ParseResolution(1min) failed")
	}
	resampled := a.Resample("ETHUSD-PERP", frontierMs, frontierMs+59_999, res)
	if len(resampled) != 1 {
		t.Fatalf("resampled = %d bars, want 1", len(resampled))
	}
	got := resampled[0]
	if !got.Open.Equal(dec("100")) || !got.High.Equal(dec("105")) || !got.Low.Equal(dec("98")) ||
		!got.Close.Equal(dec("98")) || !got.Volume.Equal(dec("4")) {
		t.Fatalf("resampled bar = %+v, want (100,105,98,98,4)", got)
	}
}

func TestProcessTradePublishesEachMutation(t *testing.T) {
	t.Parallel()

	var published []Bar
	a := New(func(instrumentName string, bar Bar) {
		published = append(published, bar)
	})

	a.ProcessTrade("BTCUSD-PERP", time.Now().UnixMicro(), dec("100"), dec("1"))
	a.ProcessTrade("BTCUSD-PERP", time.Now().UnixMicro(), dec("101"), dec("1"))

	if len(published) != 2 {
		t.Fatalf("published = %d callbacks, want 2", len(published))
	}
}
