// Package markprice runs the background EMA and funding-rate loops (C3):
// fair impact price, dated-futures EMA, perpetual EMA, and the perpetual
// funding rate. These loops only ever read a book (best-bid/ask and level
// walks) and write back to the book's own ema/funding fields — never to the
// resting orders or aggregates, which remain the matching goroutine's alone.
package markprice

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"derivex/internal/book"
	"derivex/internal/order"
	"derivex/pkg/types"
)

const emaAlpha = 2.0 / 31.0

// FairImpactPrice walks side s of b in priority order and returns the
// volume-weighted price required to absorb impactNotional of notional (§4.2
// "Fair impact price"), or zero if the book can't supply enough depth to
// make the computation well-defined.
func FairImpactPrice(b *book.Book, s types.Side, contractSize, impactNotional decimal.Decimal) decimal.Decimal {
	var runningNotional, runningSize, lastLevel, lastSize decimal.Decimal
	contractSize = nonZero(contractSize)

	b.WalkSide(s, func(o *order.Limit) bool {
		contribution := o.Remaining.Mul(o.Price).Div(contractSize)
		if runningNotional.Add(contribution).GreaterThanOrEqual(impactNotional) {
			return false
		}
		runningNotional = runningNotional.Add(contribution)
		runningSize = runningSize.Add(o.Remaining)
		lastLevel = contribution
		lastSize = o.Remaining
		return true
	})

	denomLeft := runningNotional.Sub(lastLevel)
	denomRight := runningSize.Sub(lastSize)
	if denomLeft.IsZero() && denomRight.IsZero() {
		return decimal.Zero
	}

	denom := impactNotional.Sub(runningNotional).Div(denomLeft).Add(denomRight)
	if denom.IsZero() {
		return decimal.Zero
	}
	return impactNotional.Div(denom)
}

func nonZero(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d
}

// Mark computes the mark price from an index price and an EMA deviation,
// clamped to ±clamp of the index (§4.2 "Mark price from EMA").
func Mark(indexPrice decimal.Decimal, ema float64, clamp decimal.Decimal) decimal.Decimal {
	emaDec := decimal.NewFromFloat(ema)
	bound := indexPrice.Mul(clamp)

	if emaDec.GreaterThanOrEqual(bound) {
		return indexPrice.Mul(decimal.NewFromInt(1).Add(clamp))
	}
	if emaDec.LessThanOrEqual(bound.Neg()) {
		return indexPrice.Mul(decimal.NewFromInt(1).Sub(clamp))
	}
	return indexPrice.Add(emaDec)
}

// IndexFunc resolves an instrument's current index price; supplied by the
// caller so this package never imports internal/index directly (it only
// needs a single number per tick).
type IndexFunc func() decimal.Decimal

// RunFuturesEMA runs the once-per-second dated-futures EMA loop (§4.2
// "Dated futures EMA") until ctx is cancelled.
func RunFuturesEMA(ctx context.Context, fb *book.FuturesBook, indexOf IndexFunc, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stepFuturesEMA(fb, indexOf())
		}
	}
}

func stepFuturesEMA(fb *book.FuturesBook, indexPrice decimal.Decimal) {
	bidPrice, _, askPrice, _, hasBid, hasAsk := fb.Book.BestBidAsk()
	p := fb.Book.LastPrice()

	if hasBid && p.LessThan(bidPrice) {
		p = bidPrice
	}
	if hasAsk && p.GreaterThan(askPrice) {
		p = askPrice
	}

	deviation, _ := p.Sub(indexPrice).Float64()
	fb.SetEMA(deviation*emaAlpha + fb.EMA()*(1-emaAlpha))
}

// RunPerpEMA runs the once-per-second perpetual EMA loop (§4.2 "Perpetual EMA").
func RunPerpEMA(ctx context.Context, pb *book.PerpBook, indexOf IndexFunc, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stepPerpEMA(pb, indexOf())
		}
	}
}

func stepPerpEMA(pb *book.PerpBook, indexPrice decimal.Decimal) {
	fairBid := FairImpactPrice(&pb.Book, types.BUY, pb.ContractSize, pb.ImpactNotional)
	fairAsk := FairImpactPrice(&pb.Book, types.SELL, pb.ContractSize, pb.ImpactNotional)

	mid := fairBid.Add(fairAsk).Div(decimal.NewFromInt(2))
	deviation, _ := mid.Sub(indexPrice).Float64()
	pb.SetEMA(deviation*emaAlpha + pb.EMA()*(1-emaAlpha))
}

// cycleSamples is the number of 5-second premium-index samples per 8-hour
// funding cycle: 8h × 3600s/h ÷ 5s = 5760.
const cycleSamples = 5760

const interestRate = 0.01

// RunFunding runs the perpetual funding-rate loop (§4.2 "Funding rate"): one
// 8-hour cycle of 5760 samples taken every 5 seconds, each recomputing a
// time-weighted average premium index and a clamped candidate funding rate.
func RunFunding(ctx context.Context, pb *book.PerpBook, indexOf IndexFunc, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var avgPremium float64
	var countTotal int

	sample := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			index := indexOf()
			if index.IsZero() {
				pb.SetFundingRate(interestRate / 100)
				continue
			}

			fairBid := FairImpactPrice(&pb.Book, types.BUY, pb.ContractSize, pb.ImpactNotional)
			fairAsk := FairImpactPrice(&pb.Book, types.SELL, pb.ContractSize, pb.ImpactNotional)

			premium := premiumIndex(fairBid, fairAsk, index)
			weight := sample + 1
			avgPremium = (avgPremium*float64(countTotal) + float64(weight)*premium) / float64(countTotal+weight)
			countTotal += weight

			pb.SetFundingRate(clampFunding(avgPremium) / 100)

			sample++
			if sample >= cycleSamples {
				sample = 0
				avgPremium = 0
				countTotal = 0
			}
		}
	}
}

func premiumIndex(fairBid, fairAsk, index decimal.Decimal) float64 {
	upside := decimal.Max(decimal.Zero, fairBid.Sub(index))
	downside := decimal.Max(decimal.Zero, index.Sub(fairAsk))
	v, _ := upside.Sub(downside).Div(index).Float64()
	return v
}

func clampFunding(avgPremium float64) float64 {
	f := interestRate
	if interestRate-avgPremium < -0.05 {
		f = avgPremium + 0.05
	} else if interestRate-avgPremium > 0.05 {
		f = avgPremium - 0.05
	}
	if f < -0.75 {
		f = -0.75
	} else if f > 0.75 {
		f = 0.75
	}
	return f
}
