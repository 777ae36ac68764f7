// Package marketdata fuses a primary order-book feed with a secondary
// trade-tape feed into a single MarketSnapshot that never reports a zero
// mid. It mirrors the local-book idiom of the teacher's market package but
// adds the fallback chain spec.md §4.2 requires: primary -> secondary ->
// last-known -> emergency floor.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

const (
	primaryMaxAge   = 500 * time.Millisecond
	secondaryMaxAge = 1 * time.Second
	tradeWindow     = 100 * time.Millisecond
	emergencyMid    = "0.001"

	qualityPrimary   = 1.0
	qualitySecondary = 0.8
	qualityFallback  = 0.5
	qualityEmergency = 0.1

	spreadEstimate = "0.0001" // used to synthesize bid/ask when only a mid is known
)

// Stats counts, cumulatively since start, which path served each
// snapshot, for monitoring.
type Stats struct {
	PrimaryUsed   uint64
	SecondaryUsed uint64
	FallbackUsed  uint64
	EmergencyUsed uint64
	TotalRequests uint64
	SwitchCount   uint64
}

// Feed is the dual-path market-data fusion engine for one symbol. It is
// safe for concurrent use; the writer goroutines call Update*/AddTrade,
// the strategy goroutine calls Snapshot.
type Feed struct {
	mu sync.RWMutex

	symbol string

	primaryBid, primaryAsk decimal.Decimal
	primaryUpdatedAt       time.Time

	trades deque

	lastKnownMid decimal.Decimal

	stats      Stats
	haveSource bool
	lastSource types.Source
}

// NewFeed creates an empty dual-path feed for symbol.
func NewFeed(symbol string) *Feed {
	return &Feed{symbol: symbol}
}

// UpdateBook replaces the primary path's top of book.
func (f *Feed) UpdateBook(bid, ask decimal.Decimal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if bid.IsPositive() && ask.IsPositive() {
		f.primaryBid = bid
		f.primaryAsk = ask
		f.primaryUpdatedAt = at
		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		f.updateLastKnownLocked(mid)
	}
}

// AddTrade appends a print to the secondary path's sliding trade window.
func (f *Feed) AddTrade(price, qty decimal.Decimal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.trades.pushBack(types.TradeSample{Price: price, Qty: qty, TsNs: at.UnixNano()})
	f.trades.dropBefore(at.Add(-10 * time.Second).UnixNano())

	if price.IsPositive() {
		f.updateLastKnownLocked(price)
	}
}

func (f *Feed) updateLastKnownLocked(price decimal.Decimal) {
	if price.IsPositive() {
		f.lastKnownMid = price
	}
}

// Snapshot fuses the two paths at the given instant and returns the
// resulting MarketSnapshot. Mid is never zero: it degrades through
// primary -> secondary VWAP -> last-known -> an emergency floor price.
func (f *Feed) Snapshot(now time.Time) types.MarketSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.TotalRequests++

	mid, source, isStale := f.bestMidLocked(now)

	var bid, ask decimal.Decimal
	if f.primaryFreshLocked(now) {
		bid, ask = f.primaryBid, f.primaryAsk
	} else {
		est := decimal.RequireFromString(spreadEstimate)
		bid = mid.Mul(decimal.NewFromInt(1).Sub(est))
		ask = mid.Mul(decimal.NewFromInt(1).Add(est))
	}

	spreadBps := 0.0
	if bid.IsPositive() && ask.IsPositive() && mid.IsPositive() {
		spreadBps, _ = ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000)).Float64()
	}

	return types.MarketSnapshot{
		Symbol:    f.symbol,
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		SpreadBps: spreadBps,
		TsNs:      now.UnixNano(),
		Source:    source,
		Quality:   qualityFor(source),
		IsStale:   isStale,
	}
}

// bestMidLocked implements the four-step fallback chain. Caller holds mu.
func (f *Feed) bestMidLocked(now time.Time) (decimal.Decimal, types.Source, bool) {
	if f.primaryFreshLocked(now) {
		mid := f.primaryBid.Add(f.primaryAsk).Div(decimal.NewFromInt(2))
		if mid.IsPositive() {
			f.stats.PrimaryUsed++
			f.recordSourceLocked(types.SourcePrimary)
			return mid, types.SourcePrimary, false
		}
	}

	if f.secondaryFreshLocked(now) {
		if mid := f.vwapLocked(now); mid.IsPositive() {
			f.stats.SecondaryUsed++
			f.recordSourceLocked(types.SourceSecondary)
			return mid, types.SourceSecondary, false
		}
	}

	if f.lastKnownMid.IsPositive() {
		f.stats.FallbackUsed++
		f.recordSourceLocked(types.SourceFallback)
		return f.lastKnownMid, types.SourceFallback, true
	}

	f.stats.EmergencyUsed++
	f.recordSourceLocked(types.SourceEmergency)
	return decimal.RequireFromString(emergencyMid), types.SourceEmergency, true
}

// recordSourceLocked bumps SwitchCount whenever the chosen source differs
// from the previous tick's, mirroring the original's _track_source switch
// counter. Caller holds mu.
func (f *Feed) recordSourceLocked(source types.Source) {
	if f.haveSource && f.lastSource != source {
		f.stats.SwitchCount++
	}
	f.lastSource = source
	f.haveSource = true
}

func (f *Feed) primaryFreshLocked(now time.Time) bool {
	if !f.primaryBid.IsPositive() || !f.primaryAsk.IsPositive() {
		return false
	}
	return now.Sub(f.primaryUpdatedAt) <= primaryMaxAge
}

func (f *Feed) secondaryFreshLocked(now time.Time) bool {
	last, ok := f.trades.last()
	if !ok || !last.Price.IsPositive() {
		return false
	}
	age := now.Sub(time.Unix(0, last.TsNs))
	return age <= secondaryMaxAge
}

// vwapLocked computes the volume-weighted price over the last tradeWindow,
// falling back to the most recent print if the window is empty.
func (f *Feed) vwapLocked(now time.Time) decimal.Decimal {
	cutoff := now.Add(-tradeWindow).UnixNano()

	totalValue := decimal.Zero
	totalQty := decimal.Zero
	var lastPrice decimal.Decimal

	f.trades.forEach(func(t types.TradeSample) {
		lastPrice = t.Price
		if t.TsNs < cutoff {
			return
		}
		totalValue = totalValue.Add(t.Price.Mul(t.Qty))
		totalQty = totalQty.Add(t.Qty)
	})

	if totalQty.IsPositive() {
		return totalValue.Div(totalQty)
	}
	return lastPrice
}

// Stats returns a copy of the path-usage counters.
func (f *Feed) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

func qualityFor(source types.Source) float64 {
	switch source {
	case types.SourcePrimary:
		return qualityPrimary
	case types.SourceSecondary:
		return qualitySecondary
	case types.SourceFallback:
		return qualityFallback
	default:
		return qualityEmergency
	}
}

// deque is a small ring-free sliding window of trade samples; the teacher
// has no direct equivalent so this follows the original's bounded-deque
// idiom re-expressed as a plain slice, good enough at the engine's message
// rates and avoiding a new dependency for a 1000-element ring buffer.
type deque struct {
	items []types.TradeSample
}

func (d *deque) pushBack(t types.TradeSample) {
	d.items = append(d.items, t)
	if len(d.items) > 1000 {
		d.items = d.items[len(d.items)-1000:]
	}
}

func (d *deque) dropBefore(cutoffNs int64) {
	i := 0
	for i < len(d.items) && d.items[i].TsNs < cutoffNs {
		i++
	}
	if i > 0 {
		d.items = d.items[i:]
	}
}

func (d *deque) last() (types.TradeSample, bool) {
	if len(d.items) == 0 {
		return types.TradeSample{}, false
	}
	return d.items[len(d.items)-1], true
}

func (d *deque) forEach(fn func(types.TradeSample)) {
	for _, t := range d.items {
		fn(t)
	}
}
