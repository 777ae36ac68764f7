// Package quantize enforces exchange precision and minimum-size rules on
// prices and quantities before an order leaves the planner.
package quantize

import (
	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

// Price quantizes px to the tick grid away from mid on the maker side: a
// buy floors (never pays more than quoted) and a sell ceils (never sells
// for less than quoted). Rounding toward the mid on either side would
// silently tighten the spread past what the caller asked for.
func Price(side types.Side, px, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return px
	}
	if side == types.Sell {
		return px.Div(tick).Ceil().Mul(tick)
	}
	return px.Div(tick).Floor().Mul(tick)
}

// Qty floors qty to the nearest step below it.
func Qty(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	steps := qty.Div(step).Floor()
	return steps.Mul(step)
}

// MinQtyForNotional returns the smallest step-aligned qty whose notional at
// price meets minNotional.
func MinQtyForNotional(price, minNotional, step decimal.Decimal) decimal.Decimal {
	if price.IsZero() || step.IsZero() {
		return decimal.Zero
	}
	need := minNotional.Div(price)
	steps := need.Div(step).Round(0)
	if steps.Mul(step).Mul(price).LessThan(minNotional) {
		steps = steps.Add(decimal.NewFromInt(1))
	}
	return steps.Mul(step)
}

// Sanitize quantizes price and qty against filters, bumps qty up to
// MinQty and MinNotional if the raw order undershoots either, and returns
// the final (price, qty, notional) triple. It never returns a qty that
// violates MinQty/MinNotional; a caller must separately check MaxQty/
// MaxPrice since those are rejections, not corrections. Price rounds
// away from mid on side's maker side (floor for Buy, ceil for Sell).
func Sanitize(side types.Side, price, qty decimal.Decimal, f types.SymbolFilters) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	priceQ := Price(side, price, f.TickSize)
	qtyQ := Qty(qty, f.StepSize)

	if qtyQ.LessThan(f.MinQty) {
		qtyQ = Qty(f.MinQty, f.StepSize)
	}

	notional := priceQ.Mul(qtyQ)
	if notional.LessThan(f.MinNotional) {
		needQty := MinQtyForNotional(priceQ, f.MinNotional, f.StepSize)
		qtyQ = Qty(needQty, f.StepSize)
		notional = priceQ.Mul(qtyQ)
	}

	return priceQ, qtyQ, notional
}

// WithinBounds reports whether a sanitized order respects the filters'
// MaxQty/MinPrice/MaxPrice rejection limits (the ones Sanitize cannot
// correct by rounding).
func WithinBounds(price, qty decimal.Decimal, f types.SymbolFilters) bool {
	if !f.MaxQty.IsZero() && qty.GreaterThan(f.MaxQty) {
		return false
	}
	if !f.MinPrice.IsZero() && price.LessThan(f.MinPrice) {
		return false
	}
	if !f.MaxPrice.IsZero() && price.GreaterThan(f.MaxPrice) {
		return false
	}
	return true
}

// MakerGuard snaps a price at least safetyTicks*tick away from mid on the
// maker side, so a post-only order can never cross and get rejected or
// filled as taker. For a buy this means px <= mid - safetyTicks*tick; for
// a sell px >= mid + safetyTicks*tick.
func MakerGuard(side types.Side, price, mid, tick decimal.Decimal, safetyTicks int) decimal.Decimal {
	if safetyTicks <= 0 || tick.IsZero() {
		return price
	}
	offset := tick.Mul(decimal.NewFromInt(int64(safetyTicks)))

	switch side {
	case types.Buy:
		limit := mid.Sub(offset)
		if price.GreaterThan(limit) {
			return Price(types.Buy, limit, tick)
		}
	case types.Sell:
		limit := mid.Add(offset)
		if price.LessThan(limit) {
			return Price(types.Sell, limit, tick)
		}
	}
	return price
}

// FillGateScale returns a soft decay factor in [floor, 1.0] for the
// fill-rate gate instead of a hard block, so the planner throttles size
// smoothly as the fill budget is consumed.
func FillGateScale(fillPer10s, cap int, floor float64) float64 {
	if fillPer10s <= 0 {
		return 1.0
	}
	if floor <= 0 {
		floor = 0.30
	}
	ratio := float64(fillPer10s) / float64(cap)
	if ratio > 1.0 {
		ratio = 1.0
	}
	scale := 1.0 - ratio
	if scale < floor {
		scale = floor
	}
	return scale
}

// CashFloorScale returns a non-zero scale factor for the buy side when
// free quote balance falls below floor, instead of cutting buys to zero.
func CashFloorScale(quoteFree, floor, minScale float64) float64 {
	if quoteFree >= floor {
		return 1.0
	}
	if minScale <= 0 {
		minScale = 0.15
	}
	denom := floor
	if denom < 1e-9 {
		denom = 1e-9
	}
	gap := floor - quoteFree
	if gap < 0 {
		gap = 0
	}
	scale := 1.0 - gap/denom
	if scale < minScale {
		scale = minScale
	}
	return scale
}
