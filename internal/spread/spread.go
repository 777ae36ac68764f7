// Package spread computes a dynamic, EV-gated quoting spread and the
// Avellaneda-Stoikov reservation price it centers on.
//
// The spread never drops below a hard floor: required_spread_bp =
// max(min_spread_hard, 2*|maker_fee_bp| + phi*vol_bp), so the quote always
// covers round-trip fees plus an adverse-selection margin before any
// volatility/order-flow narrowing is allowed to apply.
package spread

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the optimizer's tunables. Defaults mirror the teacher's own
// Avellaneda-Stoikov parameters (Gamma, Sigma) plus the EV-gate constants
// from the original dynamic spread optimizer.
type Config struct {
	BaseSpreadBps          float64
	MinSpreadBps           float64 // hard floor, EV-gate never goes below this
	MaxSpreadBps           float64
	VolatilitySensitivity  float64
	OrderFlowSensitivity   float64
	MakerFeeBps            float64 // signed; negative means a rebate
	AdverseSelectionFactor float64
	SafetyTicks            int

	Gamma float64 // risk aversion
	Sigma float64 // volatility (per sqrt(time unit) matching T)
	T     float64 // time horizon
	K     float64 // order-book liquidity density
}

// DefaultConfig returns the teacher/original-calibrated defaults.
func DefaultConfig() Config {
	return Config{
		BaseSpreadBps:          4.0,
		MinSpreadBps:           3.0,
		MaxSpreadBps:           8.0,
		VolatilitySensitivity:  2.0,
		OrderFlowSensitivity:   1.5,
		MakerFeeBps:            -4.0,
		AdverseSelectionFactor: 0.8,
		SafetyTicks:            2,
		Gamma:                  0.1,
		Sigma:                  0.02,
		T:                      1.0,
		K:                      1.5,
	}
}

type priceSample struct {
	ts    time.Time
	price float64
}

// Optimizer accumulates rolling price/order-flow history for one symbol
// and derives the optimal quoting spread from it.
type Optimizer struct {
	cfg Config

	prices    []priceSample
	flow      []float64 // recent signed depth imbalances
	volatility float64
}

// NewOptimizer creates an optimizer with cfg.
func NewOptimizer(cfg Config) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// UpdateMarketData records a fresh mid price and, if both sides have
// depth, an order-flow imbalance sample.
func (o *Optimizer) UpdateMarketData(mid float64, bidQty, askQty float64, now time.Time) {
	if mid <= 0 {
		return
	}
	o.prices = append(o.prices, priceSample{ts: now, price: mid})
	if len(o.prices) > 100 {
		o.prices = o.prices[len(o.prices)-100:]
	}

	if len(o.prices) >= 2 {
		n := len(o.prices)
		start := n - 10
		if start < 0 {
			start = 0
		}
		recent := o.prices[start:]
		if len(recent) > 1 {
			sum := 0.0
			for i := 1; i < len(recent); i++ {
				prev := recent[i-1].price
				if prev == 0 {
					continue
				}
				sum += math.Abs(recent[i].price-prev) / prev
			}
			o.volatility = sum / float64(len(recent)-1)
		}
	}

	if bidQty > 0 && askQty > 0 {
		total := bidQty + askQty
		imbalance := (bidQty - askQty) / total
		o.flow = append(o.flow, imbalance)
		if len(o.flow) > 50 {
			o.flow = o.flow[len(o.flow)-50:]
		}
	}
}

// RequiredSpreadBps is the EV gate: the minimum spread that covers
// round-trip maker fees plus a volatility-scaled adverse-selection
// margin.
func (o *Optimizer) RequiredSpreadBps(volatilityBps float64) float64 {
	feeComponent := 2 * math.Abs(o.cfg.MakerFeeBps)
	volComponent := o.cfg.AdverseSelectionFactor * volatilityBps
	required := feeComponent + volComponent
	if o.cfg.MinSpreadBps > required {
		return o.cfg.MinSpreadBps
	}
	return required
}

// Side is which side the spread adjustment is being computed for, or
// "both" for a side-agnostic read.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideBoth Side = "both"
)

// OptimalSpreadBps returns the target spread in bps for side, floored by
// RequiredSpreadBps and clamped to [MinSpreadBps, MaxSpreadBps].
func (o *Optimizer) OptimalSpreadBps(side Side) float64 {
	volBps := o.volatility * 10000

	volAdj := 0.0
	switch {
	case o.volatility < 0.001:
		volAdj = -1.0
	case o.volatility > 0.005:
		volAdj = 4.0
	default:
		norm := (o.volatility - 0.001) / (0.005 - 0.001)
		volAdj = norm*5.0 - 1.0
	}

	flowAdj := 0.0
	if len(o.flow) >= 10 {
		n := len(o.flow)
		start := n - 10
		recent := o.flow[start:]
		sum := 0.0
		for _, f := range recent {
			sum += f
		}
		avgImbalance := sum / float64(len(recent))

		switch {
		case side == SideBuy && avgImbalance > 0.2:
			flowAdj = 0.5
		case side == SideSell && avgImbalance < -0.2:
			flowAdj = 0.5
		case math.Abs(avgImbalance) < 0.1:
			flowAdj = -0.5
		}
	}

	target := o.cfg.BaseSpreadBps + volAdj + flowAdj

	required := o.RequiredSpreadBps(volBps)
	if target < required {
		target = required
	}

	minSpread := o.cfg.MinSpreadBps
	if minSpread < o.cfg.MinSpreadBps {
		minSpread = o.cfg.MinSpreadBps
	}
	maxSpread := o.cfg.MaxSpreadBps
	if target < minSpread {
		target = minSpread
	}
	if target > maxSpread {
		target = maxSpread
	}
	return target
}

// SafetyTicks returns the number of ticks the post-only guard must clear,
// widening by one when volatility or order flow is adverse, capped at 3.
func (o *Optimizer) SafetyTicks(side Side) int {
	base := o.cfg.SafetyTicks

	if o.volatility > 0.005 {
		return minInt(base+1, 3)
	}

	if len(o.flow) > 0 {
		n := len(o.flow)
		start := n - 5
		if start < 0 {
			start = 0
		}
		recent := o.flow[start:]
		sum := 0.0
		for _, f := range recent {
			sum += f
		}
		avg := sum / float64(len(recent))

		if (side == SideSell && avg < -0.3) || (side == SideBuy && avg > 0.3) {
			return minInt(base+1, 3)
		}
	}
	return base
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReservationQuote is the Avellaneda-Stoikov center price and optimal
// half-spread for the current inventory.
type ReservationQuote struct {
	ReservationPrice decimal.Decimal
	HalfSpread       decimal.Decimal
}

// Reservation computes r = mid - q*gamma*sigma^2*T and
// delta = gamma*sigma^2*T + (2/gamma)*ln(1+gamma/k), exactly as the
// teacher's quoting loop does, generalized to take inventory skew q as an
// input rather than reading it from a strategy-owned field.
func (o *Optimizer) Reservation(mid decimal.Decimal, inventorySkew float64) ReservationQuote {
	gamma, sigma, T, k := o.cfg.Gamma, o.cfg.Sigma, o.cfg.T, o.cfg.K

	midF, _ := mid.Float64()
	reservation := midF - inventorySkew*gamma*sigma*sigma*T
	optSpread := gamma*sigma*sigma*T + (2.0/gamma)*math.Log(1+gamma/k)

	return ReservationQuote{
		ReservationPrice: decimal.NewFromFloat(reservation),
		HalfSpread:       decimal.NewFromFloat(optSpread / 2),
	}
}
