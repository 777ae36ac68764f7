// Package inventory owns the engine's position state and proactively
// skews buy/sell order sizes to pull weight back toward a 50/50 base/quote
// split, converging deterministically rather than reactively.
package inventory

import (
	"math"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

const (
	targetWeight   = 0.5
	errorThreshold = 0.05

	alphaBase = 0.15
	kFactor   = 2.0
	alphaMin  = 0.10
	alphaMax  = 0.35

	multiplierMin = 0.1
	multiplierMax = 3.0
)

// Sizing multiplies base order sizes for a given inventory error.
type Sizing struct {
	Error          float64
	Alpha          float64
	BuyMultiplier  float64
	SellMultiplier float64
}

// Tracker owns the InventoryState for one symbol and computes proactive
// sizing adjustments from it.
type Tracker struct {
	state   types.InventoryState
	lastAbsError float64
	haveLast     bool
}

// NewTracker creates a tracker with a symmetric (0.5/0.5) target weight.
func NewTracker() *Tracker {
	return &Tracker{
		state: types.InventoryState{TargetWeight: targetWeight},
	}
}

// Update recomputes the tracker's InventoryState from current base/quote
// balances, at the current mid price (used to value base in quote terms).
func (t *Tracker) Update(base, quote, mid decimal.Decimal) types.InventoryState {
	baseValue, _ := base.Mul(mid).Float64()
	quoteValue, _ := quote.Float64()
	total := baseValue + quoteValue

	var baseWeight float64
	if total > 0 {
		baseWeight = baseValue / total
	}

	t.state = types.InventoryState{
		BaseQty:      base,
		QuoteQty:     quote,
		BaseWeight:   baseWeight,
		Imbalance:    targetWeight - baseWeight,
		TargetWeight: targetWeight,
	}
	return t.state
}

// State returns the last-computed InventoryState.
func (t *Tracker) State() types.InventoryState {
	return t.state
}

// Error returns e = w_target - w_base, the signed inventory error.
func (t *Tracker) Error() float64 {
	return t.state.Imbalance
}

// DynamicAlpha computes alpha = clamp(alpha_base + k*|e|, alpha_min, alpha_max).
func DynamicAlpha(err float64) float64 {
	alpha := alphaBase + kFactor*math.Abs(err)
	return clamp(alpha, alphaMin, alphaMax)
}

// SizeMultipliers computes the proactive buy/sell size multipliers for
// inventory error e: within the error threshold both are 1.0; outside it,
// the short side is boosted and the long side is dampened by half as
// much, clamped to [0.1, 3.0].
func SizeMultipliers(err float64) Sizing {
	alpha := DynamicAlpha(err)

	var buyMult, sellMult float64
	switch {
	case math.Abs(err) < errorThreshold:
		buyMult, sellMult = 1.0, 1.0
	case err > errorThreshold:
		buyMult = 1.0 + alpha*math.Abs(err)
		sellMult = 1.0 - 0.5*alpha*math.Abs(err)
	default: // err < -errorThreshold
		buyMult = 1.0 - 0.5*alpha*math.Abs(err)
		sellMult = 1.0 + alpha*math.Abs(err)
	}

	return Sizing{
		Error:          err,
		Alpha:          alpha,
		BuyMultiplier:  clamp(buyMult, multiplierMin, multiplierMax),
		SellMultiplier: clamp(sellMult, multiplierMin, multiplierMax),
	}
}

// ApplySizing computes the current sizing adjustment from the inventory
// error. It records nothing; RecordAppliedError stores the error for the
// next Converged check.
func (t *Tracker) ApplySizing() Sizing {
	err := t.Error()
	sizing := SizeMultipliers(err)
	return sizing
}

// RecordAppliedError must be called after a fill has been applied to the
// ledger and Update has refreshed state, to track convergence.
func (t *Tracker) RecordAppliedError() {
	absErr := math.Abs(t.Error())
	t.lastAbsError = absErr
	t.haveLast = true
}

// Converged reports whether the inventory error shrank by the required
// factor (|e_new| < 0.8*|e_old|) since the last RecordAppliedError call.
// Returns true (vacuously) if there is no prior sample or the prior error
// was already within noise (<=0.01).
func (t *Tracker) Converged() bool {
	if !t.haveLast || t.lastAbsError <= 0.01 {
		return true
	}
	return math.Abs(t.Error()) < 0.8*t.lastAbsError
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
