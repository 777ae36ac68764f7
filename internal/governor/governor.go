// Package governor implements the budget control plane: a closed-queue
// model (CQM) that derives base per-bucket message budgets from target
// concurrency and TTL, a PID usage governor that keeps API weight usage
// near its target band, a KPI efficiency scale that penalizes
// high-churn/low-impact quoting, and a side-split that allocates the fill
// budget between buy and sell by inventory error.
package governor

import (
	"math"
)

const (
	usageTargetPct = 10.0
	usageSafePct   = 15.0

	minFill, maxFill       = 2, 20
	minReprice, maxReprice = 2, 20
	minCancel, maxCancel   = 20, 80

	pidKp          = 0.06
	pidKi          = 0.015
	maxIntegralErr = 50.0
	pidScaleMin    = 0.5
	pidScaleMax    = 1.5

	rampStep = 3

	sideSplitGamma = 1.0
	sideSplitMin   = 0.35
	sideSplitMax   = 0.65

	emaAlpha = 0.2

	baseBurstRatio = 1.0
	maxBurstRatio  = 3.0
	maxBorrowRatio = 0.5
)

// bucket identifies one of the three budget streams for borrowing.
type bucket int

const (
	bucketFill bucket = iota
	bucketReprice
	bucketCancel
)

// borrowPriority is the order lenders are drawn from: cancel first
// (cheapest to forgo), then reprice, then fill (never borrowed from
// last since it is the scarcest and most valuable stream).
var borrowPriority = []bucket{bucketCancel, bucketReprice, bucketFill}

// Msg10s is the rolling 10-second message count per bucket.
type Msg10s struct {
	Fill    int
	Reprice int
	Cancel  int
}

func (m Msg10s) total() int { return m.Fill + m.Reprice + m.Cancel }

// StepInput is everything the governor needs for one control step.
type StepInput struct {
	NL0, NL1, NL2          int
	TTLL0, TTLL1, TTLL2    float64 // seconds
	Msg10s                 Msg10s
	UsagePct               float64
	OnBookUSDNow           float64
	OnBookUSD10sAgo        float64
	InventoryErr           float64 // w_target - w_base, from internal/inventory
	NStarOverride          *int

	// FillUsage/RepriceUsage/CancelUsage carry last-window consumption for
	// the C9 dynamic-burst and borrowing pass. Zero values are treated as
	// "no usage observed yet" (efficiency/urgency default to neutral).
	FillUsage    BucketUsage
	RepriceUsage BucketUsage
	CancelUsage  BucketUsage
}

// Output is the per-bucket budgets and derived knobs the rest of the
// engine consumes.
type Output struct {
	Fill10s, Reprice10s, Cancel10s       int
	BurstFill, BurstReprice, BurstCancel int
	TTLScale                             float64
	Fill10sBuy, Fill10sSell              int
	Alpha                                float64
}

// Governor is the stateful PID/CQM control loop for one symbol's budget
// allocation. Not safe for concurrent use; callers serialize Step calls
// (the engine's single orchestrator goroutine does this naturally).
type Governor struct {
	errIntegral float64
	emaUsage    *float64
	emaMPD      *float64
	prev        *Output
	lastStepSec float64
	haveLast    bool

	usageRatio   [3]float64 // last-observed used/budget per bucket, indexed by `bucket`
	burstFactor  [3]float64
	emergencyHit [3]bool
}

// BucketUsage is the caller-observed consumption of one bucket's budget
// over the last window, used to drive C9's efficiency/urgency/borrowing
// pass.
type BucketUsage struct {
	Used      int
	Budget    int
	BurstUsed int  // messages that consumed burst headroom beyond the base budget
	Emergency bool // true if this bucket hit a hard cap and had to drop messages
}

// New creates a governor with zeroed PID/KPI state.
func New() *Governor {
	return &Governor{}
}

// State is the governor's persisted PID/EMA/burst state, snapshotted by
// the store package across restarts so the control loop doesn't reset to
// a cold integrator after a crash.
type State struct {
	ErrIntegral  float64
	EmaUsage     *float64
	EmaMPD       *float64
	Prev         *Output
	LastStepSec  float64
	HaveLast     bool
	UsageRatio   [3]float64
	BurstFactor  [3]float64
	EmergencyHit [3]bool
}

// Snapshot returns the governor's current state for checkpointing.
func (g *Governor) Snapshot() State {
	return State{
		ErrIntegral:  g.errIntegral,
		EmaUsage:     g.emaUsage,
		EmaMPD:       g.emaMPD,
		Prev:         g.prev,
		LastStepSec:  g.lastStepSec,
		HaveLast:     g.haveLast,
		UsageRatio:   g.usageRatio,
		BurstFactor:  g.burstFactor,
		EmergencyHit: g.emergencyHit,
	}
}

// Restore loads a previously-snapshotted state, e.g. after a restart.
func (g *Governor) Restore(s State) {
	g.errIntegral = s.ErrIntegral
	g.emaUsage = s.EmaUsage
	g.emaMPD = s.EmaMPD
	g.prev = s.Prev
	g.lastStepSec = s.LastStepSec
	g.haveLast = s.HaveLast
	g.usageRatio = s.UsageRatio
	g.burstFactor = s.BurstFactor
	g.emergencyHit = s.EmergencyHit
}

// Step runs one control-plane iteration and returns the new budgets.
// nowSec is a monotonically increasing seconds timestamp supplied by the
// caller (the engine's timer tick), not wall-clock time read internally.
func (g *Governor) Step(in StepInput, nowSec float64) Output {
	dt := 1.0
	if g.haveLast {
		dt = math.Max(1e-3, nowSec-g.lastStepSec)
	}

	nTarget := in.NL0 + in.NL1 + in.NL2
	if in.NStarOverride != nil {
		nTarget = *in.NStarOverride
	}
	tau := weightedTau(in.TTLL0, in.TTLL1, in.TTLL2, in.NL0, in.NL1, in.NL2)

	fill, rep, can := cqmBudgets(nTarget, tau, in.Msg10s)

	usageScale := g.usageGovern(in.UsagePct, dt)
	fill = roundInt(float64(fill) * usageScale)
	rep = roundInt(float64(rep) * usageScale)
	can = roundInt(float64(can) * usageScale)

	kpiScale := g.kpiScale(in.Msg10s, in.OnBookUSDNow, in.OnBookUSD10sAgo)
	fill = roundInt(float64(fill) * kpiScale)
	rep = roundInt(float64(rep) * kpiScale)

	prevFill, prevRep, prevCan := fill, rep, can
	if g.prev != nil {
		prevFill, prevRep, prevCan = g.prev.Fill10s, g.prev.Reprice10s, g.prev.Cancel10s
	}
	fill = ramp(fill, prevFill, rampStep)
	rep = ramp(rep, prevRep, rampStep)
	can = ramp(can, prevCan, rampStep)

	fill = clampInt(fill, minFill, maxFill)
	rep = clampInt(rep, minReprice, maxReprice)
	can = clampInt(can, minCancel, maxCancel)

	ttlScale := clampf(1.0+0.5*((usageTargetPct-in.UsagePct)/math.Max(1.0, usageTargetPct)), 0.8, 1.3)

	alpha := clampf(sigmoid(sideSplitGamma*in.InventoryErr), sideSplitMin, sideSplitMax)
	fillBuy := maxInt(1, int(alpha*float64(fill)))
	fillSell := maxInt(1, fill-fillBuy)

	base := [3]int{fill, rep, can}
	usage := [3]BucketUsage{in.FillUsage, in.RepriceUsage, in.CancelUsage}
	burst := g.dynamicBurst(base, usage)
	burst = g.applyBorrowing(burst, usage)

	out := Output{
		Fill10s:      fill,
		Reprice10s:   rep,
		Cancel10s:    can,
		BurstFill:    burst[bucketFill],
		BurstReprice: burst[bucketReprice],
		BurstCancel:  burst[bucketCancel],
		TTLScale:     ttlScale,
		Fill10sBuy:   fillBuy,
		Fill10sSell:  fillSell,
		Alpha:        alpha,
	}

	g.prev = &out
	g.lastStepSec = nowSec
	g.haveLast = true

	return out
}

// weightedTau computes tau = sum(ttl_i * n_i) / sum(n_i), floored at 3s.
func weightedTau(ttlL0, ttlL1, ttlL2 float64, nL0, nL1, nL2 int) float64 {
	nTotal := nL0 + nL1 + nL2
	if nTotal < 1 {
		nTotal = 1
	}
	weighted := (ttlL0*float64(nL0) + ttlL1*float64(nL1) + ttlL2*float64(nL2)) / float64(nTotal)
	return math.Max(3.0, weighted)
}

// cqmBudgets derives base 10s budgets from target concurrency N* and
// weighted TTL tau: lambda_need = N*/tau, base_new_10s = 10*lambda_need,
// reprice/cancel scaled by observed structural ratios (bounded priors
// until enough fills have been observed).
func cqmBudgets(nTarget int, tau float64, msg Msg10s) (fill, reprice, cancel int) {
	newN := float64(msg.Fill)
	repN := float64(msg.Reprice)
	canN := float64(msg.Cancel)

	var pRep, pCan float64
	if newN <= 2 {
		pRep, pCan = 1.0, 2.0
	} else {
		pRep = clampf(repN/math.Max(1.0, newN), 0.3, 2.0)
		pCan = clampf(canN/math.Max(1.0, newN), 0.5, 4.0)
	}

	tau = math.Max(3.0, tau)
	lamNeed := float64(nTarget) / tau
	baseNew10s := 10.0 * lamNeed

	fill = int(math.Ceil(baseNew10s))
	reprice = int(math.Ceil(baseNew10s * pRep))
	cancel = int(math.Ceil(baseNew10s * pCan))
	return
}

// usageGovern is the PID loop on usage_pct - target: scale = 1 +
// clamp(-(Kp*e + Ki*integral(e)), -0.25, 0.25), clamped overall to
// [0.5, 1.5], with a hard safety wall forcing <=0.8 once usage crosses
// the safe threshold.
func (g *Governor) usageGovern(usagePct, dt float64) float64 {
	g.emaUsage = emaPtr(g.emaUsage, usagePct, emaAlpha)
	e := *g.emaUsage - usageTargetPct
	g.errIntegral += e * dt
	g.errIntegral = clampf(g.errIntegral, -maxIntegralErr, maxIntegralErr)

	adj := -(pidKp*e + pidKi*g.errIntegral)
	scale := 1.0 + clampf(adj, -0.25, 0.25)

	if usagePct >= usageSafePct {
		scale = math.Min(scale, 0.8)
	}

	return clampf(scale, pidScaleMin, pidScaleMax)
}

// kpiScale penalizes high messages-per-delta-onbook-USD churn: an
// efficient quoting regime (low mpd) earns a small bonus, an inefficient
// one is scaled down up to 20%.
func (g *Governor) kpiScale(msg Msg10s, onBookNow, onBookAgo float64) float64 {
	msgs := float64(msg.total())
	deltaOnBook := math.Max(1e-6, math.Abs(onBookNow-onBookAgo))
	mpd := msgs / deltaOnBook
	g.emaMPD = emaPtr(g.emaMPD, mpd, emaAlpha)

	switch {
	case *g.emaMPD <= 0.15:
		return 1.05
	case *g.emaMPD <= 0.30:
		return 1.0
	case *g.emaMPD <= 0.60:
		return 0.9
	default:
		return 0.8
	}
}

// usageEfficiency scores how well a bucket is using its budget: the
// 0.8-0.9 band is the sweet spot (high utilization with headroom to
// absorb a burst), thinning out toward either starvation or saturation.
func usageEfficiency(ratio float64) float64 {
	switch {
	case ratio >= 0.8 && ratio <= 0.9:
		return 2.0
	case ratio >= 0.6 && ratio <= 1.0:
		return 1.5
	case ratio >= 0.3 && ratio < 0.6:
		return 1.0
	default:
		return 0.5
	}
}

// urgency combines how fast usage is surging, how much burst headroom
// has already been eaten into, and whether the bucket has hit its
// emergency cap, clamped to [0.5, 3.0].
func urgency(usageSurge, burstFactor float64, emergencyHit bool) float64 {
	emergencyFactor := 1.0
	if emergencyHit {
		emergencyFactor = 2.0
	}
	return clampf(usageSurge*burstFactor*emergencyFactor, 0.5, 3.0)
}

// dynamicBurst computes each bucket's allowed burst quota:
// dynamic_burst = base_budget * clamp(base_ratio + 0.5*(eff-1) +
// 0.3*(urg-1), 1.0, 3.0). Buckets with no usage history yet get the
// base (1.0) ratio.
func (g *Governor) dynamicBurst(base [3]int, usage [3]BucketUsage) [3]int {
	var burst [3]int
	for b := bucketFill; b <= bucketCancel; b++ {
		u := usage[b]
		if u.Budget <= 0 {
			burst[b] = base[b]
			continue
		}
		ratio := clampf(float64(u.Used)/float64(u.Budget), 0, 1.5)
		prevRatio := g.usageRatio[b]
		usageSurge := 1.0
		if prevRatio > 0 {
			usageSurge = ratio / prevRatio
		}
		burstFactor := 1.0 + float64(u.BurstUsed)/math.Max(1.0, float64(base[b]))
		g.usageRatio[b] = ratio
		g.burstFactor[b] = burstFactor
		g.emergencyHit[b] = u.Emergency

		eff := usageEfficiency(ratio)
		urg := urgency(usageSurge, burstFactor, u.Emergency)
		dynRatio := clampf(baseBurstRatio+0.5*(eff-1)+0.3*(urg-1), baseBurstRatio, maxBurstRatio)
		burst[b] = int(math.Ceil(float64(base[b]) * dynRatio))
	}
	return burst
}

// applyBorrowing lets a bucket under acute pressure (urgency>2,
// efficiency>1.2) draw extra burst headroom from idle buckets
// (urgency<1.5, efficiency<1.2), drawing from cancel first, then
// reprice, then fill, each lender capped at half its own budget.
func (g *Governor) applyBorrowing(burst [3]int, usage [3]BucketUsage) [3]int {
	eff := [3]float64{}
	urg := [3]float64{}
	for b := bucketFill; b <= bucketCancel; b++ {
		u := usage[b]
		if u.Budget <= 0 {
			eff[b], urg[b] = 1.0, 1.0
			continue
		}
		ratio := clampf(float64(u.Used)/float64(u.Budget), 0, 1.5)
		eff[b] = usageEfficiency(ratio)
		urg[b] = urgency(g.usageRatio[b], g.burstFactor[b], u.Emergency)
	}

	for borrower := bucketFill; borrower <= bucketCancel; borrower++ {
		if urg[borrower] <= 2.0 || eff[borrower] <= 1.2 {
			continue
		}
		need := burst[borrower]
		for _, lender := range borrowPriority {
			if lender == borrower {
				continue
			}
			if urg[lender] >= 1.5 || eff[lender] >= 1.2 {
				continue
			}
			available := int(float64(usage[lender].Budget) * maxBorrowRatio)
			if available <= 0 {
				continue
			}
			borrowed := minInt(available, maxInt(0, need/4))
			if borrowed <= 0 {
				continue
			}
			burst[borrower] += borrowed
			burst[lender] = maxInt(0, burst[lender]-borrowed)
		}
	}
	return burst
}

func emaPtr(prev *float64, x, alpha float64) *float64 {
	if prev == nil {
		v := x
		return &v
	}
	v := (1-alpha)**prev + alpha*x
	return &v
}

func ramp(cur, old, step int) int {
	if cur > old+step {
		return old + step
	}
	if cur < old-step {
		return old - step
	}
	return cur
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
