// Package ledger maintains the shadow balance: an append-only,
// delta-driven record of base/quote holdings built purely from
// execution-report deltas, independent of any order-status string.
// Every applied event carries a content hash for replay/audit, and a
// periodic reconciliation pass force-syncs against the venue's
// authoritative balance if the shadow has drifted too far.
package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

const defaultReserveRatio = 0.02 // fraction of real balance held back from available

// deviationThreshold triggers a forced resync when the shadow balance
// drifts from the authoritative balance by more than this fraction.
const deviationThreshold = "0.001"

// record tracks the last-seen cumulative fill for one order, enabling
// both idempotency (update_id) and delta computation.
type record struct {
	side       types.Side
	cumQty     decimal.Decimal
	cumQuote   decimal.Decimal
	lastUpdate uint64
}

// Metrics counts the outcomes ledger application produces, mirroring
// the monitoring the original implementation logs periodically.
type Metrics struct {
	Applied         uint64
	DuplicateEvents uint64
	ZeroDeltas      uint64
	NegativeDeltas  uint64
	ReconcileCount  uint64
}

// Ledger is the append-only shadow balance for one symbol. Safe for
// concurrent use.
type Ledger struct {
	mu sync.RWMutex

	reserveRatio float64

	base  decimal.Decimal
	quote decimal.Decimal

	records map[string]*record
	events  []types.ExecutionEvent
	seq     uint64

	metrics Metrics

	lastReconcile time.Time
}

// New creates an empty ledger. reserveRatio is the fraction of real
// balance withheld from GetAvailable (default 2% if zero is passed).
func New(reserveRatio float64) *Ledger {
	if reserveRatio <= 0 {
		reserveRatio = defaultReserveRatio
	}
	return &Ledger{
		reserveRatio: reserveRatio,
		records:      make(map[string]*record),
	}
}

// Apply processes one normalized execution report. Duplicate
// (update_id <= last) events are acknowledged but not applied. A
// negative delta is an integrity error and is rejected without
// mutating balances.
func (l *Ledger) Apply(report types.ExecReport, nowNs int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[report.OrderID]
	if !ok {
		rec = &record{side: report.Side}
		l.records[report.OrderID] = rec
	}

	if report.UpdateID <= rec.lastUpdate && rec.lastUpdate != 0 {
		l.metrics.DuplicateEvents++
		return nil
	}

	qtyDelta := report.CumQty.Sub(rec.cumQty)
	quoteDelta := report.CumQuote.Sub(rec.cumQuote)

	if qtyDelta.IsNegative() || quoteDelta.IsNegative() {
		l.metrics.NegativeDeltas++
		return fmt.Errorf("ledger: negative delta for order %s: qty=%s quote=%s", report.OrderID, qtyDelta, quoteDelta)
	}

	if qtyDelta.IsZero() {
		l.metrics.ZeroDeltas++
		rec.lastUpdate = report.UpdateID
		l.appendEvent(report, nowNs)
		return nil
	}

	switch report.Side {
	case types.Buy:
		l.base = l.base.Add(qtyDelta)
		l.quote = l.quote.Sub(quoteDelta)
	case types.Sell:
		l.base = l.base.Sub(qtyDelta)
		l.quote = l.quote.Add(quoteDelta)
	}

	rec.cumQty = report.CumQty
	rec.cumQuote = report.CumQuote
	rec.lastUpdate = report.UpdateID

	l.metrics.Applied++
	l.appendEvent(report, nowNs)
	return nil
}

func (l *Ledger) appendEvent(report types.ExecReport, nowNs int64) {
	l.seq++
	evt := types.ExecutionEvent{
		Seq:         l.seq,
		Report:      report,
		AppliedTsNs: nowNs,
	}
	evt.Hash = ContentHash(report)
	l.events = append(l.events, evt)
}

// ContentHash computes a 128-bit (truncated SHA-256) content hash over
// the fields that define an execution event's identity, for replay and
// audit purposes.
func ContentHash(r types.ExecReport) [16]byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d|%d", r.OrderID, r.Side, r.CumQty, r.CumQuote, r.LastQty, r.TsNs, r.UpdateID)
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Snapshot returns the current balance state.
func (l *Ledger) Snapshot() types.BalanceSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return types.BalanceSnapshot{
		Seq:        l.seq,
		Base:       l.base,
		Quote:      l.quote,
		EventCount: uint64(len(l.events)),
	}
}

// Metrics returns a copy of the running metrics counters.
func (l *Ledger) Metrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metrics
}

// Seed initializes the shadow balance from a previously persisted
// BalanceSnapshot, e.g. right after restoring a checkpoint. Per-order dedup
// state is not restored — the checkpoint only carries the aggregate
// balance, not the records map — so a replayed update_id for an order the
// ledger no longer remembers about will be re-applied once; Reconcile
// against the venue's authoritative balance corrects any resulting drift.
func (l *Ledger) Seed(base, quote decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base = base
	l.quote = quote
}

// GetAvailable returns real balance scaled down by the reserve ratio,
// floored at zero.
func (l *Ledger) GetAvailable(side types.Side) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	real := l.quote
	if side == types.Sell {
		real = l.base
	}
	available := real.Mul(decimal.NewFromFloat(1 - l.reserveRatio))
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// CheckFeasible reports whether an order of the given side/qty/price
// fits within available balance, with an extra 2% safety margin.
func (l *Ledger) CheckFeasible(side types.Side, qty, price decimal.Decimal) bool {
	var required, available decimal.Decimal
	if side == types.Buy {
		required = qty.Mul(price)
		available = l.GetAvailable(types.Buy)
	} else {
		required = qty
		available = l.GetAvailable(types.Sell)
	}
	return required.LessThanOrEqual(available.Mul(decimal.NewFromFloat(0.98)))
}

// BalanceFetcher is the caller-supplied authoritative balance source;
// the concrete venue call lives outside the core.
type BalanceFetcher func(ctx context.Context) (base, quote decimal.Decimal, err error)

// Reconcile pulls the authoritative balance via fetch and force-syncs
// the shadow state if relative deviation on either asset exceeds 0.1%.
func (l *Ledger) Reconcile(ctx context.Context, fetch BalanceFetcher) error {
	realBase, realQuote, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("ledger: reconcile fetch: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	threshold, _ := decimal.NewFromString(deviationThreshold)

	baseDenom := decimal.Max(realBase.Abs(), decimal.NewFromFloat(0.01))
	quoteDenom := decimal.Max(realQuote.Abs(), decimal.NewFromFloat(0.01))

	baseDeviation := realBase.Sub(l.base).Abs().Div(baseDenom)
	quoteDeviation := realQuote.Sub(l.quote).Abs().Div(quoteDenom)

	if baseDeviation.GreaterThan(threshold) || quoteDeviation.GreaterThan(threshold) {
		l.base = realBase
		l.quote = realQuote
		l.metrics.ReconcileCount++
	}
	l.lastReconcile = time.Now()
	return nil
}

// NextUpdateIDHint returns one past the highest update_id seen for an
// order, for callers that need to detect gaps upstream of Apply.
func (l *Ledger) NextUpdateIDHint(orderID string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.records[orderID]; ok {
		return rec.lastUpdate + 1
	}
	return 1
}
