// Package executor owns the live-order table and the outbound
// submit/cancel/replace queue. It accumulates operations into short
// micro-batches, flushes them by priority (Fill > Cancel > Replace >
// Create), sweeps TTL-expired orders, and can burst-deploy a one-shot
// ladder across a few waves when newly available cash crosses a
// threshold.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketmaker-core/pkg/types"
)

// Priority levels, lowest value flushed first.
type Priority int

const (
	PriorityFill Priority = iota
	PriorityCancel
	PriorityReplace
	PriorityCreate
)

const (
	microBatchWindow  = 35 * time.Millisecond // within the 20-50ms accumulation target
	microBatchMaxOps  = 10
	burstWaveCount    = 3
	burstWaveInterval = 50 * time.Millisecond
)

// OpKind distinguishes the three outbound network actions.
type OpKind int

const (
	OpCreate OpKind = iota
	OpCancel
	OpReplace
)

// Operation is one queued outbound action.
type Operation struct {
	Kind     OpKind
	Priority Priority
	Order    types.PlannedOrder // for Create/Replace
	OrderID  string             // for Cancel/Replace (existing order)
	seq      uint64             // insertion order, for FIFO-within-level stability
}

// Connector is the typed, venue-agnostic surface the executor drives.
// The concrete implementation (REST/WS signing, retries) lives in
// internal/exchange; the executor only depends on this interface so it
// stays testable and decoupled from transport concerns.
type Connector interface {
	Submit(ctx context.Context, order types.PlannedOrder) (types.LiveOrder, error)
	Cancel(ctx context.Context, orderID string) error
	CancelReplace(ctx context.Context, orderID string, order types.PlannedOrder) (types.LiveOrder, error)
}

// RejectReason classifies why the connector refused an operation, so
// the caller can feed it back as a planner constraint or a MakerGuard
// retry rather than silently dropping it.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectFilterOrNotional
	RejectWouldMatch
	RejectOther
)

// Classifier maps a connector error to a RejectReason. Connectors that
// want feedback wiring should return errors satisfying this via a
// sentinel or typed error; here we default to RejectOther since the
// concrete classification is venue-specific and lives in
// internal/exchange.
type Classifier func(err error) RejectReason

// Result is one operation's outcome, reported back to the caller
// (engine) for planner feedback / MakerGuard retry.
type Result struct {
	Op     Operation
	Live   types.LiveOrder
	Err    error
	Reason RejectReason
}

// Executor holds the live-order table and the pending operation queue.
// Safe for concurrent use.
type Executor struct {
	mu sync.Mutex

	conn       Connector
	classify   Classifier
	liveOrders map[string]types.LiveOrder
	queue      []Operation
	seq        uint64

	ttlCancellations uint64
}

// New creates an Executor against the given connector. classify may be
// nil, in which case all connector errors are reported as RejectOther.
func New(conn Connector, classify Classifier) *Executor {
	if classify == nil {
		classify = func(error) RejectReason { return RejectOther }
	}
	return &Executor{
		conn:       conn,
		classify:   classify,
		liveOrders: make(map[string]types.LiveOrder),
	}
}

// Enqueue adds an operation to the pending queue for the next flush.
func (e *Executor) Enqueue(op Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	op.seq = e.seq
	e.queue = append(e.queue, op)
}

// Pending reports the current queue depth.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// drain pops up to microBatchMaxOps operations, ordered by priority
// then FIFO within a level.
func (e *Executor) drain() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	sort.SliceStable(e.queue, func(i, j int) bool {
		if e.queue[i].Priority != e.queue[j].Priority {
			return e.queue[i].Priority < e.queue[j].Priority
		}
		return e.queue[i].seq < e.queue[j].seq
	})
	n := len(e.queue)
	if n > microBatchMaxOps {
		n = microBatchMaxOps
	}
	batch := append([]Operation(nil), e.queue[:n]...)
	e.queue = e.queue[n:]
	return batch
}

// Flush dispatches one micro-batch concurrently and applies the
// results to the live-order table. The engine invokes this on a ticker at
// microBatchWindow cadence; each call dispatches at most microBatchMaxOps
// operations.
func (e *Executor) Flush(ctx context.Context) []Result {
	batch := e.drain()
	if len(batch) == 0 {
		return nil
	}

	results := make([]Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, op := range batch {
		i, op := i, op
		g.Go(func() error {
			results[i] = e.dispatch(gctx, op)
			return nil
		})
	}
	_ = g.Wait() // dispatch never returns an error itself; failures are captured per-Result

	e.mu.Lock()
	for _, r := range results {
		e.applyResultLocked(r)
	}
	e.mu.Unlock()

	return results
}

func (e *Executor) dispatch(ctx context.Context, op Operation) Result {
	switch op.Kind {
	case OpCreate:
		live, err := e.conn.Submit(ctx, op.Order)
		if err != nil {
			return Result{Op: op, Err: err, Reason: e.classify(err)}
		}
		return Result{Op: op, Live: live}
	case OpCancel:
		err := e.conn.Cancel(ctx, op.OrderID)
		if err != nil {
			return Result{Op: op, Err: err, Reason: e.classify(err)}
		}
		return Result{Op: op}
	case OpReplace:
		live, err := e.conn.CancelReplace(ctx, op.OrderID, op.Order)
		if err != nil {
			return Result{Op: op, Err: err, Reason: e.classify(err)}
		}
		return Result{Op: op, Live: live}
	default:
		return Result{Op: op, Err: nil}
	}
}

func (e *Executor) applyResultLocked(r Result) {
	switch r.Op.Kind {
	case OpCreate:
		if r.Err == nil {
			e.liveOrders[r.Live.OrderID] = r.Live
		}
	case OpCancel:
		if r.Err == nil {
			delete(e.liveOrders, r.Op.OrderID)
		}
	case OpReplace:
		if r.Err == nil {
			delete(e.liveOrders, r.Op.OrderID)
			e.liveOrders[r.Live.OrderID] = r.Live
		}
	}
}

// RestoreLiveOrders seeds the live-order table from a checkpoint. Callers
// use this once, right after New, before any Flush runs.
func (e *Executor) RestoreLiveOrders(orders map[string]types.LiveOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, o := range orders {
		e.liveOrders[id] = o
	}
}

// Forget removes an order from the live-order table directly, without a
// round trip through Flush. The venue has already terminated the order
// (filled, cancelled, expired, or rejected) by the time an ExecReport with
// a terminal status arrives on the user feed, so there is nothing left to
// cancel — enqueuing an OpCancel would just earn a harmless "not found"
// from the connector. Callers use this from the fill/report path instead.
func (e *Executor) Forget(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.liveOrders, orderID)
}

// LiveOrders returns a snapshot of the live-order table.
func (e *Executor) LiveOrders() map[string]types.LiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.LiveOrder, len(e.liveOrders))
	for k, v := range e.liveOrders {
		out[k] = v
	}
	return out
}

// SweepTTL scans live orders and enqueues a cancel (PriorityCancel, second
// after fills) for every order that has outlived its TTL.
func (e *Executor) SweepTTL(nowNs int64) int {
	e.mu.Lock()
	var expired []string
	for id, o := range e.liveOrders {
		if o.Expired(nowNs) {
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.Enqueue(Operation{Kind: OpCancel, Priority: PriorityCancel, OrderID: id})
	}
	e.ttlCancellations += uint64(len(expired))
	return len(expired)
}

// TTLCancellations returns the running count of TTL-triggered cancels.
func (e *Executor) TTLCancellations() uint64 {
	return e.ttlCancellations
}

// BurstWave is one wave of a burst deployment.
type BurstWave struct {
	Orders []types.PlannedOrder
}

// PlanBurstDeploy groups a one-shot ladder, in the given order, into at
// most burstWaveCount waves of equal count for staggered dispatch. It does
// not reweight notional across L0/L1/L2: each order keeps the size the
// planner gave it.
func PlanBurstDeploy(orders []types.PlannedOrder) []BurstWave {
	if len(orders) == 0 {
		return nil
	}
	waves := make([]BurstWave, 0, burstWaveCount)
	perWave := (len(orders) + burstWaveCount - 1) / burstWaveCount
	for i := 0; i < len(orders); i += perWave {
		end := i + perWave
		if end > len(orders) {
			end = len(orders)
		}
		waves = append(waves, BurstWave{Orders: orders[i:end]})
	}
	return waves
}

// BurstDeploy enqueues each wave's orders as Create operations,
// sleeping burstWaveInterval between waves via sleepFn (time.Sleep in
// production, injectable for tests).
func (e *Executor) BurstDeploy(ctx context.Context, waves []BurstWave, sleepFn func(time.Duration)) {
	if sleepFn == nil {
		sleepFn = time.Sleep
	}
	for i, wave := range waves {
		for _, o := range wave.Orders {
			e.Enqueue(Operation{Kind: OpCreate, Priority: PriorityCreate, Order: o})
		}
		if i < len(waves)-1 {
			sleepFn(burstWaveInterval)
		}
	}
}
