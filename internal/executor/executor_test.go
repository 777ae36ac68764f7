package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

type fakeConnector struct {
	submitErr        error
	cancelErr        error
	submitted        []types.PlannedOrder
	canceled         []string
	nextOrderIDIndex int
}

func (f *fakeConnector) Submit(ctx context.Context, order types.PlannedOrder) (types.LiveOrder, error) {
	if f.submitErr != nil {
		return types.LiveOrder{}, f.submitErr
	}
	f.submitted = append(f.submitted, order)
	f.nextOrderIDIndex++
	return types.LiveOrder{
		OrderID:       order.ClientOrderID,
		ClientOrderID: order.ClientOrderID,
		Side:          order.Side,
		Price:         order.Price,
		QtyOpen:       order.Qty,
		Layer:         order.Layer,
	}, nil
}

func (f *fakeConnector) Cancel(ctx context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeConnector) CancelReplace(ctx context.Context, orderID string, order types.PlannedOrder) (types.LiveOrder, error) {
	f.canceled = append(f.canceled, orderID)
	return f.Submit(ctx, order)
}

func planned(side types.Side, clientID string) types.PlannedOrder {
	return types.PlannedOrder{
		Side:          side,
		Price:         decimal.NewFromInt(100),
		Qty:           decimal.NewFromInt(1),
		Layer:         types.LayerL0,
		ClientOrderID: clientID,
	}
}

func TestFlushDispatchesAndPopulatesLiveOrders(t *testing.T) {
	conn := &fakeConnector{}
	e := New(conn, nil)
	e.Enqueue(Operation{Kind: OpCreate, Priority: PriorityCreate, Order: planned(types.Buy, "c1")})

	results := e.Flush(context.Background())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(e.LiveOrders()) != 1 {
		t.Errorf("expected 1 live order, got %d", len(e.LiveOrders()))
	}
}

func TestFlushOrdersByPriority(t *testing.T) {
	conn := &fakeConnector{}
	e := New(conn, nil)
	e.Enqueue(Operation{Kind: OpCreate, Priority: PriorityCreate, Order: planned(types.Buy, "create1")})
	e.Enqueue(Operation{Kind: OpCancel, Priority: PriorityCancel, OrderID: "cancel1"})
	e.Enqueue(Operation{Kind: OpCreate, Priority: PriorityFill, Order: planned(types.Buy, "fill1")})

	batch := e.drain()
	if len(batch) != 3 {
		t.Fatalf("expected 3 ops drained, got %d", len(batch))
	}
	if batch[0].Priority != PriorityFill {
		t.Errorf("first op priority = %v, want Fill (highest priority)", batch[0].Priority)
	}
	if batch[1].Priority != PriorityCancel {
		t.Errorf("second op priority = %v, want Cancel", batch[1].Priority)
	}
	if batch[2].Priority != PriorityCreate {
		t.Errorf("third op priority = %v, want Create", batch[2].Priority)
	}
}

func TestDrainCapsAtMicroBatchMaxOps(t *testing.T) {
	conn := &fakeConnector{}
	e := New(conn, nil)
	for i := 0; i < microBatchMaxOps+5; i++ {
		e.Enqueue(Operation{Kind: OpCancel, Priority: PriorityCancel, OrderID: "o"})
	}
	batch := e.drain()
	if len(batch) != microBatchMaxOps {
		t.Errorf("drain() len = %d, want %d", len(batch), microBatchMaxOps)
	}
	if e.Pending() != 5 {
		t.Errorf("Pending() after drain = %d, want 5 remaining", e.Pending())
	}
}

func TestFlushReportsRejectReasonOnError(t *testing.T) {
	sentinel := errors.New("would immediately match")
	conn := &fakeConnector{submitErr: sentinel}
	classify := func(err error) RejectReason {
		if errors.Is(err, sentinel) {
			return RejectWouldMatch
		}
		return RejectOther
	}
	e := New(conn, classify)
	e.Enqueue(Operation{Kind: OpCreate, Priority: PriorityCreate, Order: planned(types.Buy, "c1")})

	results := e.Flush(context.Background())
	if results[0].Reason != RejectWouldMatch {
		t.Errorf("Reason = %v, want RejectWouldMatch", results[0].Reason)
	}
	if len(e.LiveOrders()) != 0 {
		t.Error("expected no live order recorded on rejected submit")
	}
}

func TestSweepTTLEnqueuesCancelForExpiredOrders(t *testing.T) {
	conn := &fakeConnector{}
	e := New(conn, nil)
	e.liveOrders["live1"] = types.LiveOrder{
		OrderID:     "live1",
		CreatedTsNs: 0,
		TTL:         1 * time.Millisecond,
	}
	n := e.SweepTTL(int64(10 * time.Millisecond))
	if n != 1 {
		t.Fatalf("SweepTTL returned %d, want 1", n)
	}
	if e.Pending() != 1 {
		t.Fatalf("expected 1 queued cancel op, got %d pending", e.Pending())
	}
	batch := e.drain()
	if batch[0].Kind != OpCancel || batch[0].Priority != PriorityCancel {
		t.Errorf("expected a PriorityCancel OpCancel, got %+v", batch[0])
	}
}

func TestPlanBurstDeploySplitsIntoAtMostThreeWaves(t *testing.T) {
	var orders []types.PlannedOrder
	for i := 0; i < 10; i++ {
		orders = append(orders, planned(types.Buy, "o"))
	}
	waves := PlanBurstDeploy(orders)
	if len(waves) > burstWaveCount {
		t.Errorf("got %d waves, want at most %d", len(waves), burstWaveCount)
	}
	total := 0
	for _, w := range waves {
		total += len(w.Orders)
	}
	if total != len(orders) {
		t.Errorf("waves cover %d orders, want %d", total, len(orders))
	}
}

func TestBurstDeploySleepsBetweenWavesNotAfterLast(t *testing.T) {
	conn := &fakeConnector{}
	e := New(conn, nil)
	waves := PlanBurstDeploy([]types.PlannedOrder{planned(types.Buy, "a"), planned(types.Buy, "b"), planned(types.Buy, "c")})

	sleeps := 0
	e.BurstDeploy(context.Background(), waves, func(time.Duration) { sleeps++ })

	if sleeps != len(waves)-1 {
		t.Errorf("sleeps = %d, want %d (no sleep after the final wave)", sleeps, len(waves)-1)
	}
	if e.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3 (all orders enqueued)", e.Pending())
	}
}
