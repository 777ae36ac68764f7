package planner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func basicInputs() Inputs {
	return Inputs{
		Mid:              dec("100"),
		ReservationPrice: dec("100"),
		HalfSpread:       dec("0.1"),
		WidenBps:         0,
		SizeScale:        1.0,
		TTLScale:         1.0,
		BuyMultiplier:    1.0,
		SellMultiplier:   1.0,
		Layers: []LayerConfig{
			{Layer: types.LayerL0, Count: 2, SpreadBps: 5, SizeRange: dec("1000"), BaseTTL: 10 * time.Second},
		},
	}
}

func TestPlanProducesBothSides(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	orders := Plan(basicInputs(), rng)

	var buys, sells int
	for _, o := range orders {
		if o.Side == types.Buy {
			buys++
		} else {
			sells++
		}
	}
	if buys != 2 || sells != 2 {
		t.Fatalf("got buys=%d sells=%d, want 2 and 2", buys, sells)
	}
}

func TestPlanBuyBelowSellAbove(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	orders := Plan(basicInputs(), rng)

	for _, o := range orders {
		if o.Side == types.Buy && o.Price.GreaterThanOrEqual(dec("100")) {
			t.Errorf("buy order price %s should be below mid 100", o.Price)
		}
		if o.Side == types.Sell && o.Price.LessThanOrEqual(dec("100")) {
			t.Errorf("sell order price %s should be above mid 100", o.Price)
		}
	}
}

func TestPlanAssignsUniqueClientOrderIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	orders := Plan(basicInputs(), rng)

	seen := make(map[string]bool)
	for _, o := range orders {
		if seen[o.ClientOrderID] {
			t.Fatalf("duplicate client_order_id %s", o.ClientOrderID)
		}
		seen[o.ClientOrderID] = true
	}
}

func TestPlanZeroCountLayerProducesNoOrders(t *testing.T) {
	in := basicInputs()
	in.Layers[0].Count = 0
	rng := rand.New(rand.NewSource(1))
	orders := Plan(in, rng)
	if len(orders) != 0 {
		t.Errorf("expected no orders for zero-count layer, got %d", len(orders))
	}
}

func TestPlanSizeScaleReducesQty(t *testing.T) {
	full := basicInputs()
	rng1 := rand.New(rand.NewSource(42))
	ordersFull := Plan(full, rng1)

	scaled := basicInputs()
	scaled.SizeScale = 0.3
	rng2 := rand.New(rand.NewSource(42))
	ordersScaled := Plan(scaled, rng2)

	if len(ordersFull) != len(ordersScaled) {
		t.Fatalf("order count mismatch: %d vs %d", len(ordersFull), len(ordersScaled))
	}
	for i := range ordersFull {
		if !ordersScaled[i].Qty.LessThan(ordersFull[i].Qty) {
			t.Errorf("order %d: scaled qty %s should be less than full qty %s", i, ordersScaled[i].Qty, ordersFull[i].Qty)
		}
	}
}
