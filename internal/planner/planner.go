// Package planner assembles the per-layer quote ladder: for each layer it
// centers a price on the reservation price widened by toxicity, splits the
// layer notional across a handful of sub-orders with mild size and price
// variance, and mints a PlannedOrder per sub-order with a fresh
// client_order_id.
package planner

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

// LayerConfig is the per-layer shape of the ladder, taken from strategy
// configuration.
type LayerConfig struct {
	Layer     types.Layer
	Count     int
	SpreadBps float64 // distance of this layer's center from the reservation price
	SizeRange decimal.Decimal // base per-layer notional to split across Count orders
	BaseTTL   time.Duration
}

// Inputs bundles everything the planner needs for one planning pass.
type Inputs struct {
	Mid              decimal.Decimal
	ReservationPrice decimal.Decimal
	HalfSpread       decimal.Decimal
	WidenBps         float64
	SizeScale        float64 // from toxicity.Adjustments
	TTLScale         float64 // from toxicity.Adjustments
	BuyMultiplier    float64 // from inventory.Sizing
	SellMultiplier   float64
	Layers           []LayerConfig
}

const sizeVariance = 0.20     // +-20% mild size variance per sub-order
const priceStaggerBps = 0.1 // +-0.1bp micro price staggering between sub-orders
const jitterMinMs = 500
const jitterMaxMs = 1000

// Plan builds the full ladder of PlannedOrders (both sides, all layers)
// from inputs. rng controls size/price jitter and must not be nil; callers
// wanting determinism pass a seeded *rand.Rand.
func Plan(in Inputs, rng *rand.Rand) []types.PlannedOrder {
	var orders []types.PlannedOrder
	for _, layer := range in.Layers {
		orders = append(orders, planLayer(in, layer, types.Buy, rng)...)
		orders = append(orders, planLayer(in, layer, types.Sell, rng)...)
	}
	return orders
}

func planLayer(in Inputs, layer LayerConfig, side types.Side, rng *rand.Rand) []types.PlannedOrder {
	if layer.Count <= 0 {
		return nil
	}

	centerSpread := layer.SpreadBps / 10000.0 * (1 + in.WidenBps/10000.0)
	centerOffset := decimal.NewFromFloat(centerSpread).Mul(in.Mid)

	var center decimal.Decimal
	if side == types.Buy {
		center = in.ReservationPrice.Sub(in.HalfSpread).Sub(centerOffset)
	} else {
		center = in.ReservationPrice.Add(in.HalfSpread).Add(centerOffset)
	}

	sideMult := in.BuyMultiplier
	if side == types.Sell {
		sideMult = in.SellMultiplier
	}

	perOrderNotional := layer.SizeRange.Div(decimal.NewFromInt(int64(layer.Count)))

	ttl := time.Duration(float64(layer.BaseTTL) * in.TTLScale)
	jitterMs := jitterMinMs + rng.Intn(jitterMaxMs-jitterMinMs+1)
	ttl += time.Duration(jitterMs) * time.Millisecond

	orders := make([]types.PlannedOrder, 0, layer.Count)
	for i := 0; i < layer.Count; i++ {
		sizeVar := 1.0 + (rng.Float64()*2-1)*sizeVariance
		priceStagger := (rng.Float64()*2 - 1) * priceStaggerBps / 10000.0

		notional := perOrderNotional.Mul(decimal.NewFromFloat(sizeVar * in.SizeScale * sideMult))
		price := center.Mul(decimal.NewFromFloat(1 + priceStagger))

		qty := decimal.Zero
		if price.IsPositive() {
			qty = notional.Div(price)
		}

		orders = append(orders, types.PlannedOrder{
			Side:          side,
			Price:         price,
			Qty:           qty,
			Layer:         layer.Layer,
			TTL:           ttl,
			ClientOrderID: newClientOrderID(),
			PostOnly:      true,
		})
	}
	return orders
}

// newClientOrderID mints a collision-resistant, time-ordered client order
// id. UUIDv7 embeds a millisecond timestamp so ids sort chronologically,
// matching the "time-ordered, collision-resistant" requirement without a
// hand-rolled counter.
func newClientOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
