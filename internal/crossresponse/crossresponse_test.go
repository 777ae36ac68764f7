package crossresponse

import (
	"testing"
	"time"

	"marketmaker-core/pkg/types"
)

func TestComputeAdjustmentSevereImbalanceReplaces(t *testing.T) {
	adj := computeAdjustment(types.Buy, types.LayerL0, 0.15)
	if adj.Kind != types.AdjustReplace {
		t.Errorf("Kind = %v, want Replace for severe imbalance", adj.Kind)
	}
	if adj.Side != types.Sell {
		t.Errorf("Side = %v, want Sell (opposite of the Buy fill)", adj.Side)
	}
	if adj.TickMove != 2 || adj.SizeMult != 1.2 {
		t.Errorf("got TickMove=%d SizeMult=%v, want 2/1.2", adj.TickMove, adj.SizeMult)
	}
}

func TestComputeAdjustmentMildImbalanceReprices(t *testing.T) {
	adj := computeAdjustment(types.Sell, types.LayerL0, 0.07)
	if adj.Kind != types.AdjustReprice {
		t.Errorf("Kind = %v, want Reprice for mild imbalance", adj.Kind)
	}
	if adj.Side != types.Buy {
		t.Errorf("Side = %v, want Buy (opposite of the Sell fill)", adj.Side)
	}
}

func TestComputeAdjustmentBalancedRefills(t *testing.T) {
	adj := computeAdjustment(types.Buy, types.LayerL1, 0.01)
	if adj.Kind != types.AdjustNew {
		t.Errorf("Kind = %v, want New when balanced", adj.Kind)
	}
	if adj.Layer != types.LayerL1 {
		t.Errorf("Layer = %v, want same layer as the fill when refilling", adj.Layer)
	}
}

func TestComputeAdjustmentUsesAbsoluteImbalance(t *testing.T) {
	adj := computeAdjustment(types.Buy, types.LayerL0, -0.15)
	if adj.Kind != types.AdjustReplace {
		t.Errorf("Kind = %v, want Replace for severe negative imbalance", adj.Kind)
	}
}

func TestRespondServesFromCacheWithinTTL(t *testing.T) {
	r := New()
	now := time.Now()
	r.Precompute(0.2, now)

	adj := r.Respond(types.Buy, types.LayerL0, 0.2, now, now.Add(500*time.Millisecond))
	if adj.Kind != types.AdjustReplace {
		t.Errorf("expected cached severe-imbalance adjustment, got %v", adj.Kind)
	}
}

func TestRespondRecomputesAfterCacheExpiry(t *testing.T) {
	r := New()
	now := time.Now()
	r.Precompute(0.2, now) // cache says severe

	later := now.Add(2 * time.Second) // past the 1s cache TTL
	adj := r.Respond(types.Buy, types.LayerL0, 0.01, now, later)
	if adj.Kind != types.AdjustNew {
		t.Errorf("expected recomputed balanced adjustment after TTL expiry, got %v", adj.Kind)
	}
}

func TestLatencyP99TracksSlowResponses(t *testing.T) {
	r := New()
	now := time.Now()
	for i := 0; i < 100; i++ {
		r.Respond(types.Buy, types.LayerL0, 0.01, now, now.Add(10*time.Millisecond))
	}
	r.Respond(types.Buy, types.LayerL0, 0.01, now, now.Add(100*time.Millisecond))

	if p99 := r.LatencyP99(); p99 < 10*time.Millisecond {
		t.Errorf("LatencyP99 = %v, want >= 10ms given sustained 10ms samples", p99)
	}
}

func TestSlowResponsePctCountsOverBudget(t *testing.T) {
	r := New()
	now := time.Now()
	r.Respond(types.Buy, types.LayerL0, 0.01, now, now.Add(10*time.Millisecond))
	r.Respond(types.Buy, types.LayerL0, 0.01, now, now.Add(60*time.Millisecond))

	if pct := r.SlowResponsePct(); pct != 50.0 {
		t.Errorf("SlowResponsePct = %v, want 50.0", pct)
	}
}
