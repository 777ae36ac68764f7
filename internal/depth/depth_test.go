package depth

import (
	"testing"
	"time"
)

func TestSpreadPressureDefaultsNeutral(t *testing.T) {
	c := NewController()
	if got := c.SpreadPressure(); got != 0.5 {
		t.Errorf("SpreadPressure with no samples = %v, want 0.5", got)
	}
}

func TestSpreadPressureRisesWhenTight(t *testing.T) {
	c := NewController()
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.UpdateMarket(1.0, 100, 100, now.Add(time.Duration(i)*time.Second)) // far tighter than 8bp target
	}
	if got := c.SpreadPressure(); got < 0.8 {
		t.Errorf("expected high spread pressure for tight spread, got %v", got)
	}
}

func TestGatePressureTightensAllocation(t *testing.T) {
	c := NewController()
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.UpdateMarket(8.0, 500, 500, now.Add(time.Duration(i)*time.Second))
	}
	c.UpdateGate(0.1, 0.1, now.Add(11*time.Second))
	c.UpdateGate(0.1, 0.1, now.Add(12*time.Second))

	alloc := c.Allocate()
	if alloc.GatePressure < gateEmergencyLevel {
		t.Fatalf("expected gate emergency mode, pressure=%v", alloc.GatePressure)
	}
	if alloc.L1SlotsPerSide > 1 {
		t.Errorf("expected L1 slots capped at 1 under gate emergency, got %d", alloc.L1SlotsPerSide)
	}
	if alloc.L0SlotsPerSide < minL0Slots {
		t.Errorf("expected L0 slots at least %d, got %d", minL0Slots, alloc.L0SlotsPerSide)
	}
}

func TestAllocateRespectsMaxTotalSlots(t *testing.T) {
	c := NewController()
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.UpdateMarket(0.5, 50, 50, now.Add(time.Duration(i)*time.Second))
	}
	alloc := c.Allocate()
	total := (alloc.L0SlotsPerSide + alloc.L1SlotsPerSide) * 2
	if total > maxTotalSlots {
		t.Errorf("total slots %d exceeds max %d", total, maxTotalSlots)
	}
}
