package spread

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRequiredSpreadBpsCoversFeesAndVol(t *testing.T) {
	o := NewOptimizer(DefaultConfig())
	// fee component = 2*4 = 8, vol component = 0.8*10 = 8 -> 16
	got := o.RequiredSpreadBps(10.0)
	if got != 16.0 {
		t.Errorf("RequiredSpreadBps(10) = %v, want 16", got)
	}
}

func TestRequiredSpreadBpsNeverBelowHardFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MakerFeeBps = 0
	o := NewOptimizer(cfg)
	got := o.RequiredSpreadBps(0)
	if got != cfg.MinSpreadBps {
		t.Errorf("RequiredSpreadBps(0) = %v, want hard floor %v", got, cfg.MinSpreadBps)
	}
}

func TestOptimalSpreadBpsWithinRange(t *testing.T) {
	o := NewOptimizer(DefaultConfig())
	now := time.Now()
	for i := 0; i < 5; i++ {
		o.UpdateMarketData(100.0, 500, 500, now.Add(time.Duration(i)*time.Second))
	}
	got := o.OptimalSpreadBps(SideBoth)
	if got < o.cfg.MinSpreadBps || got > o.cfg.MaxSpreadBps {
		t.Errorf("OptimalSpreadBps = %v, want within [%v,%v]", got, o.cfg.MinSpreadBps, o.cfg.MaxSpreadBps)
	}
}

func TestOptimalSpreadBpsNeverBelowEVGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MakerFeeBps = -20.0 // large rebate shouldn't matter, fee component uses abs
	o := NewOptimizer(cfg)
	now := time.Now()
	// simulate high volatility
	price := 100.0
	for i := 0; i < 10; i++ {
		price *= 1.01
		o.UpdateMarketData(price, 500, 500, now.Add(time.Duration(i)*time.Second))
	}
	got := o.OptimalSpreadBps(SideBoth)
	required := o.RequiredSpreadBps(o.volatility * 10000)
	if got+1e-9 < required {
		t.Errorf("OptimalSpreadBps %v below EV-gated required %v", got, required)
	}
}

func TestSafetyTicksWidensUnderVolatility(t *testing.T) {
	cfg := DefaultConfig()
	o := NewOptimizer(cfg)
	o.volatility = 0.01 // above 0.005 threshold
	got := o.SafetyTicks(SideBuy)
	if got != cfg.SafetyTicks+1 {
		t.Errorf("SafetyTicks under high vol = %d, want %d", got, cfg.SafetyTicks+1)
	}
}

func TestSafetyTicksCapsAtThree(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SafetyTicks = 3
	o := NewOptimizer(cfg)
	o.volatility = 0.01
	if got := o.SafetyTicks(SideBuy); got != 3 {
		t.Errorf("SafetyTicks capped = %d, want 3", got)
	}
}

func TestReservationPriceShiftsWithInventory(t *testing.T) {
	o := NewOptimizer(DefaultConfig())
	mid := decimal.NewFromFloat(100.0)

	flat := o.Reservation(mid, 0.0)
	longInv := o.Reservation(mid, 1.0) // positive inventory should push reservation below mid

	if !flat.ReservationPrice.Equal(mid) {
		t.Errorf("flat reservation = %s, want mid %s", flat.ReservationPrice, mid)
	}
	if !longInv.ReservationPrice.LessThan(mid) {
		t.Errorf("long-inventory reservation %s should be below mid %s", longInv.ReservationPrice, mid)
	}
}
