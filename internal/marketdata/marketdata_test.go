package marketdata

import (
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

func TestSnapshotUsesPrimaryWhenFresh(t *testing.T) {
	f := NewFeed("BTC-USD")
	now := time.Now()
	f.UpdateBook(dec("100.0"), dec("100.2"), now)

	snap := f.Snapshot(now)
	if snap.Source != types.SourcePrimary {
		t.Fatalf("source = %v, want primary", snap.Source)
	}
	if !snap.Mid.Equal(dec("100.1")) {
		t.Errorf("mid = %s, want 100.1", snap.Mid)
	}
	if snap.IsStale {
		t.Error("fresh primary snapshot marked stale")
	}
}

func TestSnapshotFallsBackToSecondary(t *testing.T) {
	f := NewFeed("BTC-USD")
	stale := time.Now().Add(-2 * time.Second)
	f.UpdateBook(dec("100.0"), dec("100.2"), stale)

	now := time.Now()
	f.AddTrade(dec("101.0"), dec("1.0"), now)

	snap := f.Snapshot(now)
	if snap.Source != types.SourceSecondary {
		t.Fatalf("source = %v, want secondary", snap.Source)
	}
	if !snap.Mid.Equal(dec("101.0")) {
		t.Errorf("mid = %s, want 101.0", snap.Mid)
	}
}

func TestSnapshotFallsBackToLastKnown(t *testing.T) {
	f := NewFeed("BTC-USD")
	now := time.Now()
	f.UpdateBook(dec("50.0"), dec("50.2"), now)

	later := now.Add(10 * time.Second)
	snap := f.Snapshot(later)
	if snap.Source != types.SourceFallback {
		t.Fatalf("source = %v, want fallback", snap.Source)
	}
	if !snap.IsStale {
		t.Error("fallback snapshot should be marked stale")
	}
	if !snap.Mid.IsPositive() {
		t.Error("fallback mid must be positive")
	}
}

func TestSnapshotNeverReturnsZeroMid(t *testing.T) {
	f := NewFeed("BTC-USD")
	snap := f.Snapshot(time.Now())
	if snap.Source != types.SourceEmergency {
		t.Fatalf("source = %v, want emergency", snap.Source)
	}
	if !snap.Mid.IsPositive() {
		t.Error("emergency mid must be positive, never zero")
	}
}

func TestStatsTracksSwitchCount(t *testing.T) {
	f := NewFeed("BTC-USD")
	now := time.Now()

	f.UpdateBook(dec("100.0"), dec("100.2"), now)
	f.Snapshot(now) // primary

	stale := now.Add(2 * time.Second)
	f.AddTrade(dec("101.0"), dec("1.0"), stale)
	f.Snapshot(stale) // secondary: switch 1

	f.Snapshot(stale) // still secondary: no switch

	later := stale.Add(10 * time.Second)
	f.Snapshot(later) // fallback: switch 2

	stats := f.Stats()
	if stats.SwitchCount != 2 {
		t.Errorf("SwitchCount = %d, want 2", stats.SwitchCount)
	}
	if stats.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", stats.TotalRequests)
	}
}

func TestVWAPWeightsByQty(t *testing.T) {
	f := NewFeed("BTC-USD")
	now := time.Now()
	f.AddTrade(dec("100.0"), dec("1.0"), now)
	f.AddTrade(dec("200.0"), dec("3.0"), now)

	snap := f.Snapshot(now)
	// vwap = (100*1 + 200*3) / 4 = 175
	if !snap.Mid.Equal(dec("175")) {
		t.Errorf("vwap mid = %s, want 175", snap.Mid)
	}
}
