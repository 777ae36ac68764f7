package toxicity

import (
	"testing"
	"time"
)

func TestSpreadCompressionScoreRequiresSamples(t *testing.T) {
	f := NewFilter()
	if got := f.SpreadCompressionScore(); got != 0 {
		t.Errorf("score with no samples = %v, want 0", got)
	}
}

func TestSpreadCompressionDetectsTightening(t *testing.T) {
	f := NewFilter()
	now := time.Now()
	// Establish a baseline of ~50bps.
	for i := 0; i < 10; i++ {
		f.UpdateSpread(50.0, now.Add(time.Duration(i)*time.Second))
	}
	// Compress sharply below baseline.
	for i := 10; i < 15; i++ {
		f.UpdateSpread(5.0, now.Add(time.Duration(i)*time.Second))
	}
	score := f.SpreadCompressionScore()
	if score <= 0.5 {
		t.Errorf("expected high compression score, got %v", score)
	}
}

func TestDepthImbalanceScore(t *testing.T) {
	f := NewFilter()
	now := time.Now()
	for i := 0; i < 5; i++ {
		f.UpdateDepth(100, 0, now.Add(time.Duration(i)*time.Second)) // fully imbalanced
	}
	score := f.DepthImbalanceScore()
	if score < 0.9 {
		t.Errorf("expected near-saturated imbalance score, got %v", score)
	}
}

func TestMomentumScoreDetectsMove(t *testing.T) {
	f := NewFilter()
	now := time.Now()
	f.UpdatePrice(100.0, now)
	f.UpdatePrice(100.5, now.Add(1*time.Second))
	f.UpdatePrice(102.0, now.Add(2*time.Second))

	score := f.MomentumScore(now.Add(2 * time.Second))
	if score <= 0 {
		t.Errorf("expected nonzero momentum score, got %v", score)
	}
}

func TestAdjustmentsBelowThresholdIsPermissive(t *testing.T) {
	f := NewFilter()
	adj := f.Adjustments(0.1)
	if adj.DefenseMode {
		t.Error("expected defense mode off below threshold")
	}
	if adj.SizeScale <= 1.0 {
		t.Errorf("expected size_scale > 1.0 below threshold, got %v", adj.SizeScale)
	}
	if adj.WidenBps != 0 {
		t.Errorf("expected zero widen below threshold, got %v", adj.WidenBps)
	}
}

func TestAdjustmentsAboveThresholdDecaysSize(t *testing.T) {
	f := NewFilter()
	adj := f.Adjustments(0.9)
	if !adj.DefenseMode {
		t.Error("expected defense mode on above threshold")
	}
	if adj.SizeScale >= 1.0 {
		t.Errorf("expected size_scale < 1.0 above threshold, got %v", adj.SizeScale)
	}
	if adj.SizeScale < minSizeScale {
		t.Errorf("size_scale %v below floor %v", adj.SizeScale, minSizeScale)
	}
	if adj.WidenBps <= 0 {
		t.Errorf("expected positive widen above threshold, got %v", adj.WidenBps)
	}
}

func TestAdjustmentsSizeScaleNeverBelowFloor(t *testing.T) {
	f := NewFilter()
	adj := f.Adjustments(1.0)
	if adj.SizeScale < minSizeScale {
		t.Errorf("size_scale %v below floor %v at max toxicity", adj.SizeScale, minSizeScale)
	}
}
