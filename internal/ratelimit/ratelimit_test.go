package ratelimit

import (
	"testing"
	"time"
)

func TestBucketAdmitsUpToCapacity(t *testing.T) {
	now := time.Now()
	b := NewBucket(3, 3, now)
	for i := 0; i < 3; i++ {
		if !b.TryAcquire(now) {
			t.Fatalf("expected token %d to be admitted", i)
		}
	}
	if b.TryAcquire(now) {
		t.Error("expected 4th immediate request to be denied")
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	now := time.Now()
	b := NewBucket(1, 10, now) // 1 token/sec
	if !b.TryAcquire(now) {
		t.Fatal("expected first token to be admitted")
	}
	if b.TryAcquire(now) {
		t.Error("expected immediate second request to be denied")
	}
	later := now.Add(1100 * time.Millisecond)
	if !b.TryAcquire(later) {
		t.Error("expected token to refill after 1.1s at 1/sec")
	}
}

func TestBucketUsagePctTracksWindow(t *testing.T) {
	now := time.Now()
	b := NewBucket(10, 10, now)
	for i := 0; i < 5; i++ {
		b.TryAcquire(now)
	}
	if pct := b.UsagePct(now); pct != 50.0 {
		t.Errorf("UsagePct = %v, want 50.0", pct)
	}
}

func TestBucketSetBudgetClampsExcessTokens(t *testing.T) {
	now := time.Now()
	b := NewBucket(10, 10, now)
	b.SetBudget(3, 3)
	if b.tokens > 3 {
		t.Errorf("tokens = %v, want clamped to new capacity 3", b.tokens)
	}
}

func TestLimiterRespectsStreamBudget(t *testing.T) {
	now := time.Now()
	l := New(1000, 1000, now)
	l.Fill.SetBudget(1, 1)
	if !l.TryAcquire(StreamFill, now) {
		t.Fatal("expected first fill acquire to succeed")
	}
	if l.TryAcquire(StreamFill, now) {
		t.Error("expected second fill acquire to be denied by stream budget")
	}
}

func TestLimiterHardCapBindsAcrossStreams(t *testing.T) {
	now := time.Now()
	l := New(1, 1, now)
	if !l.TryAcquire(StreamFill, now) {
		t.Fatal("expected first request to pass the hardware cap")
	}
	if l.TryAcquire(StreamCancel, now) {
		t.Error("expected second request on a different stream to still be denied by the shared hardware cap")
	}
}

func TestLimiterReturnsHardCapTokenOnStreamDenial(t *testing.T) {
	now := time.Now()
	l := New(5, 5, now)
	l.Fill.SetBudget(0, 0)
	if l.TryAcquire(StreamFill, now) {
		t.Fatal("expected fill acquire to be denied by its own zero budget")
	}
	// the hard-cap token spent on the failed attempt should have been returned
	if !l.TryAcquire(StreamCancel, now) {
		t.Error("expected hard-cap token to be available for a different stream")
	}
}

func TestLimiterCriticalBypassIgnoresStreamBudget(t *testing.T) {
	now := time.Now()
	l := New(5, 5, now)
	l.Fill.SetBudget(0, 0)
	if !l.TryAcquireCritical(now) {
		t.Error("expected critical bypass to succeed despite zero stream budget")
	}
}

func TestLimiterCriticalBypassStillBoundByHardCap(t *testing.T) {
	now := time.Now()
	l := New(1, 1, now)
	if !l.TryAcquireCritical(now) {
		t.Fatal("expected first critical acquire to succeed")
	}
	if l.TryAcquireCritical(now) {
		t.Error("expected second critical acquire to be denied by the hardware cap")
	}
}
