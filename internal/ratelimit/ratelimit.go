// Package ratelimit provides token-bucket rate limiting per budget
// stream (fill, reprice, cancel), refilled continuously from the
// governor's 10-second budgets rather than reset in hard 10s windows.
// A critical bypass lets the cross-response path push through during a
// cooldown without ever exceeding the venue's own hardware weight cap.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity is the burst allowance,
// rate is tokens refilled per second (budget/10s).
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
	count    int // requests admitted in the current 10s accounting window
	window   time.Time
}

// NewBucket creates a bucket with the given burst capacity and 10s
// budget. Rate is derived as budget/10.
func NewBucket(capacity float64, budget10s float64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     budget10s / 10.0,
		lastTime: now,
		window:   now,
	}
}

// SetBudget re-tunes the bucket's capacity and refill rate, called
// whenever the governor recomputes budgets. Existing tokens are
// clamped to the new capacity, never topped up.
func (b *Bucket) SetBudget(capacity float64, budget10s float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.rate = budget10s / 10.0
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastTime).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastTime = now
	}
	if now.Sub(b.window) >= 10*time.Second {
		b.count = 0
		b.window = now
	}
}

// TryAcquire attempts to consume one token, returning whether it
// succeeded. Never blocks.
func (b *Bucket) TryAcquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= 1 {
		b.tokens--
		b.count++
		return true
	}
	return false
}

// UsagePct returns admitted-requests / capacity over the current 10s
// accounting window, as a percentage.
func (b *Bucket) UsagePct(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.capacity <= 0 {
		return 0
	}
	return (float64(b.count) / b.capacity) * 100
}

// Stream identifies one of the three governed message streams.
type Stream int

const (
	StreamFill Stream = iota
	StreamReprice
	StreamCancel
)

// Limiter groups the three budget-stream buckets and a shared weight
// ceiling that even critical bypasses may never cross.
type Limiter struct {
	Fill, Reprice, Cancel *Bucket

	hardCap *Bucket // venue-wide hardware weight cap, shared across streams
}

// New creates a limiter with all buckets seeded to their burst capacity.
// hardCapacity/hardRate model the venue's absolute weight ceiling.
func New(hardCapacity, hardRate float64, now time.Time) *Limiter {
	return &Limiter{
		Fill:    NewBucket(20, 20, now),
		Reprice: NewBucket(20, 20, now),
		Cancel:  NewBucket(80, 80, now),
		hardCap: &Bucket{tokens: hardCapacity, capacity: hardCapacity, rate: hardRate, lastTime: now, window: now},
	}
}

func (l *Limiter) bucketFor(s Stream) *Bucket {
	switch s {
	case StreamFill:
		return l.Fill
	case StreamReprice:
		return l.Reprice
	default:
		return l.Cancel
	}
}

// TryAcquire admits one request on the given stream, subject to both
// the stream's own budget and the shared hardware weight cap.
func (l *Limiter) TryAcquire(s Stream, now time.Time) bool {
	if !l.hardCap.TryAcquire(now) {
		return false
	}
	if l.bucketFor(s).TryAcquire(now) {
		return true
	}
	// return the hardware-cap token since the stream-level check failed
	l.hardCap.mu.Lock()
	l.hardCap.tokens++
	if l.hardCap.tokens > l.hardCap.capacity {
		l.hardCap.tokens = l.hardCap.capacity
	}
	l.hardCap.mu.Unlock()
	return false
}

// TryAcquireCritical bypasses the per-stream bucket (for the
// cross-response path during a governor cooldown) but still respects
// the venue's hardware weight cap — a bypass can never exceed what the
// exchange itself would reject.
func (l *Limiter) TryAcquireCritical(now time.Time) bool {
	return l.hardCap.TryAcquire(now)
}

// UsagePct reports the given stream's usage over its own budget.
func (l *Limiter) UsagePct(s Stream, now time.Time) float64 {
	return l.bucketFor(s).UsagePct(now)
}
