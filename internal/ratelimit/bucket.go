// Package ratelimit implements the process-wide token bucket that
// governs calls to the external VLM/evaluator providers (spec.md
// §4.6, §5): one bucket enforces max_per_minute, a second enforces
// max_per_hour, and both are shared by every session in the process.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity tokens, refilled at
// capacity/per continuously. It is safe for concurrent use — this is
// the process-global lock-guarded counter spec.md's Design Notes call
// for in place of ad hoc mutable counters scattered across callers.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

func newBucket(capacity int, per time.Duration) *Bucket {
	return &Bucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(capacity) / per.Seconds(),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTake reports whether a token was available and, if not, how long
// until one will be.
func (b *Bucket) tryTake() (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	need := 1 - b.tokens
	wait = time.Duration(need/b.refillRate*1000) * time.Millisecond
	return false, wait
}

// MetricsRecorder lets a Limiter/RedisLimiter report how often a caller
// had to wait on the provider token bucket, without importing
// internal/metrics directly. Optional: an unwired limiter records
// nothing.
type MetricsRecorder interface {
	IncWait(bucket string)
}

type noopMetrics struct{}

func (noopMetrics) IncWait(string) {}

// Limiter pairs a per-minute and a per-hour bucket, both of which must
// have a token available for a call to proceed — the per-hour bucket
// exists so a burst-tolerant per-minute limit still respects a hard
// provider-side hourly ceiling.
type Limiter struct {
	perMinute *Bucket
	perHour   *Bucket
	metrics   MetricsRecorder
}

func New(perMinute, perHour int) *Limiter {
	return &Limiter{
		perMinute: newBucket(perMinute, time.Minute),
		perHour:   newBucket(perHour, time.Hour),
		metrics:   noopMetrics{},
	}
}

// SetMetrics wires a MetricsRecorder into the limiter; nil resets it to
// a no-op.
func (l *Limiter) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopMetrics{}
	}
	l.metrics = m
}

// Wait blocks until both buckets have a token, or ctx is cancelled.
// Cancellation during the wait is the only way Wait returns an error —
// rate limiting itself is never surfaced as a caller-visible failure
// per spec.md §7's RateLimited kind being "internal, not surfaced."
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		minOK, minWait := l.perMinute.tryTake()
		if !minOK {
			l.metrics.IncWait("minute")
			if err := sleepOrCancel(ctx, minWait); err != nil {
				return err
			}
			continue
		}
		hourOK, hourWait := l.perHour.tryTake()
		if !hourOK {
			l.perMinute.refund()
			l.metrics.IncWait("hour")
			if err := sleepOrCancel(ctx, hourWait); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (b *Bucket) refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens < b.capacity {
		b.tokens++
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
