// Package sourcehealth tracks the recoverable-failure budget for a live
// Frame Source, generalizing the teacher's camera-offline AlertManager
// (open/close an alert after N consecutive failures) into the bounded
// exponential backoff contract of spec.md §4.1.
package sourcehealth

import (
	"time"
)

const (
	MinBackoff    = 100 * time.Millisecond
	MaxBackoff    = 5 * time.Second
	FailureBudget = 30
)

// Tracker accumulates consecutive decode failures for one live source and
// reports whether the source has exhausted its recovery budget.
type Tracker struct {
	consecutive int
	total       int
	backoff     time.Duration
	degradedAt  time.Time
}

func NewTracker() *Tracker {
	return &Tracker{backoff: MinBackoff}
}

// RecordFailure registers one decode failure and returns the backoff the
// caller should sleep before retrying, plus whether the failure budget is
// now exhausted (UnreadableSource should be surfaced). The first failure
// after a reset always returns MinBackoff; only later consecutive
// failures see it doubled, capped at MaxBackoff.
func (t *Tracker) RecordFailure() (backoff time.Duration, exhausted bool) {
	if t.consecutive == 0 {
		t.degradedAt = time.Now()
	}
	t.consecutive++
	t.total++

	backoff = t.backoff

	next := t.backoff * 2
	if next > MaxBackoff {
		next = MaxBackoff
	}
	t.backoff = next

	return backoff, t.consecutive >= FailureBudget
}

// RecordSuccess resets the failure count and backoff — "reset on
// success" per spec.md §4.1.
func (t *Tracker) RecordSuccess() {
	t.consecutive = 0
	t.backoff = MinBackoff
	t.degradedAt = time.Time{}
}

func (t *Tracker) ConsecutiveFailures() int { return t.consecutive }

// TotalFailures is the cumulative count of recoverable decode failures
// seen over this Tracker's lifetime, for metrics reporting.
func (t *Tracker) TotalFailures() int { return t.total }

// Degraded reports whether the source currently has any unresolved
// failures and for how long it's been in that state.
func (t *Tracker) Degraded() (bool, time.Duration) {
	if t.consecutive == 0 {
		return false, 0
	}
	return true, time.Since(t.degradedAt)
}
