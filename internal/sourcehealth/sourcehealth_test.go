package sourcehealth_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/technosupport/vision-compliance/internal/sourcehealth"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	tr := sourcehealth.NewTracker()
	var last = sourcehealth.MinBackoff
	for i := 0; i < 10; i++ {
		b, exhausted := tr.RecordFailure()
		require.False(t, exhausted)
		require.GreaterOrEqual(t, b, last)
		require.LessOrEqual(t, b, sourcehealth.MaxBackoff)
		last = b
	}
}

func TestFirstFailureReturnsMinBackoff(t *testing.T) {
	tr := sourcehealth.NewTracker()
	b, exhausted := tr.RecordFailure()
	require.False(t, exhausted)
	require.Equal(t, sourcehealth.MinBackoff, b)
}

func TestExhaustedAfterBudget(t *testing.T) {
	tr := sourcehealth.NewTracker()
	var exhausted bool
	for i := 0; i < sourcehealth.FailureBudget; i++ {
		_, exhausted = tr.RecordFailure()
	}
	require.True(t, exhausted)
	require.Equal(t, sourcehealth.FailureBudget, tr.ConsecutiveFailures())
}

func TestSuccessResets(t *testing.T) {
	tr := sourcehealth.NewTracker()
	tr.RecordFailure()
	tr.RecordFailure()
	tr.RecordSuccess()
	degraded, _ := tr.Degraded()
	require.False(t, degraded)
	require.Equal(t, 0, tr.ConsecutiveFailures())
}
