package priorcontext_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/priorcontext"
)

func rules() []compliance.Rule {
	return []compliance.Rule{
		{ID: "always-rule", Frequency: compliance.FrequencyAlways},
		{ID: "once-rule", Frequency: compliance.FrequencyAtLeastOnce},
		{ID: "n-rule", Frequency: compliance.FrequencyAtLeastN, FrequencyCount: 2},
	}
}

func TestAlwaysRuleNeverSuppressed(t *testing.T) {
	b := priorcontext.New(rules())
	b.Record([]compliance.Verdict{{RuleID: "always-rule", Compliant: true}})
	require.False(t, b.Satisfied("always-rule"))
	b.Record([]compliance.Verdict{{RuleID: "always-rule", Compliant: false}})
	require.False(t, b.Satisfied("always-rule"))
}

func TestAtLeastOnceSatisfiesAfterFirstCompliantWindow(t *testing.T) {
	b := priorcontext.New(rules())
	require.False(t, b.Satisfied("once-rule"))

	b.Record([]compliance.Verdict{{RuleID: "once-rule", Compliant: true, Reason: "said hello"}})
	require.True(t, b.Satisfied("once-rule"))

	// Stays satisfied even if a later window doesn't mention it at all.
	b.Record([]compliance.Verdict{{RuleID: "always-rule", Compliant: true}})
	require.True(t, b.Satisfied("once-rule"))
}

func TestAtLeastNRequiresDistinctCompliantWindows(t *testing.T) {
	b := priorcontext.New(rules())
	b.Record([]compliance.Verdict{{RuleID: "n-rule", Compliant: true}})
	require.False(t, b.Satisfied("n-rule"))

	b.Record([]compliance.Verdict{{RuleID: "n-rule", Compliant: true}})
	require.True(t, b.Satisfied("n-rule"))
}

func TestBuildRendersSatisfiedAndPendingRulesDeterministically(t *testing.T) {
	b := priorcontext.New(rules())
	b.Record([]compliance.Verdict{
		{RuleID: "once-rule", Compliant: true, Reason: "said hello"},
		{RuleID: "always-rule", Compliant: false, Reason: "missing helmet"},
	})

	out1 := b.Build()
	out2 := b.Build()
	require.Equal(t, out1, out2)
	require.Contains(t, out1, "once-rule: SATISFIED")
	require.Contains(t, out1, "always-rule: previous window was non-compliant")
}

func TestBuildEmptyWhenNothingRecorded(t *testing.T) {
	b := priorcontext.New(rules())
	require.Equal(t, "", b.Build())
}
