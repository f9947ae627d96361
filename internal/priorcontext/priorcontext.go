// Package priorcontext builds the textual prior-context string the
// Session Manager hands to the evaluator before each new window (spec.md
// §4.6), applying the Frequency semantics a rule's wire definition
// commits to but the base component design leaves implicit:
//
//   - always: the previous verdict is forwarded as context only, never
//     suppressing re-evaluation.
//   - at_least_once: once any window reports compliant=true, the rule is
//     marked SATISFIED in every subsequent window's context and the
//     evaluator is instructed not to re-flag it.
//   - at_least_n: SATISFIED once N distinct compliant windows have been
//     observed; a running count is tracked per rule id.
package priorcontext

import (
	"fmt"
	"sort"
	"strings"

	"github.com/technosupport/vision-compliance/internal/compliance"
)

// ruleState is the compact per-rule metadata the Session retains across
// windows once a window's Report has been emitted and its full
// Observations discarded (spec.md §3's Ownership note).
type ruleState struct {
	satisfied     bool
	compliantHits int
	lastVerdict   compliance.Verdict
	haveVerdict   bool
}

// Builder accumulates verdicts across a session's windows and renders
// the prior-context string fed to the next window's evaluator call. One
// Builder belongs to one Session.
type Builder struct {
	rules map[string]compliance.Rule
	state map[string]*ruleState
}

func New(rules []compliance.Rule) *Builder {
	b := &Builder{
		rules: make(map[string]compliance.Rule, len(rules)),
		state: make(map[string]*ruleState, len(rules)),
	}
	for _, r := range rules {
		b.rules[r.ID] = r
		b.state[r.ID] = &ruleState{}
	}
	return b
}

// Record folds one window's verdicts into the running state. Called only
// after that window's Report has been emitted, per spec.md §5's ordering
// guarantee that cross-window state updates follow Report emission.
func (b *Builder) Record(verdicts []compliance.Verdict) {
	for _, v := range verdicts {
		st, ok := b.state[v.RuleID]
		if !ok {
			continue
		}
		st.lastVerdict = v
		st.haveVerdict = true
		if !v.Compliant {
			continue
		}
		st.compliantHits++
		rule := b.rules[v.RuleID]
		switch rule.EffectiveFrequency() {
		case compliance.FrequencyAtLeastOnce:
			st.satisfied = true
		case compliance.FrequencyAtLeastN:
			n := rule.FrequencyCount
			if n <= 0 {
				n = 1
			}
			if st.compliantHits >= n {
				st.satisfied = true
			}
		}
	}
}

// Satisfied reports whether a rule has been marked SATISFIED and should
// not be re-flagged by the next window's evaluator call.
func (b *Builder) Satisfied(ruleID string) bool {
	st, ok := b.state[ruleID]
	return ok && st.satisfied
}

// Build renders the accumulated state into the free-text string passed
// as Policy.PriorContext. Rule order is deterministic (sorted by id) so
// Build is reproducible for a given state, matching the round-trip
// property expected of everything else in the external interface.
func (b *Builder) Build() string {
	ids := make([]string, 0, len(b.state))
	for id := range b.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var lines []string
	for _, id := range ids {
		st := b.state[id]
		rule := b.rules[id]
		switch {
		case st.satisfied:
			lines = append(lines, fmt.Sprintf("rule %s: SATISFIED (%s) — do not re-flag", id, rule.EffectiveFrequency()))
		case st.haveVerdict:
			status := "non-compliant"
			if st.lastVerdict.Compliant {
				status = "compliant"
			}
			lines = append(lines, fmt.Sprintf("rule %s: previous window was %s — %s", id, status, st.lastVerdict.Reason))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
