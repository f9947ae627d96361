package compliance_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/technosupport/vision-compliance/internal/compliance"
)

const samplePolicy = `{
  "rules": [
    {"id": "r1", "description": "helmet at all times", "severity": "high", "mode": "incident", "frequency": "always"},
    {"id": "r2", "description": "say hello once", "severity": "low", "mode": "incident", "frequency": "at_least_once"}
  ],
  "custom_prompt": "focus on PPE",
  "include_audio": true,
  "reference_images": [
    {"id": "u1", "label": "badge", "image_base64": "Zm9v", "category": "badges", "match_mode": "must_match", "checks": ["blue lanyard"]}
  ],
  "enabled_reference_ids": ["u1"]
}`

func TestParsePolicyRoundTrip(t *testing.T) {
	p, err := compliance.ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)
	require.Equal(t, compliance.FrequencyAtLeastOnce, p.Rules[1].Frequency)
	require.True(t, p.IncludeAudio)

	out, err := json.Marshal(p)
	require.NoError(t, err)

	var reparsed compliance.Policy
	require.NoError(t, json.Unmarshal(out, &reparsed))
	require.Equal(t, p, reparsed)
}

func TestRuleEffectiveFrequencyDefaultsToAlways(t *testing.T) {
	r := compliance.Rule{ID: "r1"}
	require.Equal(t, compliance.FrequencyAlways, r.EffectiveFrequency())
}

func TestEnabledReferencesFiltersAndPreservesOrder(t *testing.T) {
	p := compliance.Policy{
		ReferenceImages: []compliance.ReferenceImage{
			{ID: "a"}, {ID: "b"}, {ID: "c"},
		},
		EnabledReferenceIDs: []string{"c", "a"},
	}
	enabled := p.EnabledReferences()
	require.Len(t, enabled, 2)
	require.Equal(t, "a", enabled[0].ID)
	require.Equal(t, "c", enabled[1].ID)
}

func TestReportBuildIncidents(t *testing.T) {
	r := &compliance.Report{
		AllVerdicts: []compliance.Verdict{
			{RuleID: "r1", Compliant: true},
			{RuleID: "r2", Compliant: false},
		},
	}
	r.BuildIncidents()
	require.Len(t, r.Incidents, 1)
	require.Equal(t, "r2", r.Incidents[0].RuleID)
	require.False(t, r.OverallCompliant)
}
