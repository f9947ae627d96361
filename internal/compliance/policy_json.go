package compliance

import (
	"encoding/json"
	"fmt"
)

// ParsePolicy decodes the canonical JSON policy document (spec.md §6).
// Unknown fields are ignored (json.Unmarshal's default), missing fields
// keep their zero value — frequency defaults to "always" via
// Rule.EffectiveFrequency, not at parse time, so a round-tripped Policy
// stays byte-identical to what was sent.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("compliance: parse policy: %w", err)
	}
	return p, nil
}

// MarshalReport renders a Report as the canonical JSON surface.
func MarshalReport(r *Report) ([]byte, error) {
	return json.Marshal(r)
}
