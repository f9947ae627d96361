// Package compliance holds the data model shared by the Dispatch Engine
// and Session Manager: policies supplied by the caller, and the verdicts
// and reports produced per analysis window.
package compliance

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type RuleMode string

const (
	ModeIncident  RuleMode = "incident"
	ModeChecklist RuleMode = "checklist"
)

// Frequency governs how a rule's prior verdict is carried into the next
// window's evaluator prompt. See internal/priorcontext.
type Frequency string

const (
	FrequencyAlways       Frequency = "always"
	FrequencyAtLeastOnce  Frequency = "at_least_once"
	FrequencyAtLeastN     Frequency = "at_least_n"
)

type Rule struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	Type             string    `json:"type,omitempty"`
	Severity         Severity  `json:"severity"`
	Mode             RuleMode  `json:"mode"`
	ValidityDuration int       `json:"validity_duration,omitempty"` // seconds, checklist only
	Frequency        Frequency `json:"frequency,omitempty"`
	FrequencyCount   int       `json:"frequency_count,omitempty"` // at_least_n only
}

// EffectiveFrequency defaults unset Frequency to "always", matching the
// incident-mode default spelled out in spec.md §4.6.
func (r Rule) EffectiveFrequency() Frequency {
	if r.Frequency == "" {
		return FrequencyAlways
	}
	return r.Frequency
}

type MatchMode string

const (
	MatchMustMatch    MatchMode = "must_match"
	MatchMustNotMatch MatchMode = "must_not_match"
)

type ReferenceCategory string

const (
	CategoryPeople  ReferenceCategory = "people"
	CategoryBadges  ReferenceCategory = "badges"
	CategoryObjects ReferenceCategory = "objects"
)

type ReferenceImage struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	ImageBase64 string            `json:"image_base64"`
	Category    ReferenceCategory `json:"category"`
	MatchMode   MatchMode         `json:"match_mode"`
	Checks      []string          `json:"checks,omitempty"`
}

// Policy is immutable for the duration of a session — a policy change
// implies stop + start with a new Policy (spec.md §5).
type Policy struct {
	Rules               []Rule           `json:"rules"`
	CustomPrompt        string           `json:"custom_prompt,omitempty"`
	IncludeAudio        bool             `json:"include_audio"`
	ReferenceImages     []ReferenceImage `json:"reference_images,omitempty"`
	EnabledReferenceIDs []string         `json:"enabled_reference_ids,omitempty"`
	PriorContext        string           `json:"prior_context,omitempty"`
}

// EnabledReferences returns the subset of ReferenceImages named in
// EnabledReferenceIDs, preserving Policy.ReferenceImages order.
func (p Policy) EnabledReferences() []ReferenceImage {
	if len(p.EnabledReferenceIDs) == 0 {
		return nil
	}
	enabled := make(map[string]bool, len(p.EnabledReferenceIDs))
	for _, id := range p.EnabledReferenceIDs {
		enabled[id] = true
	}
	out := make([]ReferenceImage, 0, len(p.EnabledReferenceIDs))
	for _, ref := range p.ReferenceImages {
		if enabled[ref.ID] {
			out = append(out, ref)
		}
	}
	return out
}

type ChecklistStatus string

const (
	ChecklistPending   ChecklistStatus = "pending"
	ChecklistCompliant ChecklistStatus = "compliant"
	ChecklistExpired   ChecklistStatus = "expired"
)

type Verdict struct {
	RuleID         string          `json:"rule_id"`
	Compliant      bool            `json:"compliant"`
	Severity       Severity        `json:"severity"`
	Reason         string          `json:"reason"`
	EvidenceAt     time.Time       `json:"evidence_at"`
	Mode           RuleMode        `json:"mode"`
	ChecklistState ChecklistStatus `json:"checklist_state,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

type Observation struct {
	Index       int     `json:"index"`
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description"`
	Trigger     string  `json:"trigger"`
	ChangeScore float64 `json:"change_score"`
	ImageBase64 string  `json:"image_base64"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	FullText string              `json:"full_text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration"`
}

// Report is produced once per analysis window (or once total, for a file
// session).
type Report struct {
	SessionID           string        `json:"video_id"`
	Summary             string        `json:"summary"`
	OverallCompliant    bool          `json:"overall_compliant"`
	Incidents           []Verdict     `json:"incidents"`
	AllVerdicts         []Verdict     `json:"all_verdicts"`
	Recommendations     string        `json:"recommendations,omitempty"`
	FrameObservations   []Observation `json:"frame_observations"`
	Transcript          *Transcript   `json:"transcript,omitempty"`
	AnalyzedAt          time.Time     `json:"analyzed_at"`
	TotalFramesAnalyzed int           `json:"total_frames_analyzed"`
	VideoDuration       float64       `json:"video_duration"`
	Error               string        `json:"error,omitempty"`
}

// BuildIncidents fills Incidents from AllVerdicts — the subset with
// Compliant=false, per spec.md §3's "incidents (subset of verdicts with
// compliant=false)".
func (r *Report) BuildIncidents() {
	r.Incidents = r.Incidents[:0]
	for _, v := range r.AllVerdicts {
		if !v.Compliant {
			r.Incidents = append(r.Incidents, v)
		}
	}
	r.OverallCompliant = len(r.Incidents) == 0
}
