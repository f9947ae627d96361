package dispatch

import (
	"context"

	"github.com/technosupport/vision-compliance/internal/compliance"
)

// VLM describes a batch of images under one prompt derived from the
// active Policy. It returns one description per image, in order. The
// HTTP wire format, auth, and provider choice all live on the other side
// of this interface — out of scope here per spec.md §1.
type VLM interface {
	Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error)
}

// Evaluator turns a batch of Observations (now carrying descriptions),
// an optional transcript, and the Policy into a ReportBody. priorContext
// is the free-text summary built by internal/priorcontext; it may be
// empty for file sessions or a live session's first window.
type Evaluator interface {
	Evaluate(ctx context.Context, observations []compliance.Observation, transcript *compliance.Transcript, policy compliance.Policy, priorContext string) (ReportBody, error)
}

// Transcriber is optional — only consulted when Policy.IncludeAudio is
// set and the Session has audio bytes to hand it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (compliance.Transcript, error)
}

// ReportBody is everything the Evaluator contributes to a Report; the
// Dispatch Engine fills in the rest (session id, observations,
// transcript, timing, frame count).
type ReportBody struct {
	Summary         string
	AllVerdicts     []compliance.Verdict
	Recommendations string
}
