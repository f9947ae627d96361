// Package dispatch implements the per-session state machine that calls
// the external VLM and Evaluator with the ordering, batching,
// backpressure, and retry discipline spec.md §4.6 requires: Idle ->
// Describing -> Evaluating -> Reporting, with a bounded Retrying
// detour on transient failure and a give-up path that still produces a
// Report.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/enginerr"
)

// State names a position in the per-session state machine, exposed for
// metrics and progress events.
type State string

const (
	StateIdle       State = "idle"
	StateDescribing State = "describing"
	StateEvaluating State = "evaluating"
	StateReporting  State = "reporting"
	StateRetrying   State = "retrying"
)

const (
	retryBase   = 1 * time.Second
	retryFactor = 2
	retryCap    = 30 * time.Second
	maxAttempts = 3
)

// RateLimiter is satisfied by both ratelimit.Limiter and
// ratelimit.RedisLimiter — Dispatch doesn't care which bucket
// implementation backs it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// MetricsRecorder lets an Engine update the process's Prometheus surface
// without importing internal/metrics directly. SetMetrics is optional;
// an Engine with none set records nothing.
type MetricsRecorder interface {
	SetInFlight(sessionID, kind string, v float64)
	IncRetry(sessionID, kind string)
	ObserveLatency(kind string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) SetInFlight(string, string, float64) {}
func (noopMetrics) IncRetry(string, string)              {}
func (noopMetrics) ObserveLatency(string, float64)       {}

// Engine owns exactly one VLM/Evaluator call in flight at a time, for
// one session. RunWindow is itself the at-most-one-in-flight boundary:
// a second call blocks on inFlight until the first returns, so the
// Session Manager may accumulate window N+1 concurrently with window
// N's dispatch but the two calls never overlap in practice.
type Engine struct {
	sessionID   string
	vlm         VLM
	evaluator   Evaluator
	transcriber Transcriber
	limiter     RateLimiter
	cfg         engineconfig.EngineConfig

	inFlight chan struct{} // 1-buffered semaphore; acquired for the duration of RunWindow

	stateMu sync.Mutex
	state   State

	metrics MetricsRecorder
}

func New(sessionID string, vlm VLM, evaluator Evaluator, transcriber Transcriber, limiter RateLimiter, cfg engineconfig.EngineConfig) *Engine {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &Engine{
		sessionID:   sessionID,
		vlm:         vlm,
		evaluator:   evaluator,
		transcriber: transcriber,
		limiter:     limiter,
		cfg:         cfg,
		inFlight:    sem,
		state:       StateIdle,
		metrics:     noopMetrics{},
	}
}

// SetMetrics wires a MetricsRecorder into the Engine. Called once after
// New, before the first RunWindow; nil resets it back to a no-op.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// State returns the engine's current position for progress reporting.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// WindowInput bundles everything one window's dispatch needs. Audio is
// optional; Policy.IncludeAudio gates whether it's used.
type WindowInput struct {
	Observations  []compliance.Observation
	Audio         []byte
	AudioLang     string
	Policy        compliance.Policy
	PriorContext  string
	VideoID       string
	VideoDuration float64
}

// RunWindow drives one window through Describing -> Evaluating ->
// Reporting, blocking until a prior in-flight call (if any) for this
// Engine completes. It always returns a Report, even on failure
// (spec.md §7: "never an empty response"); the only case it returns a
// non-nil error is cooperative cancellation, so the Session Manager can
// distinguish "stop requested" from "got a partial report."
func (e *Engine) RunWindow(ctx context.Context, in WindowInput) (*compliance.Report, error) {
	select {
	case <-e.inFlight:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.inFlight <- struct{}{} }()

	report := &compliance.Report{
		SessionID:           in.VideoID,
		FrameObservations:   in.Observations,
		AnalyzedAt:          time.Now().UTC(),
		TotalFramesAnalyzed: len(in.Observations),
		VideoDuration:       in.VideoDuration,
	}

	var transcript *compliance.Transcript
	if in.Policy.IncludeAudio && e.transcriber != nil {
		t, err := e.transcriber.Transcribe(ctx, in.Audio, in.AudioLang)
		if err != nil {
			log.Printf("[DISPATCH:%s] transcription failed, continuing without: %v", e.sessionID, err)
		} else {
			transcript = &t
		}
	}
	report.Transcript = transcript

	e.setState(StateDescribing)
	describeStart := time.Now()
	e.metrics.SetInFlight(e.sessionID, "describe", 1)
	err := e.describeAll(ctx, in.Observations, in.Policy)
	e.metrics.SetInFlight(e.sessionID, "describe", 0)
	e.metrics.ObserveLatency("describe", time.Since(describeStart).Seconds())
	if err != nil {
		e.setState(StateIdle)
		if isCancellation(err) {
			return report, err
		}
		log.Printf("[DISPATCH:%s] describing gave up: %v", e.sessionID, err)
		report.Error = err.Error()
		report.Summary = "analysis incomplete: " + err.Error()
		return report, nil
	}

	e.setState(StateEvaluating)
	evalStart := time.Now()
	e.metrics.SetInFlight(e.sessionID, "evaluate", 1)
	body, err := e.evaluateWithRetry(ctx, in.Observations, transcript, in.Policy, in.PriorContext)
	e.metrics.SetInFlight(e.sessionID, "evaluate", 0)
	e.metrics.ObserveLatency("evaluate", time.Since(evalStart).Seconds())
	if err != nil {
		e.setState(StateIdle)
		if isCancellation(err) {
			return report, err
		}
		log.Printf("[DISPATCH:%s] evaluating gave up: %v", e.sessionID, err)
		report.Error = err.Error()
		report.Summary = "analysis incomplete: " + err.Error()
		return report, nil
	}

	e.setState(StateReporting)
	report.Summary = body.Summary
	report.AllVerdicts = body.AllVerdicts
	report.Recommendations = body.Recommendations
	report.BuildIncidents()
	e.setState(StateIdle)
	return report, nil
}

func isCancellation(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded || enginerr.IsKind(err, enginerr.KindCancelled)
}
