package session

import (
	"context"
	"log"

	"github.com/technosupport/vision-compliance/internal/capturering"
	"github.com/technosupport/vision-compliance/internal/changedetect"
	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/debounce"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/keyframesink"
	"github.com/technosupport/vision-compliance/internal/metrics"
	"github.com/technosupport/vision-compliance/internal/priorcontext"
	"github.com/technosupport/vision-compliance/internal/progressbus"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

// metricsRecorder lets accumulateWindow stay free of a *metrics.Collector
// nil check on every call.
type metricsRecorder interface {
	recordKeyframe(sessionID, reason string, score float64)
}

type metricsAdapter struct{ c *metrics.Collector }

func (a metricsAdapter) recordKeyframe(sessionID, reason string, score float64) {
	if a.c == nil {
		return
	}
	a.c.KeyframesEmitted.WithLabelValues(sessionID, reason).Inc()
	a.c.ChangeScore.WithLabelValues(sessionID).Observe(score)
}

// windowJob is one window's worth of accumulated Observations, handed
// from the accumulate loop to the dispatcher goroutine.
type windowJob struct {
	observations  []compliance.Observation
	videoDuration float64
}

// runLive grabs frames into a Capture Ring on its own goroutine (so decode
// rate never blocks on detection rate), accumulates windows on the main
// loop, and dispatches them one at a time on a dedicated goroutine —
// satisfying spec.md §4.7's overlapping-accumulation rule (window N+1 may
// accumulate while window N is still dispatching) while keeping
// prior-context Build/Record strictly ordered, since only the dispatcher
// goroutine ever touches the priorcontext.Builder.
func (m *Manager) runLive(ctx context.Context, sess *Session, src videoframe.Source, policy compliance.Policy, windowDuration float64) {
	ring := capturering.New()
	defer ring.Close()

	go m.grab(ctx, sess, src, ring)

	detector := changedetect.New(m.cfg)
	defer detector.Close()
	gate := debounce.New(m.cfg)
	sink := keyframesink.New(m.cfg, true, m.deps.OutputDir)
	sink.SetMetrics(sess.ID, m.deps.Metrics)
	defer sink.Close()

	engine := dispatch.New(sess.ID, m.deps.VLM, m.deps.Evaluator, m.deps.Transcriber, m.deps.Limiter, m.cfg)
	engine.SetMetrics(m.deps.Metrics)
	prior := priorcontext.New(policy.Rules)

	// Buffer of 1: the accumulate loop can start window N+1 as soon as
	// window N has been handed off, without waiting for N's dispatch to
	// finish. A second completed window still blocks the accumulate loop
	// until the dispatcher catches up — backpressure, not a bug.
	jobs := make(chan windowJob, 1)
	dispatchDone := make(chan struct{})
	go m.dispatchLive(ctx, sess, engine, prior, policy, jobs, dispatchDone)

	firstWindow := m.cfg.FirstWindowDuration
	windowIdx := 0
	var runErr error
	for {
		duration := windowDuration
		if windowIdx == 0 && firstWindow > 0 {
			duration = firstWindow
		}
		obs, elapsed, err := accumulateWindow(ctx, ring, detector, gate, sink, metricsAdapter{m.deps.Metrics}, sess.ID, duration)
		if err != nil {
			runErr = err
			break
		}
		windowIdx++

		select {
		case jobs <- windowJob{observations: obs, videoDuration: elapsed}:
		case <-ctx.Done():
			runErr = ctx.Err()
		}
		if runErr != nil {
			break
		}
	}
	close(jobs)
	<-dispatchDone

	if runErr != nil && !isCancellation(runErr) {
		sess.emitFinal(progressbus.Event{Kind: progressbus.EventSourceGone, Err: runErr})
	} else {
		sess.emitFinal(progressbus.Event{Kind: progressbus.EventStopped})
	}
	sess.finish()
}

// recoverableFailureCounter is implemented by videoframe.LiveSource;
// FileSource has no notion of recoverable decode failures since it never
// retries past one.
type recoverableFailureCounter interface {
	RecoverableFailures() int
}

func (m *Manager) grab(ctx context.Context, sess *Session, src videoframe.Source, ring *capturering.Ring) {
	defer src.Close()
	counter, tracksFailures := src.(recoverableFailureCounter)
	var lastFailures int
	for {
		f, err := src.Next(ctx)
		if tracksFailures && m.deps.Metrics != nil {
			if n := counter.RecoverableFailures(); n > lastFailures {
				m.deps.Metrics.DecodeErrors.WithLabelValues(sess.ID).Add(float64(n - lastFailures))
				lastFailures = n
			}
		}
		if err != nil {
			return
		}
		if m.deps.Metrics != nil {
			m.deps.Metrics.FramesDecoded.WithLabelValues(sess.ID).Inc()
		}
		ring.Put(f)
	}
}

// accumulateWindow drains the ring until duration seconds of source time
// have elapsed, running every admitted frame through the Change Detector
// and encoding each accepted one through the Sink.
func accumulateWindow(
	ctx context.Context,
	ring *capturering.Ring,
	detector *changedetect.Detector,
	gate *debounce.Gate,
	sink *keyframesink.Sink,
	mcol metricsRecorder,
	sessionID string,
	duration float64,
) ([]compliance.Observation, float64, error) {
	var observations []compliance.Observation
	var windowStart float64
	started := false

	for {
		f, err := ring.Take(ctx)
		if err != nil {
			return observations, windowStart, err
		}
		if f == nil {
			return observations, windowStart, context.Canceled
		}
		if !started {
			windowStart = f.Timestamp
			started = true
		}

		allowed, forceGap := gate.Admit(f.Timestamp)
		if allowed {
			cand := detector.Evaluate(f, forceGap)
			if cand.Frame != nil {
				gate.Record(f.Timestamp)
				obs, encErr := sink.Encode(cand)
				if encErr != nil {
					log.Printf("[SESS:%s] keyframe encode failed: %v", sessionID, encErr)
				} else {
					observations = append(observations, obs)
					mcol.recordKeyframe(sessionID, string(cand.Reason), cand.Score)
				}
			}
		}
		elapsed := f.Timestamp - windowStart
		f.Close()
		if elapsed >= duration {
			return observations, elapsed, nil
		}
	}
}

// dispatchLive drains jobs one at a time, runs each through the Dispatch
// Engine, and folds the verdicts into prior before the next job is
// considered — the only place priorcontext.Builder is touched, so Build
// always reflects every earlier window's Record.
func (m *Manager) dispatchLive(
	ctx context.Context,
	sess *Session,
	engine *dispatch.Engine,
	prior *priorcontext.Builder,
	policy compliance.Policy,
	jobs <-chan windowJob,
	done chan<- struct{},
) {
	defer close(done)
	for job := range jobs {
		priorCtx := prior.Build()
		if priorCtx == "" {
			priorCtx = policy.PriorContext
		}
		report, err := engine.RunWindow(ctx, dispatch.WindowInput{
			Observations:  job.observations,
			Policy:        policy,
			PriorContext:  priorCtx,
			VideoID:       sess.ID,
			VideoDuration: job.videoDuration,
		})
		if err != nil {
			return
		}
		prior.Record(report.AllVerdicts)
		sess.emit(progressbus.Event{Kind: progressbus.EventWindowReport, Report: report})
		if m.deps.Mirror != nil {
			if perr := m.deps.Mirror.Publish(progressbus.Event{SessionID: sess.ID, Kind: progressbus.EventWindowReport, Report: report}); perr != nil {
				log.Printf("[SESS:%s] progress mirror publish failed: %v", sess.ID, perr)
			}
		}
	}
}
