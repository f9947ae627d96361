package session

import (
	"context"
	"log"

	"github.com/technosupport/vision-compliance/internal/changedetect"
	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/debounce"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/keyframesink"
	"github.com/technosupport/vision-compliance/internal/progressbus"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

// runFile decodes path sequentially to EndOfStream, collects every
// accepted keyframe into one Observation list, and dispatches exactly
// once — file analysis has no window discipline, per spec.md §4.7's
// "runs to completion; emits a single Report."
func (m *Manager) runFile(ctx context.Context, sess *Session, src videoframe.Source, policy compliance.Policy) {
	defer src.Close()

	detector := changedetect.New(m.cfg)
	defer detector.Close()
	gate := debounce.New(m.cfg)
	sink := keyframesink.New(m.cfg, false, m.deps.OutputDir)
	sink.SetMetrics(sess.ID, m.deps.Metrics)
	defer sink.Close()

	var observations []compliance.Observation
	var videoDuration float64
	var lastSeen *videoframe.Frame

	emit := func(cand changedetect.Candidate) {
		gate.Record(cand.Frame.Timestamp)
		obs, encErr := sink.Encode(cand)
		if encErr != nil {
			log.Printf("[SESS:%s] keyframe encode failed: %v", sess.ID, encErr)
			return
		}
		observations = append(observations, obs)
		if m.deps.Metrics != nil {
			m.deps.Metrics.KeyframesEmitted.WithLabelValues(sess.ID, string(cand.Reason)).Inc()
			m.deps.Metrics.ChangeScore.WithLabelValues(sess.ID).Observe(cand.Score)
		}
	}

	for {
		f, err := src.Next(ctx)
		if err != nil {
			if err == videoframe.ErrEndOfStream {
				break
			}
			if lastSeen != nil {
				lastSeen.Close()
			}
			if isCancellation(err) {
				sess.emitFinal(progressbus.Event{Kind: progressbus.EventStopped})
				sess.finish()
				return
			}
			log.Printf("[SESS:%s] file source failed: %v", sess.ID, err)
			sess.emitFinal(progressbus.Event{Kind: progressbus.EventError, Err: err})
			sess.finish()
			return
		}
		if m.deps.Metrics != nil {
			m.deps.Metrics.FramesDecoded.WithLabelValues(sess.ID).Inc()
		}

		videoDuration = f.Timestamp
		allowed, forceGap := gate.Admit(f.Timestamp)
		if allowed {
			cand := detector.Evaluate(f, forceGap)
			if cand.Frame != nil {
				emit(cand)
			}
		}
		if lastSeen != nil {
			lastSeen.Close()
		}
		lastSeen = f.Clone()
		f.Close()
	}

	// A bounded source's last decoded frame is always emitted with
	// reason "last" unless a keyframe already landed within the last
	// MinChangeInterval seconds of it.
	if lastSeen != nil {
		if last, ok := gate.LastEmitAt(); !ok || lastSeen.Timestamp-last >= m.cfg.MinChangeInterval {
			emit(detector.ForceAccept(lastSeen, changedetect.ReasonLast))
		}
		lastSeen.Close()
	}

	engine := dispatch.New(sess.ID, m.deps.VLM, m.deps.Evaluator, m.deps.Transcriber, m.deps.Limiter, m.cfg)
	engine.SetMetrics(m.deps.Metrics)
	report, err := engine.RunWindow(ctx, dispatch.WindowInput{
		Observations:  observations,
		Policy:        policy,
		PriorContext:  policy.PriorContext,
		VideoID:       sess.ID,
		VideoDuration: videoDuration,
	})
	if err != nil {
		sess.emitFinal(progressbus.Event{Kind: progressbus.EventStopped})
		sess.finish()
		return
	}

	sess.emit(progressbus.Event{Kind: progressbus.EventWindowReport, Report: report})
	if m.deps.Mirror != nil {
		if perr := m.deps.Mirror.Publish(progressbus.Event{SessionID: sess.ID, Kind: progressbus.EventWindowReport, Report: report}); perr != nil {
			log.Printf("[SESS:%s] progress mirror publish failed: %v", sess.ID, perr)
		}
	}
	sess.emitFinal(progressbus.Event{Kind: progressbus.EventComplete})
	sess.finish()
}
