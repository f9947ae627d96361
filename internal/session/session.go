// Package session implements the Session Manager (spec.md §4.7): it owns
// the lifecycle of one monitoring session — file analysis or live camera
// — wiring a Frame Source through the Capture Ring (live only), Change
// Detector, Debouncer, Keyframe Sink, and Dispatch Engine, and exposing
// the result as a progress stream of Reports.
package session

import (
	"context"
	"time"

	"github.com/technosupport/vision-compliance/internal/enginerr"
	"github.com/technosupport/vision-compliance/internal/progressbus"
)

// Session is the handle returned by StartFileAnalysis / StartLiveMonitoring.
// Progress is consumed from Events; Stop requests cooperative shutdown and
// blocks until the session's run loop has actually exited.
type Session struct {
	ID   string
	Live bool

	cancel context.CancelFunc
	done   chan struct{}
	events chan progressbus.Event
}

func newSession(id string, live bool, cancel context.CancelFunc) *Session {
	return &Session{
		ID:     id,
		Live:   live,
		cancel: cancel,
		done:   make(chan struct{}),
		events: make(chan progressbus.Event, 16),
	}
}

// Events exposes the lazy sequence of ProgressEvents spec.md §4.7 calls
// for: finite for file analysis (closed once the single Report and the
// terminal Complete event have been delivered), indefinite for live
// monitoring (open until Stop).
func (s *Session) Events() <-chan progressbus.Event {
	return s.events
}

// Stop requests cooperative cancellation and waits for the run loop to
// exit. Safe to call more than once or concurrently with the run loop's
// own natural completion.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// emit is the hot-path send used while a session is still running: full
// buffers drop the event rather than stall the accumulate/dispatch loop,
// since the Report itself (not the progress stream) is the durable
// artifact.
func (s *Session) emit(ev progressbus.Event) {
	ev.SessionID = s.ID
	ev.At = time.Now().UTC()
	select {
	case s.events <- ev:
	default:
	}
}

// emitFinal gives the session's last event (Stopped, Complete, or Error)
// a brief grace period to land even if the consumer is momentarily behind,
// since losing it would leave a progress subscriber unable to tell the
// session ever ended.
func (s *Session) emitFinal(ev progressbus.Event) {
	ev.SessionID = s.ID
	ev.At = time.Now().UTC()
	select {
	case s.events <- ev:
	case <-time.After(2 * time.Second):
	}
}

// finish closes both the progress stream and the done signal. Called
// exactly once, after the run loop has emitted its terminal event, so a
// consumer ranging over Events() sees it before the channel closes.
func (s *Session) finish() {
	close(s.events)
	close(s.done)
}

func isCancellation(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded || enginerr.IsKind(err, enginerr.KindCancelled)
}
