// Package progressbus defines the ProgressEvent stream a Session exposes
// (spec.md §4.7) and an optional mirror that republishes events to NATS
// for external subscribers — the only place the engine talks to a
// message broker, and entirely optional: a Session works with only the
// in-process channel.
package progressbus

import (
	"time"

	"github.com/technosupport/vision-compliance/internal/compliance"
)

type EventKind string

const (
	EventWindowReport EventKind = "window_report"
	EventDegraded     EventKind = "degraded"
	EventStopped      EventKind = "stopped"
	EventSourceGone   EventKind = "source_unreachable"
	EventError        EventKind = "error"
	EventComplete     EventKind = "complete"
)

// Event is one item on a Session's progress stream.
type Event struct {
	SessionID string
	Kind      EventKind
	Report    *compliance.Report
	Err       error
	At        time.Time
}
