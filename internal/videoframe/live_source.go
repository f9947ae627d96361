package videoframe

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/enginerr"
	"github.com/technosupport/vision-compliance/internal/sourcehealth"
)

// LiveSource decodes a camera device or live URL (RTSP, etc). It never
// reaches EndOfStream. Decode errors are recoverable: the source retries
// with bounded exponential backoff and keeps going; after
// sourcehealth.FailureBudget consecutive failures it surfaces
// UnreadableSource (spec.md §4.1).
type LiveSource struct {
	uri    string
	cap    *gocv.VideoCapture
	index  int
	start  time.Time
	health *sourcehealth.Tracker
	opts   Options
}

// OpenLive opens a device index ("0"), RTSP/HTTP URL, or any URI gocv's
// VideoCapture backend accepts.
func OpenLive(uri string, opts Options) (*LiveSource, error) {
	cap, err := openCapture(uri)
	if err != nil {
		return nil, enginerr.New(enginerr.KindUnreadableSource, "videoframe.OpenLive", err)
	}
	return &LiveSource{
		uri:    uri,
		cap:    cap,
		start:  time.Now(),
		health: sourcehealth.NewTracker(),
		opts:   opts,
	}, nil
}

func openCapture(uri string) (*gocv.VideoCapture, error) {
	cap, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("cannot open %s", uri)
	}
	return cap, nil
}

func (s *LiveSource) Live() bool { return true }

// RecoverableFailures is the cumulative count of decode failures this
// source has absorbed and retried past, for callers that want to surface
// it as a metric. Callers type-assert for this rather than it being part
// of the Source interface, since bounded FileSources have no notion of it.
func (s *LiveSource) RecoverableFailures() int { return s.health.TotalFailures() }

// Next decodes one frame, synthesizing its timestamp from the wall clock
// at the point of decode since live sources may not carry container
// timestamps. The caller is expected to wrap ctx with a 5s idle timeout
// per spec.md §5; a context deadline during the blocking read surfaces as
// Cancelled so the caller can distinguish "nothing to read yet" from a
// real decode failure.
func (s *LiveSource) Next(ctx context.Context) (*Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, enginerr.New(enginerr.KindCancelled, "videoframe.LiveSource.Next", ctx.Err())
		default:
		}

		mat := gocv.NewMat()
		ok := s.cap.Read(&mat)
		if ok && !mat.Empty() {
			s.health.RecordSuccess()

			f := &Frame{
				Index:     s.index,
				Timestamp: time.Since(s.start).Seconds(),
				Mat:       mat,
				Width:     mat.Cols(),
				Height:    mat.Rows(),
			}
			s.index++
			return f, nil
		}
		mat.Close()

		backoff, exhausted := s.health.RecordFailure()
		if exhausted {
			return nil, enginerr.New(enginerr.KindUnreadableSource, "videoframe.LiveSource.Next",
				fmt.Errorf("%d consecutive decode failures on %s", s.health.ConsecutiveFailures(), s.uri))
		}

		// Try to recover the capture itself — a dropped RTSP session
		// needs a fresh VideoCapture, not just another Read call.
		s.cap.Close()
		if newCap, err := openCapture(s.uri); err == nil {
			s.cap = newCap
		}

		select {
		case <-ctx.Done():
			return nil, enginerr.New(enginerr.KindCancelled, "videoframe.LiveSource.Next", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (s *LiveSource) Close() error {
	return s.cap.Close()
}
