// Package capturering implements the size-1 slot that decouples decode
// rate from detector rate on live sources (spec.md §4.2): put() always
// overwrites any unread frame, take() blocks for the next one. Memory use
// is bounded to exactly one frame regardless of how much faster the
// grabber runs than the detector.
package capturering

import (
	"context"
	"sync"

	"github.com/technosupport/vision-compliance/internal/videoframe"
)

// Ring is safe for one producer (grabber) and one consumer (detector).
type Ring struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *videoframe.Frame
	closed  bool
}

func New() *Ring {
	r := &Ring{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put overwrites any unread frame with the new one, closing the dropped
// frame's buffer — intermediate frames are intentionally lost so the
// detector is always working on the freshest reality.
func (r *Ring) Put(f *videoframe.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		f.Close()
		return
	}
	if r.pending != nil {
		r.pending.Close()
	}
	r.pending = f
	r.cond.Signal()
}

// Take blocks until a frame is present, returning the most recent one.
// It unblocks early (returning nil, ctx.Err()) if ctx is cancelled or the
// ring is closed while waiting.
func (r *Ring) Take(ctx context.Context) (*videoframe.Frame, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-done:
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending == nil && !r.closed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if r.pending == nil {
		return nil, nil // closed with nothing pending
	}
	f := r.pending
	r.pending = nil
	return f, nil
}

// Close releases any unread frame and wakes any blocked Take.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.pending != nil {
		r.pending.Close()
		r.pending = nil
	}
	r.cond.Broadcast()
}
