package videoframe

import (
	"context"
	"errors"
)

// ErrEndOfStream is returned by Next on bounded sources once the
// container is exhausted. Live sources never return it.
var ErrEndOfStream = errors.New("videoframe: end of stream")

// Source produces frames at decode rate. File sources honor native
// container timestamps; live sources synthesize them from the wall clock
// at the point of decode, since the source may not carry any.
type Source interface {
	// Next blocks until the next frame is available, returns
	// ErrEndOfStream on bounded exhaustion, or an *enginerr.Error wrapping
	// DecodeError / UnreadableSource.
	Next(ctx context.Context) (*Frame, error)

	// Close releases all decoder resources. Safe to call from any exit
	// path, any number of times.
	Close() error

	// Live reports whether this is an unbounded live source, which never
	// reaches EndOfStream.
	Live() bool
}

// Options configures Open.
type Options struct {
	// SampleInterval is stored on the source but not read: neither
	// FileSource nor LiveSource throttles, and both deliver every decoded
	// frame at decode rate.
	SampleInterval float64 // seconds
}
