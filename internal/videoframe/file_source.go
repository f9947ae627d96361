package videoframe

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/enginerr"
)

// FileSource decodes a bounded container sequentially. Seeking is never
// used — container seek on compressed video is far slower than sequential
// decode with a frame counter, so the index is tracked locally. The
// timestamp is the container's current position, falling back to
// index/FPS when the container reports none.
type FileSource struct {
	cap   *gocv.VideoCapture
	index int
	fps   float64
	opts  Options
}

// OpenFile opens a bounded video file for sequential decode.
func OpenFile(path string, opts Options) (*FileSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, enginerr.New(enginerr.KindUnreadableSource, "videoframe.OpenFile", fmt.Errorf("open %s: %w", path, err))
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, enginerr.New(enginerr.KindUnreadableSource, "videoframe.OpenFile", fmt.Errorf("cannot open %s", path))
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25 // conservative fallback when the container omits it
	}

	return &FileSource{cap: cap, fps: fps, opts: opts}, nil
}

func (s *FileSource) Live() bool { return false }

func (s *FileSource) Next(ctx context.Context) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, enginerr.New(enginerr.KindCancelled, "videoframe.FileSource.Next", ctx.Err())
	default:
	}

	mat := gocv.NewMat()
	ok := s.cap.Read(&mat)
	if !ok {
		mat.Close()
		return nil, ErrEndOfStream
	}
	if mat.Empty() {
		mat.Close()
		return nil, enginerr.New(enginerr.KindDecodeError, "videoframe.FileSource.Next", fmt.Errorf("empty frame at index %d", s.index))
	}

	// Native container timestamp where available; otherwise derive from
	// the frame counter and FPS so ordering stays monotonic regardless.
	ts := s.cap.Get(gocv.VideoCapturePosMsec) / 1000.0
	if ts <= 0 {
		ts = float64(s.index) / s.fps
	}

	f := &Frame{
		Index:     s.index,
		Timestamp: ts,
		Mat:       mat,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
	}
	s.index++
	return f, nil
}

func (s *FileSource) Close() error {
	return s.cap.Close()
}
