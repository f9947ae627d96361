// Package videoframe produces a lazy sequence of decoded frames from a
// file, device, or live URL, honoring the sequential-decode-only contract
// of spec.md §4.1: no seeking, own index counter, timestamp-by-construction.
package videoframe

import (
	"gocv.io/x/gocv"
)

// Frame is one decoded image plus its position in the source.
//
// Mat is owned by the caller once returned from Next — call Close() when
// done with it (the Change Detector keeps the last accepted keyframe's Mat
// alive; everything else is released promptly).
type Frame struct {
	Index     int
	Timestamp float64 // seconds from source start
	Mat       gocv.Mat
	Width     int
	Height    int
}

func (f *Frame) Close() {
	if !f.Mat.Empty() {
		f.Mat.Close()
	}
}

// Clone makes an independent copy of a Frame's pixel buffer, used when a
// frame must outlive the loop iteration that produced it (e.g. kept by
// the Change Detector as its reference keyframe).
func (f *Frame) Clone() *Frame {
	return &Frame{
		Index:     f.Index,
		Timestamp: f.Timestamp,
		Mat:       f.Mat.Clone(),
		Width:     f.Width,
		Height:    f.Height,
	}
}
