// Package changedetect implements the two-stage similarity test that
// decides whether a decoded frame is different enough from the last
// accepted keyframe to matter (spec.md §4.3): a fast global HSV
// histogram correlation with an early exit for near-duplicate frames,
// followed by a local structural-similarity pass over a coarse grid
// when the global stage can't decide on its own.
package changedetect

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

// Reason names why a frame was accepted as a keyframe candidate.
type Reason string

const (
	ReasonFirst   Reason = "first"
	ReasonChanged Reason = "changed"
	ReasonMaxGap  Reason = "max_gap"
	ReasonLast    Reason = "last"
)

// Candidate is a frame the detector has accepted, plus the score that
// triggered it.
type Candidate struct {
	Frame  *videoframe.Frame
	Score  float64
	Reason Reason
}

// gridSize is the side length of the coarse grid used for the local
// similarity pass. 4x4 is enough to catch localized change (a door
// opening, a person entering a corner) without the cost of a
// per-pixel SSIM.
const gridSize = 4

// Detector holds the last accepted keyframe and compares every
// subsequent frame against it. It is not safe for concurrent use; one
// Detector belongs to one Session's single decode/detect loop.
type Detector struct {
	cfg  engineconfig.EngineConfig
	last *videoframe.Frame // owned: closed on replacement or Close
}

func New(cfg engineconfig.EngineConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Close releases the retained reference frame, if any.
func (d *Detector) Close() {
	if d.last != nil {
		d.last.Close()
		d.last = nil
	}
}

// Evaluate compares f against the retained keyframe and reports
// whether f should become the new keyframe. On acceptance, Evaluate
// takes ownership of a clone of f (the caller remains responsible for
// the original). forceGap is true when the Debouncer has determined
// maxGap has elapsed since the last keyframe, overriding the
// similarity score.
func (d *Detector) Evaluate(f *videoframe.Frame, forceGap bool) Candidate {
	if d.last == nil {
		d.accept(f)
		return Candidate{Frame: d.last, Score: 1.0, Reason: ReasonFirst}
	}

	// A resolution change invalidates the retained reference entirely;
	// treat the new frame as if it were the first one seen.
	if f.Width != d.last.Width || f.Height != d.last.Height {
		d.accept(f)
		return Candidate{Frame: d.last, Score: 1.0, Reason: ReasonFirst}
	}

	score := d.combinedScore(f)
	if forceGap {
		d.accept(f)
		return Candidate{Frame: d.last, Score: score, Reason: ReasonMaxGap}
	}
	if score >= d.cfg.ChangeThreshold {
		d.accept(f)
		return Candidate{Frame: d.last, Score: score, Reason: ReasonChanged}
	}
	return Candidate{Score: score}
}

// ForceAccept unconditionally retains f as the new keyframe regardless of
// score, for callers that must emit one outside the normal evaluation
// path — e.g. the forced `last` keyframe a bounded source emits at
// EndOfStream.
func (d *Detector) ForceAccept(f *videoframe.Frame, reason Reason) Candidate {
	d.accept(f)
	return Candidate{Frame: d.last, Score: 1.0, Reason: reason}
}

func (d *Detector) accept(f *videoframe.Frame) {
	if d.last != nil {
		d.last.Close()
	}
	d.last = f.Clone()
}

// combinedScore returns 1 - (alpha*globalSimilarity + (1-alpha)*localSimilarity),
// so a score of 0 means identical and 1 means maximally different — an
// amount directly comparable to ChangeThreshold. When the global
// similarity reaches EarlyExitSimilarity the local stage is skipped and
// the score is 1 - globalSimilarity.
func (d *Detector) combinedScore(f *videoframe.Frame) float64 {
	global := d.globalSimilarity(f)
	if global >= d.cfg.EarlyExitSimilarity {
		return 1 - global
	}
	local := d.localSimilarity(f)
	alpha := d.cfg.Alpha
	return 1 - (alpha*global + (1-alpha)*local)
}

// globalSimilarity computes HSV histogram correlation between the
// blurred current frame and the blurred retained keyframe. Correlation
// is 1.0 for identical histograms and can range down to -1.0; frames
// in practice sit in [0,1] so we clamp.
func (d *Detector) globalSimilarity(f *videoframe.Frame) float64 {
	curHSV := d.prepareHSV(f.Mat)
	defer curHSV.Close()
	refHSV := d.prepareHSV(d.last.Mat)
	defer refHSV.Close()

	curHist := histogram(curHSV)
	defer curHist.Close()
	refHist := histogram(refHSV)
	defer refHist.Close()

	corr := gocv.CompareHist(curHist, refHist, gocv.HistCmpCorrel)
	if corr < 0 {
		corr = 0
	}
	if corr > 1 {
		corr = 1
	}
	return corr
}

func (d *Detector) prepareHSV(src gocv.Mat) gocv.Mat {
	blurred := gocv.NewMat()
	k := d.cfg.BlurKernel
	if k < 1 {
		k = 1
	}
	if k%2 == 0 {
		k++
	}
	gocv.GaussianBlur(src, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	hsv := gocv.NewMat()
	gocv.CvtColor(blurred, &hsv, gocv.ColorBGRToHSV)
	blurred.Close()
	return hsv
}

func histogram(hsv gocv.Mat) gocv.Mat {
	hist := gocv.NewMat()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.CalcHist([]gocv.Mat{hsv}, []int{0, 1}, mask, &hist, []int{50, 60}, []float64{0, 180, 0, 256}, false)
	gocv.Normalize(hist, &hist, 0, 1, gocv.NormMinMax)
	return hist
}

// localSimilarity divides both frames into a gridSize x gridSize grid
// of grayscale cells and averages a single-window SSIM-like score per
// cell, catching localized change the global histogram can miss (a
// small object entering one corner barely moves the overall color
// distribution).
func (d *Detector) localSimilarity(f *videoframe.Frame) float64 {
	curGray := toGray(f.Mat)
	defer curGray.Close()
	refGray := toGray(d.last.Mat)
	defer refGray.Close()

	rows, cols := curGray.Rows(), curGray.Cols()
	if rows < gridSize || cols < gridSize {
		return ssimCell(curGray, refGray)
	}

	cellH, cellW := rows/gridSize, cols/gridSize
	var total float64
	var n int
	for r := 0; r < gridSize; r++ {
		for c := 0; c < gridSize; c++ {
			rect := image.Rect(c*cellW, r*cellH, (c+1)*cellW, (r+1)*cellH)
			curCell := curGray.Region(rect)
			refCell := refGray.Region(rect)
			total += ssimCell(curCell, refCell)
			curCell.Close()
			refCell.Close()
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return total / float64(n)
}

func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	return gray
}

// ssimCell computes a single-window structural similarity index between
// two equally-sized grayscale cells using the standard luminance,
// contrast, and structure terms with the conventional stabilizing
// constants for 8-bit images.
func ssimCell(a, b gocv.Mat) float64 {
	const (
		l  = 255.0
		k1 = 0.01
		k2 = 0.03
	)
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	meanA, meanB := gocv.Mean(a), gocv.Mean(b)
	muA, muB := meanA.Val1, meanB.Val1

	var varA, varB, covAB float64
	pixels := a.Rows() * a.Cols()
	if pixels == 0 {
		return 1.0
	}
	for y := 0; y < a.Rows(); y++ {
		for x := 0; x < a.Cols(); x++ {
			da := float64(a.GetUCharAt(y, x)) - muA
			db := float64(b.GetUCharAt(y, x)) - muB
			varA += da * da
			varB += db * db
			covAB += da * db
		}
	}
	n := float64(pixels)
	varA /= n
	varB /= n
	covAB /= n

	numerator := (2*muA*muB + c1) * (2*covAB + c2)
	denominator := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if denominator == 0 {
		return 1.0
	}
	score := numerator / denominator
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
