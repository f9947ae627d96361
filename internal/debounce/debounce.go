// Package debounce enforces the timing discipline the Change Detector
// doesn't know about on its own (spec.md §4.4): never emit two
// keyframes closer together than MinChangeInterval, and never let more
// than MaxGap elapse without one, even if nothing changed.
package debounce

import "github.com/technosupport/vision-compliance/internal/engineconfig"

// Gate decides, for each decoded frame's timestamp, whether the
// Change Detector should be allowed to evaluate it at all and whether
// a keyframe is owed regardless of its score. It holds no reference to
// frame data and is safe to recreate per session.
type Gate struct {
	minInterval float64
	maxGap      float64
	lastEmitAt  float64
	haveEmitted bool
}

func New(cfg engineconfig.EngineConfig) *Gate {
	return &Gate{minInterval: cfg.MinChangeInterval, maxGap: cfg.MaxGap}
}

// Admit reports whether a frame at timestamp t may be evaluated at all
// (false suppresses it outright, honoring MinChangeInterval), and
// whether accepting it would be forced by MaxGap regardless of the
// detector's score. MinChangeInterval is checked before MaxGap: a
// frame inside the minimum interval is suppressed even if the gap is
// also over budget, since spec.md's properties treat the minimum
// interval as a hard floor.
func (g *Gate) Admit(t float64) (allowed bool, forceGap bool) {
	if !g.haveEmitted {
		return true, false
	}
	if t-g.lastEmitAt < g.minInterval {
		return false, false
	}
	if t-g.lastEmitAt >= g.maxGap {
		return true, true
	}
	return true, false
}

// Record marks t as the timestamp of the most recently emitted
// keyframe. Callers call this only when the Change Detector actually
// accepted the frame, not on every Admit.
func (g *Gate) Record(t float64) {
	g.lastEmitAt = t
	g.haveEmitted = true
}

// LastEmitAt reports the timestamp of the most recently recorded
// keyframe, and whether one has been recorded at all.
func (g *Gate) LastEmitAt() (float64, bool) {
	return g.lastEmitAt, g.haveEmitted
}
