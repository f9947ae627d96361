package debounce_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vision-compliance/internal/debounce"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
)

func gateWith(minInterval, maxGap float64) *debounce.Gate {
	cfg := engineconfig.Default()
	cfg.MinChangeInterval = minInterval
	cfg.MaxGap = maxGap
	return debounce.New(cfg)
}

func TestFirstFrameAlwaysAdmitted(t *testing.T) {
	g := gateWith(0.5, 10.0)
	allowed, forced := g.Admit(0)
	require.True(t, allowed)
	require.False(t, forced)
}

func TestFrameInsideMinIntervalIsSuppressed(t *testing.T) {
	g := gateWith(0.5, 10.0)
	g.Record(1.0)
	allowed, _ := g.Admit(1.2)
	require.False(t, allowed)
}

func TestFrameAfterMinIntervalIsAdmitted(t *testing.T) {
	g := gateWith(0.5, 10.0)
	g.Record(1.0)
	allowed, forced := g.Admit(1.6)
	require.True(t, allowed)
	require.False(t, forced)
}

func TestMaxGapForcesAcceptance(t *testing.T) {
	g := gateWith(0.5, 10.0)
	g.Record(1.0)
	allowed, forced := g.Admit(11.5)
	require.True(t, allowed)
	require.True(t, forced)
}

func TestMinIntervalTakesPrecedenceOverMaxGap(t *testing.T) {
	// Pathological config where minInterval > maxGap: min interval still
	// wins, per the documented ordering.
	g := gateWith(20.0, 10.0)
	g.Record(0.0)
	allowed, _ := g.Admit(15.0)
	require.False(t, allowed)
}
