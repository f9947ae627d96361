package changedetect_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/changedetect"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

const dim = 32

func solidFrame(t *testing.T, idx int, b, g, r byte) *videoframe.Frame {
	t.Helper()
	buf := make([]byte, dim*dim*3)
	for i := 0; i < dim*dim; i++ {
		buf[i*3] = b
		buf[i*3+1] = g
		buf[i*3+2] = r
	}
	mat, err := gocv.NewMatFromBytes(dim, dim, gocv.MatTypeCV8UC3, buf)
	require.NoError(t, err)
	return &videoframe.Frame{Index: idx, Timestamp: float64(idx), Mat: mat, Width: dim, Height: dim}
}

func halfSplitFrame(t *testing.T, idx int) *videoframe.Frame {
	t.Helper()
	buf := make([]byte, dim*dim*3)
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			i := (y*dim + x) * 3
			if x < dim/2 {
				buf[i], buf[i+1], buf[i+2] = 10, 10, 10
			} else {
				buf[i], buf[i+1], buf[i+2] = 240, 240, 240
			}
		}
	}
	mat, err := gocv.NewMatFromBytes(dim, dim, gocv.MatTypeCV8UC3, buf)
	require.NoError(t, err)
	return &videoframe.Frame{Index: idx, Timestamp: float64(idx), Mat: mat, Width: dim, Height: dim}
}

func TestFirstFrameAlwaysAccepted(t *testing.T) {
	d := changedetect.New(engineconfig.Default())
	defer d.Close()
	f := solidFrame(t, 0, 0, 0, 0)
	defer f.Close()

	c := d.Evaluate(f, false)
	require.NotNil(t, c.Frame)
	require.Equal(t, changedetect.ReasonFirst, c.Reason)
}

func TestIdenticalFramesAreNotAccepted(t *testing.T) {
	d := changedetect.New(engineconfig.Default())
	defer d.Close()

	f1 := solidFrame(t, 0, 50, 50, 50)
	defer f1.Close()
	d.Evaluate(f1, false)

	f2 := solidFrame(t, 1, 50, 50, 50)
	defer f2.Close()
	c := d.Evaluate(f2, false)
	require.Nil(t, c.Frame)
	require.Less(t, c.Score, engineconfig.Default().ChangeThreshold)
}

func TestStronglyDifferentFramesAreAccepted(t *testing.T) {
	d := changedetect.New(engineconfig.Default())
	defer d.Close()

	// Pure blue then pure red: the hues differ, so the illumination-tolerant
	// hue/saturation histogram sees the change (black vs white would not).
	f1 := solidFrame(t, 0, 255, 0, 0)
	defer f1.Close()
	d.Evaluate(f1, false)

	f2 := solidFrame(t, 1, 0, 0, 255)
	defer f2.Close()
	c := d.Evaluate(f2, false)
	require.NotNil(t, c.Frame)
	require.Equal(t, changedetect.ReasonChanged, c.Reason)
}

func TestLocalChangeWithinSimilarGlobalHistogramIsCaught(t *testing.T) {
	// Both frames are grey, so their hue/saturation histograms are
	// identical; the early exit is disabled so the local grid stage runs.
	cfg := engineconfig.Default()
	cfg.EarlyExitSimilarity = 1.1
	d := changedetect.New(cfg)
	defer d.Close()

	f1 := solidFrame(t, 0, 125, 125, 125)
	defer f1.Close()
	d.Evaluate(f1, false)

	f2 := halfSplitFrame(t, 1)
	defer f2.Close()
	c := d.Evaluate(f2, false)
	require.NotNil(t, c.Frame)
}

func TestForcedGapOverridesLowScore(t *testing.T) {
	d := changedetect.New(engineconfig.Default())
	defer d.Close()

	f1 := solidFrame(t, 0, 50, 50, 50)
	defer f1.Close()
	d.Evaluate(f1, false)

	f2 := solidFrame(t, 1, 50, 50, 50)
	defer f2.Close()
	c := d.Evaluate(f2, true)
	require.NotNil(t, c.Frame)
	require.Equal(t, changedetect.ReasonMaxGap, c.Reason)
}
