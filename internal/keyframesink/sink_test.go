package keyframesink_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/changedetect"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/keyframesink"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

func candidate(t *testing.T, idx int, reason changedetect.Reason) changedetect.Candidate {
	t.Helper()
	const dim = 64
	buf := make([]byte, dim*dim*3)
	for i := range buf {
		buf[i] = byte(idx * 7)
	}
	mat, err := gocv.NewMatFromBytes(dim, dim, gocv.MatTypeCV8UC3, buf)
	require.NoError(t, err)
	f := &videoframe.Frame{Index: idx, Timestamp: float64(idx), Mat: mat, Width: dim, Height: dim}
	return changedetect.Candidate{Frame: f, Score: 0.5, Reason: reason}
}

func TestEncodeProducesNonEmptyImageAndMonotonicIndex(t *testing.T) {
	cfg := engineconfig.Default()
	s := keyframesink.New(cfg, false, "")
	defer s.Close()

	c1 := candidate(t, 0, changedetect.ReasonFirst)
	defer c1.Frame.Close()
	obs1, err := s.Encode(c1)
	require.NoError(t, err)
	require.NotEmpty(t, obs1.ImageBase64)
	require.Equal(t, 0, obs1.Index)

	c2 := candidate(t, 1, changedetect.ReasonChanged)
	defer c2.Frame.Close()
	obs2, err := s.Encode(c2)
	require.NoError(t, err)
	require.Equal(t, 1, obs2.Index)
	require.Greater(t, obs2.Index, obs1.Index)
}

func TestEncodeWritesToOutputDirAsynchronously(t *testing.T) {
	dir := t.TempDir()
	cfg := engineconfig.Default()
	s := keyframesink.New(cfg, false, dir)

	c := candidate(t, 0, changedetect.ReasonFirst)
	defer c.Frame.Close()
	_, err := s.Encode(c)
	require.NoError(t, err)

	s.Close() // waits for the writer to flush pending jobs

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestQueueOverflowDropsOldestWithoutBlocking(t *testing.T) {
	dir := t.TempDir()
	cfg := engineconfig.Default()
	cfg.SinkQueueDepth = 1
	s := keyframesink.New(cfg, false, dir)
	defer s.Close()

	// Encode several frames quickly; regardless of how the writer keeps
	// up, Encode itself must never block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			c := candidate(t, i, changedetect.ReasonChanged)
			_, err := s.Encode(c)
			require.NoError(t, err)
			c.Frame.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Encode blocked under queue pressure")
	}
}
