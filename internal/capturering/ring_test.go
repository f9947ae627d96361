package capturering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/capturering"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

func newFrame(idx int) *videoframe.Frame {
	return &videoframe.Frame{Index: idx, Timestamp: float64(idx), Mat: gocv.NewMat()}
}

func TestPutOverwritesUnreadFrame(t *testing.T) {
	r := capturering.New()
	r.Put(newFrame(1))
	r.Put(newFrame(2)) // frame 1 is dropped and closed

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := r.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, f.Index)
}

func TestTakeBlocksUntilPut(t *testing.T) {
	r := capturering.New()
	done := make(chan *videoframe.Frame, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f, err := r.Take(ctx)
		require.NoError(t, err)
		done <- f
	}()

	time.Sleep(20 * time.Millisecond)
	r.Put(newFrame(7))

	select {
	case f := <-done:
		require.Equal(t, 7, f.Index)
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked")
	}
}

func TestTakeRespectsContextCancellation(t *testing.T) {
	r := capturering.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Take(ctx)
	require.Error(t, err)
}

func TestCloseWakesBlockedTake(t *testing.T) {
	r := capturering.New()
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Take(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked after Close")
	}
}
