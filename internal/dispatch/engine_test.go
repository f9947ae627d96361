package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/enginerr"
)

type fakeLimiter struct{}

func (fakeLimiter) Wait(ctx context.Context) error { return nil }

type fakeVLM struct {
	mu       sync.Mutex
	calls    int
	failN    int // fail the first N calls with a transient error
	failKind enginerr.Kind
}

func (f *fakeVLM) Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if call <= f.failN {
		return nil, enginerr.New(f.failKind, "fakeVLM.Describe", errors.New("boom"))
	}
	out := make([]string, len(images))
	for i := range images {
		out[i] = "a scene"
	}
	return out, nil
}

type fakeEvaluator struct {
	mu        sync.Mutex
	calls     int
	failN     int
	failKind  enginerr.Kind
	lastPromt string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, obs []compliance.Observation, transcript *compliance.Transcript, policy compliance.Policy, priorContext string) (dispatch.ReportBody, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastPromt = policy.CustomPrompt
	f.mu.Unlock()
	if call <= f.failN {
		return dispatch.ReportBody{}, enginerr.New(f.failKind, "fakeEvaluator.Evaluate", errors.New("bad json"))
	}
	return dispatch.ReportBody{
		Summary: "all clear",
		AllVerdicts: []compliance.Verdict{
			{RuleID: "r1", Compliant: true, Severity: compliance.SeverityLow},
		},
	}, nil
}

func observations(n int) []compliance.Observation {
	out := make([]compliance.Observation, n)
	for i := range out {
		out[i] = compliance.Observation{Index: i, Timestamp: float64(i), ImageBase64: "aGVsbG8="}
	}
	return out
}

func TestRunWindowHappyPathProducesReport(t *testing.T) {
	vlm := &fakeVLM{}
	ev := &fakeEvaluator{}
	eng := dispatch.New("sess-1", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	report, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
		Observations: observations(3),
		Policy:       compliance.Policy{Rules: []compliance.Rule{{ID: "r1"}}},
		VideoID:      "sess-1",
	})
	require.NoError(t, err)
	require.Empty(t, report.Error)
	require.True(t, report.OverallCompliant)
	require.Equal(t, "a scene", report.FrameObservations[0].Description)
}

func TestRunWindowRetriesTransientVLMFailure(t *testing.T) {
	vlm := &fakeVLM{failN: 1, failKind: enginerr.KindVLMTransient}
	ev := &fakeEvaluator{}
	cfg := engineconfig.Default()
	eng := dispatch.New("sess-2", vlm, ev, nil, fakeLimiter{}, cfg)

	start := time.Now()
	report, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
		Observations: observations(2),
		Policy:       compliance.Policy{},
		VideoID:      "sess-2",
	})
	require.NoError(t, err)
	require.Empty(t, report.Error)
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRunWindowGivesUpOnPermanentVLMFailure(t *testing.T) {
	vlm := &fakeVLM{failN: 10, failKind: enginerr.KindVLMPermanent}
	ev := &fakeEvaluator{}
	eng := dispatch.New("sess-3", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	report, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
		Observations: observations(1),
		Policy:       compliance.Policy{},
		VideoID:      "sess-3",
	})
	require.NoError(t, err)
	require.NotEmpty(t, report.Error)
}

func TestRunWindowRetriesEvaluatorParseFailureWithStricterPrompt(t *testing.T) {
	vlm := &fakeVLM{}
	ev := &fakeEvaluator{failN: 1, failKind: enginerr.KindEvaluatorParseFail}
	eng := dispatch.New("sess-4", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	report, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
		Observations: observations(1),
		Policy:       compliance.Policy{CustomPrompt: "be concise"},
		VideoID:      "sess-4",
	})
	require.NoError(t, err)
	require.Empty(t, report.Error)
	require.Contains(t, ev.lastPromt, "strictly valid JSON")
}

func TestRunWindowGivesUpAfterTwoEvaluatorParseFailures(t *testing.T) {
	vlm := &fakeVLM{}
	ev := &fakeEvaluator{failN: 10, failKind: enginerr.KindEvaluatorParseFail}
	eng := dispatch.New("sess-5", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	report, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
		Observations: observations(1),
		Policy:       compliance.Policy{},
		VideoID:      "sess-5",
	})
	require.NoError(t, err)
	require.NotEmpty(t, report.Error)
	require.Empty(t, report.AllVerdicts)
}

func TestRunWindowSerializesConcurrentCalls(t *testing.T) {
	vlm := &fakeVLM{}
	ev := &fakeEvaluator{}
	eng := dispatch.New("sess-6", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.RunWindow(context.Background(), dispatch.WindowInput{
				Observations: observations(1),
				Policy:       compliance.Policy{},
				VideoID:      "sess-6",
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 4, ev.calls)
}

func TestRunWindowRespectsCancellation(t *testing.T) {
	vlm := &fakeVLM{failN: 100, failKind: enginerr.KindVLMTransient}
	ev := &fakeEvaluator{}
	eng := dispatch.New("sess-7", vlm, ev, nil, fakeLimiter{}, engineconfig.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := eng.RunWindow(ctx, dispatch.WindowInput{
		Observations: observations(1),
		Policy:       compliance.Policy{},
		VideoID:      "sess-7",
	})
	require.Error(t, err)
}
