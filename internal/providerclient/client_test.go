package providerclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/enginerr"
	"github.com/technosupport/vision-compliance/internal/providerclient"
)

func TestDescribeReturnsDescriptionsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"descriptions": []string{"a", "b"}})
	}))
	defer srv.Close()

	c := providerclient.New("test-token", srv.URL, "", "", 0)
	out, err := c.Describe(context.Background(), [][]byte{[]byte("x"), []byte("y")}, "prompt")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out)
}

func TestEvaluateServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	c := providerclient.New("", "", srv.URL, "", 0)
	_, err := c.Evaluate(context.Background(), nil, nil, compliance.Policy{}, "")
	require.Error(t, err)
	require.True(t, enginerr.IsKind(err, enginerr.KindVLMTransient))
}

func TestEvaluateRateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := providerclient.New("", "", srv.URL, "", 0)
	_, err := c.Evaluate(context.Background(), nil, nil, compliance.Policy{}, "")
	require.Error(t, err)
	require.True(t, enginerr.IsKind(err, enginerr.KindRateLimited))
}

func TestEvaluateMalformedBodyIsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := providerclient.New("", "", srv.URL, "", 0)
	_, err := c.Evaluate(context.Background(), nil, nil, compliance.Policy{}, "")
	require.Error(t, err)
	require.True(t, enginerr.IsKind(err, enginerr.KindEvaluatorParseFail))
}
