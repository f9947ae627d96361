// Package providerclient is the one concrete implementation of
// dispatch.VLM/Evaluator/Transcriber shipped with this repository. The
// wire format to the actual VLM/LLM provider is deliberately out of
// scope of the engine itself (spec.md §1) — everything downstream of
// the interface boundary lives here precisely so cmd/monitor has
// something real to wire, following the teacher's cmd/ai-service
// pattern of a plain http.Client with a bearer token and a fixed
// timeout rather than a generated SDK.
package providerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/enginerr"
)

// Client calls a single HTTP endpoint for each of the three provider
// roles. A deployment missing one (e.g. no transcription provider)
// simply leaves that URL empty and omits the corresponding Dependencies
// field in cmd/monitor.
type Client struct {
	httpClient    *http.Client
	token         string
	describeURL   string
	evaluateURL   string
	transcribeURL string
}

func New(token, describeURL, evaluateURL, transcribeURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		token:         token,
		describeURL:   describeURL,
		evaluateURL:   evaluateURL,
		transcribeURL: transcribeURL,
	}
}

type describeRequest struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images"` // base64 JPEG
}

type describeResponse struct {
	Descriptions []string `json:"descriptions"`
}

// Describe satisfies dispatch.VLM.
func (c *Client) Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	var out describeResponse
	if err := c.post(ctx, c.describeURL, describeRequest{Prompt: prompt, Images: encoded}, &out); err != nil {
		return nil, err
	}
	return out.Descriptions, nil
}

type evaluateRequest struct {
	Observations []compliance.Observation `json:"observations"`
	Transcript   *compliance.Transcript   `json:"transcript,omitempty"`
	Policy       compliance.Policy        `json:"policy"`
	PriorContext string                   `json:"prior_context,omitempty"`
}

type evaluateResponse struct {
	Summary         string               `json:"summary"`
	AllVerdicts     []compliance.Verdict `json:"all_verdicts"`
	Recommendations string               `json:"recommendations,omitempty"`
}

// Evaluate satisfies dispatch.Evaluator. A response body that fails to
// decode as JSON surfaces as EvaluatorParseFailure so the Dispatch
// Engine's stricter-prompt retry kicks in, rather than the generic
// transient-retry path.
func (c *Client) Evaluate(ctx context.Context, observations []compliance.Observation, transcript *compliance.Transcript, policy compliance.Policy, priorContext string) (dispatch.ReportBody, error) {
	req := evaluateRequest{Observations: observations, Transcript: transcript, Policy: policy, PriorContext: priorContext}
	var out evaluateResponse
	if err := c.post(ctx, c.evaluateURL, req, &out); err != nil {
		return dispatch.ReportBody{}, err
	}
	return dispatch.ReportBody{Summary: out.Summary, AllVerdicts: out.AllVerdicts, Recommendations: out.Recommendations}, nil
}

type transcribeRequest struct {
	Audio        string `json:"audio"` // base64
	LanguageHint string `json:"language_hint,omitempty"`
}

// Transcribe satisfies dispatch.Transcriber.
func (c *Client) Transcribe(ctx context.Context, audio []byte, languageHint string) (compliance.Transcript, error) {
	var out compliance.Transcript
	req := transcribeRequest{Audio: base64.StdEncoding.EncodeToString(audio), LanguageHint: languageHint}
	if err := c.post(ctx, c.transcribeURL, req, &out); err != nil {
		return compliance.Transcript{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return enginerr.New(enginerr.KindVLMPermanent, "providerclient.post", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return enginerr.New(enginerr.KindVLMPermanent, "providerclient.post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return enginerr.New(enginerr.KindCancelled, "providerclient.post", ctx.Err())
		}
		return enginerr.New(enginerr.KindVLMTransient, "providerclient.post", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return enginerr.New(enginerr.KindRateLimited, "providerclient.post", fmt.Errorf("provider rate limited: %s", respBody))
	}
	if resp.StatusCode >= 500 {
		return enginerr.New(enginerr.KindVLMTransient, "providerclient.post", fmt.Errorf("provider %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return enginerr.New(enginerr.KindVLMPermanent, "providerclient.post", fmt.Errorf("provider %d: %s", resp.StatusCode, respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return enginerr.New(enginerr.KindEvaluatorParseFail, "providerclient.post", err)
	}
	return nil
}
