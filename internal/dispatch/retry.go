package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/enginerr"
)

// describeAll batches Observations into chunks of at most
// cfg.DispatchBatchSize and calls the VLM once per chunk, writing each
// returned description back onto its Observation. Batches run
// sequentially — at most one Describing call in flight holds even
// across multiple batches within the same window.
func (e *Engine) describeAll(ctx context.Context, obs []compliance.Observation, policy compliance.Policy) error {
	batchSize := e.cfg.DispatchBatchSize
	if batchSize <= 0 {
		batchSize = len(obs)
	}
	prompt := buildPrompt(policy)

	for start := 0; start < len(obs); start += batchSize {
		end := start + batchSize
		if end > len(obs) {
			end = len(obs)
		}
		batch := obs[start:end]

		images := make([][]byte, len(batch))
		for i, o := range batch {
			images[i] = decodeBase64(o.ImageBase64)
		}

		descriptions, err := e.withRetry(ctx, "describe", func(ctx context.Context) ([]string, error) {
			return e.describeOnce(ctx, images, prompt)
		})
		if err != nil {
			return err
		}
		for i := range batch {
			if i < len(descriptions) {
				obs[start+i].Description = descriptions[i]
			}
		}
	}
	return nil
}

func (e *Engine) describeOnce(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.vlm.Describe(ctx, images, prompt)
}

// evaluateWithRetry applies the general transient-retry policy, plus the
// special case from spec.md §7: on EvaluatorParseFailure, retry once
// with a stricter prompt before giving up (distinct from the 3-attempt
// exponential backoff used for network-level transient failures).
func (e *Engine) evaluateWithRetry(ctx context.Context, obs []compliance.Observation, transcript *compliance.Transcript, policy compliance.Policy, priorContext string) (ReportBody, error) {
	strictPolicy := policy
	triedStrict := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return ReportBody{}, err
		}
		body, err := e.evaluator.Evaluate(ctx, obs, transcript, strictPolicy, priorContext)
		if err == nil {
			return body, nil
		}
		if isCancellation(err) {
			return ReportBody{}, err
		}

		if enginerr.IsKind(err, enginerr.KindEvaluatorParseFail) {
			if triedStrict {
				return ReportBody{}, err
			}
			triedStrict = true
			strictPolicy.CustomPrompt = strictPolicy.CustomPrompt + "\nRespond with strictly valid JSON matching the required schema. No prose, no markdown fences."
			log.Printf("[DISPATCH:%s] evaluator parse failure, retrying with stricter prompt", e.sessionID)
			e.metrics.IncRetry(e.sessionID, "evaluate_parse")
			continue
		}

		var kerr *enginerr.Error
		if k, ok := err.(*enginerr.Error); ok {
			kerr = k
		}
		if kerr != nil && !kerr.Kind.Transient() {
			return ReportBody{}, err
		}

		if attempt == maxAttempts-1 {
			return ReportBody{}, err
		}
		e.metrics.IncRetry(e.sessionID, "evaluate")
		if err := sleepBackoff(ctx, attempt); err != nil {
			return ReportBody{}, err
		}
	}
	return ReportBody{}, fmt.Errorf("dispatch: evaluate: exhausted retries")
}

// withRetry applies the generic exponential-backoff retry policy (base
// 1s, factor 2, cap 30s, 3 attempts) to any transient VLM failure;
// VLMPermanent failures are not retried.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) ([]string, error)) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isCancellation(err) {
			return nil, err
		}

		var kerr *enginerr.Error
		if k, ok := err.(*enginerr.Error); ok {
			kerr = k
		}
		if kerr != nil && !kerr.Kind.Transient() {
			return nil, err
		}

		if attempt == maxAttempts-1 {
			break
		}
		log.Printf("[DISPATCH:%s] %s attempt %d failed, retrying: %v", e.sessionID, op, attempt+1, err)
		e.metrics.IncRetry(e.sessionID, op)
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dispatch: %s: exhausted retries: %w", op, lastErr)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	d := retryBase
	for i := 0; i < attempt; i++ {
		d *= retryFactor
	}
	if d > retryCap {
		d = retryCap
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func buildPrompt(policy compliance.Policy) string {
	prompt := "Describe what is visible in each image, focusing on people, objects, and actions relevant to a workplace safety and compliance review."
	if policy.CustomPrompt != "" {
		prompt += "\nContext: " + policy.CustomPrompt
	}
	return prompt
}
