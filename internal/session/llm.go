package session

import (
	"context"
	"time"

	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
	"github.com/haasonsaas/agentkernel/internal/ratelimit"
	"github.com/haasonsaas/agentkernel/internal/retry"
)

// mainEndpoint is the single rate-limit endpoint key every LLM call uses,
// the session's and the workers' alike; the limiter keys its state by
// (endpoint, actor), so the Main and Worker quota pools (spec §4.7) stay
// separate.
const mainEndpoint = "llm.main"

// rateLimitedLLM decorates an executor.LLMClient with spec §4.7/4.8's
// acquire-before-call rate limiting and classify-and-backoff retry,
// grounded on the same composition internal/agent/failover.go uses around
// a raw provider call, rebuilt against this kernel's own LLMClient
// interface instead of a provider SDK.
type rateLimitedLLM struct {
	inner   executor.LLMClient
	limiter *ratelimit.Limiter
	breaker *retry.CircuitBreaker
	policy  retry.Policy
	actor   ratelimit.Actor
}

func newRateLimitedLLM(inner executor.LLMClient, limiter *ratelimit.Limiter, breaker *retry.CircuitBreaker, policy retry.Policy, actor ratelimit.Actor) *rateLimitedLLM {
	return &rateLimitedLLM{inner: inner, limiter: limiter, breaker: breaker, policy: policy, actor: actor}
}

type llmResult struct {
	content string
	usage   executor.Usage
	model   string
}

// CompleteLLM implements executor.LLMClient.
func (r *rateLimitedLLM) CompleteLLM(ctx context.Context, req intent.LLMRequest) (string, executor.Usage, string, error) {
	estTokens := estimateRequestTokens(req)

	result, err := retry.Do(ctx, r.breaker, r.policy, func(attempt int) (llmResult, error) {
		now := time.Now()
		if acqErr := ratelimit.Acquire(r.limiter, now, mainEndpoint, r.actor, estTokens); acqErr != nil {
			return llmResult{}, acqErr
		}

		content, usage, model, callErr := r.inner.CompleteLLM(ctx, req)
		if callErr != nil {
			var retryAfter *time.Duration
			if rlErr, ok := callErr.(*ratelimit.Error); ok {
				d := rlErr.RetryAfter
				retryAfter = &d
			}
			ratelimit.RecordRateLimitError(r.limiter, now, mainEndpoint, r.actor, retryAfter)
			return llmResult{}, callErr
		}

		ratelimit.RecordSuccess(r.limiter, now, mainEndpoint, r.actor)
		return llmResult{content: content, usage: usage, model: model}, nil
	})
	if err != nil {
		return "", executor.Usage{}, "", err
	}
	return result.content, result.usage, result.model, nil
}

// estimateRequestTokens approximates prompt size the same rough way the
// original token-budget pruner does for history (~4 chars/token), since
// the quota check has to happen before the real usage is known.
func estimateRequestTokens(req intent.LLMRequest) uint32 {
	chars := len(req.Context.System) + len(req.Context.Scratchpad)
	tokens := chars / 4
	if req.MaxTokens > 0 {
		tokens += req.MaxTokens
	}
	if tokens < 1 {
		tokens = 1
	}
	return uint32(tokens)
}
