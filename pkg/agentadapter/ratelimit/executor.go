package ratelimit

import (
	"context"
	"fmt"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agents"
	"researchflow/pkg/tokencount"
)

// LimitedExecutor wraps an agentadapter.Executor with a Limiter, so a
// burst of nodes sharing one hosted-LLM provider queues on that
// provider's token budget and connection cap instead of all firing at
// once. It is the Executor the Adapter wraps, so it sits inside the
// Adapter's retry/circuit/timeout middleware: the wait for a slot runs
// under the per-attempt timeout, and a failed acquire comes back to the
// Adapter as a failed attempt like any other Execute error.
type LimitedExecutor struct {
	inner   agentadapter.Executor
	limiter Limiter
	counter *tokencount.Counter
}

// NewLimitedExecutor wraps inner with limiter. counter estimates the
// prompt's token cost for the acquire call; a nil counter falls back to
// a flat per-call estimate.
func NewLimitedExecutor(inner agentadapter.Executor, limiter Limiter, counter *tokencount.Counter) *LimitedExecutor {
	return &LimitedExecutor{inner: inner, limiter: limiter, counter: counter}
}

// Execute acquires a token-bucket slot sized to the estimated prompt
// length before delegating to the wrapped Executor, releasing the slot
// once the call returns.
func (e *LimitedExecutor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	estimated := e.estimateTokens(task, input)
	release, err := e.limiter.Acquire(ctx, estimated, string(task))
	if err != nil {
		return nil, fmt.Errorf("ratelimit acquire for %s: %w", task, err)
	}
	defer release()
	return e.inner.Execute(ctx, task, input)
}

func (e *LimitedExecutor) estimateTokens(task agentadapter.Task, input map[string]any) int {
	const flatEstimate = 500
	if e.counter == nil {
		return flatEstimate
	}
	prompt, err := agents.UserPrompt(input)
	if err != nil {
		return flatEstimate
	}
	return e.counter.Count(agents.SystemPrompt(task)) + e.counter.Count(prompt)
}
