package agentadapter

import (
	"context"
	"fmt"
	"time"

	"researchflow/pkg/agentadapter/circuit"
	"researchflow/pkg/agentadapter/retry"
	"researchflow/pkg/agentadapter/timeout"
	"researchflow/pkg/config"
	"researchflow/pkg/logx"
	"researchflow/pkg/metrics"
)

// Task identifies an agent capability, e.g. "requirements_agent.gather"
// (§6). Executors are registered per task.
type Task string

// Executor is the uniform contract every agent backend implements (§4.3:
// "invoke(agent_id, task, input, cancellation_token, timeout) ->
// AgentResult"). A single call to Execute is one attempt; retrying is
// the Adapter's job, not the Executor's.
type Executor interface {
	Execute(ctx context.Context, task Task, input map[string]any) (output map[string]any, err error)
}

// ResultStatus tags an AgentResult as one of the three outcomes §4.3
// defines.
type ResultStatus int8

const (
	// StatusSuccess — the invocation completed and produced output.
	StatusSuccess ResultStatus = iota
	// StatusRetryableFailure — the calling context was cancelled while
	// an attempt was still in backoff, before the retry cap was reached;
	// the caller may re-invoke later (e.g. on the next engine sweep)
	// rather than treat this as final.
	StatusRetryableFailure
	// StatusTerminalFailure — the invocation failed for good: the error
	// is not retryable, every attempt failed, or the circuit breaker
	// refused an attempt. The caller should route to a terminal or
	// escalation phase.
	StatusTerminalFailure
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusRetryableFailure:
		return "RetryableFailure"
	case StatusTerminalFailure:
		return "TerminalFailure"
	default:
		return "Unknown"
	}
}

// AgentResult is the tagged union every Invoke call returns. Exactly one
// of Output or Err is meaningful, selected by Status.
type AgentResult struct {
	Status   ResultStatus
	Output   map[string]any
	Err      error
	Attempts int
}

// InvocationKey identifies one agent invocation for idempotency and
// audit correlation (§4.3: "idempotency via invocation key
// (request_id, node, attempt_no)").
type InvocationKey struct {
	RequestID string
	Node      string
	AttemptNo int
}

func (k InvocationKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.RequestID, k.Node, k.AttemptNo)
}

// Config bundles the middleware knobs composed around an Executor.
//
//nolint:govet // logical field grouping preferred over alignment
type Config struct {
	Retry   retry.Config
	Circuit circuit.Config
	Timeout time.Duration
}

// DefaultConfig wires the package defaults for each middleware layer.
//
//nolint:gochecknoglobals // sensible default config pattern
var DefaultConfig = Config{
	Retry:   retry.DefaultConfig,
	Circuit: circuit.DefaultConfig,
	Timeout: 60 * time.Second,
}

// Adapter invokes an Executor through retry, circuit-breaker, and
// timeout middleware, one breaker instance per node so that a failing
// agent doesn't trip the breaker for unrelated nodes sharing the same
// backend.
type Adapter struct {
	executor Executor
	config   Config
	breakers map[string]circuit.Breaker
	recorder *metrics.Recorder
}

// New constructs an Adapter around executor.
func New(executor Executor, config Config) *Adapter {
	return &Adapter{
		executor: executor,
		config:   config,
		breakers: make(map[string]circuit.Breaker),
	}
}

// SetRecorder attaches a Prometheus recorder so every Invoke call emits
// agent_invocations_total/agent_retry_total series, plus
// llm_tokens_total/llm_costs_total when the Executor's output carries the
// _prompt_tokens/_completion_tokens/_model bookkeeping keys the hosted-LLM
// backends under pkg/agents stamp on success. Optional: an Adapter with no
// recorder simply skips observation.
func (a *Adapter) SetRecorder(r *metrics.Recorder) {
	a.recorder = r
}

func (a *Adapter) observeTokens(requestID string, output map[string]any) {
	if a.recorder == nil || output == nil {
		return
	}
	model, ok := output["_model"].(string)
	if !ok || model == "" {
		return
	}
	promptTokens, _ := output["_prompt_tokens"].(int)
	completionTokens, _ := output["_completion_tokens"].(int)
	cost, err := config.CalculateCost(model, promptTokens, completionTokens)
	if err != nil {
		return
	}
	a.recorder.ObserveTokens(requestID, model, promptTokens, completionTokens, cost)
}

func (a *Adapter) breakerFor(node string) circuit.Breaker {
	b, ok := a.breakers[node]
	if !ok {
		b = circuit.New(a.config.Circuit)
		a.breakers[node] = b
	}
	return b
}

// Invoke runs task against the adapter's Executor, applying timeout,
// circuit-breaker, and retry-with-backoff middleware in that order
// (timeout bounds each attempt, circuit gates the attempt before it
// starts, retry governs whether there is a next attempt) per §4.3/§5.
// node identifies the calling workflow node for breaker isolation and
// invocation-key construction.
func (a *Adapter) Invoke(ctx context.Context, requestID, node string, task Task, input map[string]any) AgentResult {
	policy := retry.NewPolicy(a.config.Retry, nil)
	breaker := a.breakerFor(node)

	var lastErr error
	maxAttempts := a.config.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key := InvocationKey{RequestID: requestID, Node: node, AttemptNo: attempt}

		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			select {
			case <-ctx.Done():
				return AgentResult{Status: StatusRetryableFailure, Err: ctx.Err(), Attempts: attempt - 1} //nolint:wrapcheck
			case <-time.After(delay):
			}
		}

		if !breaker.Allow() {
			lastErr = Wrap(KindUpstreamUnavailable, requestID, &circuit.Error{State: breaker.GetState()}, fmt.Sprintf("circuit open for node %s", node))
			logx.Infof("ADAPTER: circuit open, skipping attempt for %s", key)
			break
		}

		attemptCtx, cancel := timeout.WithDeadline(ctx, a.config.Timeout)
		output, err := a.executor.Execute(attemptCtx, task, input)
		cancel()

		if err == nil {
			breaker.Record(nil)
			if a.recorder != nil {
				a.recorder.ObserveAgentInvocation(string(task), "success", attempt)
			}
			a.observeTokens(requestID, output)
			return AgentResult{Status: StatusSuccess, Output: output, Attempts: attempt}
		}

		breaker.Record(err)
		lastErr = err
		logx.Infof("ADAPTER: attempt %d/%d failed for %s: %v", attempt, maxAttempts, key, err)

		if !policy.ShouldRetry(err) {
			if a.recorder != nil {
				a.recorder.ObserveAgentInvocation(string(task), "terminal_failure", attempt)
			}
			return AgentResult{Status: StatusTerminalFailure, Err: lastErr, Attempts: attempt}
		}
	}

	// Reaching this point means either every attempt failed with a
	// retryable error (§4.3 elevates an exhausted retryable failure to
	// terminal) or the breaker refused an attempt (the break above);
	// both end the invocation as terminal.
	status := StatusTerminalFailure
	if a.recorder != nil {
		a.recorder.ObserveAgentInvocation(string(task), status.String(), maxAttempts)
	}
	return AgentResult{Status: status, Err: lastErr, Attempts: maxAttempts}
}
