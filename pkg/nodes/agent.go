// Package nodes implements C4 (§4.4): one handler per graph node. Every
// handler is a pure function of (WorkflowState) -> (WorkflowState',
// []AuditEvent) except for the one side effect each shape is allowed:
// agent nodes call through an injected agentadapter.Adapter, gate nodes
// call through an injected persistence.Store. Neither touches workflow
// storage directly (§6: "agents are pure with respect to workflow
// state").
package nodes

import (
	"context"
	"fmt"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/config"
	"researchflow/pkg/wfstate"
)

// AgentHandler is the (a) shape of §4.4: invoke exactly one agent task,
// on success apply its output to a cloned state and advance
// CurrentPhase, on terminal failure set Error and either retry the same
// node (if it owns a loop site and its counter is below cap) or escalate
// to human_review (§4.9: "routes either to its loop predecessor ... or
// to human_review").
type AgentHandler struct {
	Adapter *agentadapter.Adapter
	Node    wfstate.Phase
	Task    agentadapter.Task

	// LoopSite is non-empty when this node owns one of the three loop
	// counters (§4.6); a terminal agent failure then retries the same
	// node, incrementing the counter, instead of escalating outright.
	LoopSite string

	// BuildInput extracts the input slice this task reads from State
	// (§6: "reads an input slice from State").
	BuildInput func(*wfstate.WorkflowState) map[string]any

	// ApplyOutput writes the task's output slice back onto the cloned
	// state and returns the next phase on success.
	ApplyOutput func(state *wfstate.WorkflowState, output map[string]any) (next wfstate.Phase, err error)
}

// Run executes the handler. It never mutates the state passed in;
// on any path it returns a clone (or the same unmodified document on a
// retryable failure the caller should try again later).
func (h *AgentHandler) Run(ctx context.Context, state *wfstate.WorkflowState) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error) {
	var events []*wfstate.AuditEvent
	events = append(events, h.event(state, wfstate.AuditNodeEntered, wfstate.ActorSystem, "info", nil))
	events = append(events, h.event(state, wfstate.AuditAgentAttempt, wfstate.ActorAgent, "info", nil))

	input := h.BuildInput(state)
	result := h.Adapter.Invoke(ctx, state.RequestID, string(h.Node), h.Task, input)

	switch result.Status {
	case agentadapter.StatusSuccess:
		next := state.Clone()
		nextPhase, err := h.ApplyOutput(next, result.Output)
		if err != nil {
			return h.escalate(state, err, events)
		}
		next.CurrentPhase = nextPhase
		events = append(events, h.event(state, wfstate.AuditAgentSuccess, wfstate.ActorAgent, "info", nil))
		events = append(events, h.event(state, wfstate.AuditNodeExited, wfstate.ActorSystem, "info", nil))
		return next, events, nil

	case agentadapter.StatusRetryableFailure:
		// The Adapter only returns this when the calling context was
		// cancelled mid-backoff, before its attempt cap was reached
		// (§4.3 elevates an exhausted-but-retryable failure to
		// terminal). Leave state untouched so the next poll retries the
		// whole invocation rather than compounding partial effects.
		events = append(events, h.event(state, wfstate.AuditAgentFailure, wfstate.ActorAgent, "warn", []byte(result.Err.Error())))
		return state, events, nil

	default: // StatusTerminalFailure
		return h.escalate(state, result.Err, events)
	}
}

func (h *AgentHandler) escalate(state *wfstate.WorkflowState, cause error, events []*wfstate.AuditEvent) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error) {
	next := state.Clone()
	attemptNo := next.IterationCounters[h.LoopSite] + 1
	next.Error = &wfstate.WorkflowError{
		Kind:       agentadapter.KindOf(cause).String(),
		Message:    cause.Error(),
		FailedNode: string(h.Node),
		AttemptNo:  attemptNo,
	}
	events = append(events, h.event(state, wfstate.AuditAgentFailure, wfstate.ActorAgent, "error", []byte(cause.Error())))

	if h.LoopSite != "" && attemptNo <= loopSiteCap(h.LoopSite) {
		// Below cap: retry the same node rather than escalate (§4.9).
		next.IterationCounters[h.LoopSite] = attemptNo
		next.CurrentPhase = h.Node
		events = append(events, h.event(state, wfstate.AuditNodeExited, wfstate.ActorSystem, "warn", nil))
		return next, events, nil
	}

	if h.LoopSite != "" {
		next.IterationCounters[h.LoopSite] = attemptNo
	}
	next.EscalationReason = fmt.Sprintf("%s failed: %v", h.Node, cause)
	next.CurrentPhase = wfstate.PhaseHumanReview
	events = append(events, h.event(state, wfstate.AuditEscalated, wfstate.ActorSystem, "error", nil))
	return next, events, nil
}

// loopSiteCap resolves the configured iteration cap for a loop site name
// (§6 config surface: max_iterations.{requirements,phenotype,qa_reextract}).
func loopSiteCap(site string) int {
	if !config.IsLoaded() {
		// Tests that exercise handlers directly without a full config
		// singleton fall back to the documented defaults (§6).
		switch site {
		case wfstate.LoopSiteRequirements, wfstate.LoopSitePhenotype:
			return 5
		case wfstate.LoopSiteQAReextract:
			return 3
		default:
			return 0
		}
	}
	caps := config.GetConfig().MaxIterations
	switch site {
	case wfstate.LoopSiteRequirements:
		return caps.Requirements
	case wfstate.LoopSitePhenotype:
		return caps.Phenotype
	case wfstate.LoopSiteQAReextract:
		return caps.QAReextract
	default:
		return 0
	}
}

func (h *AgentHandler) event(state *wfstate.WorkflowState, kind wfstate.AuditEventKind, actor wfstate.AuditActorKind, severity string, payload []byte) *wfstate.AuditEvent {
	return &wfstate.AuditEvent{
		EventID:   wfstate.NewEventID(),
		RequestID: state.RequestID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Node:      string(h.Node),
		Actor:     string(actor),
		Severity:  severity,
		Payload:   payload,
	}
}
