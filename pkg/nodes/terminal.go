package nodes

import (
	"time"

	"researchflow/pkg/wfstate"
)

// ApplyTerminal is the (c) shape of §4.4. Route already computes which
// terminal phase to land on and why (routing.Decision.Phase/.Reason)
// independent of which node led there, so this is a plain function
// rather than a handler registered per phase: there is nothing
// node-specific left to decide once routing has settled on a terminal.
func ApplyTerminal(state *wfstate.WorkflowState, phase wfstate.Phase, reason string) (*wfstate.WorkflowState, []*wfstate.AuditEvent) {
	next := state.Clone()
	next.CurrentPhase = phase
	if reason != "" {
		next.EscalationReason = reason
	}

	kind := wfstate.AuditCompleted
	severity := "info"
	if phase != wfstate.PhaseComplete {
		kind = wfstate.AuditTerminated
		severity = "warn"
	}

	event := &wfstate.AuditEvent{
		EventID:   wfstate.NewEventID(),
		RequestID: state.RequestID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Node:      string(phase),
		Actor:     string(wfstate.ActorSystem),
		Severity:  severity,
	}
	if reason != "" {
		event.Payload = []byte(reason)
	}
	return next, []*wfstate.AuditEvent{event}
}
