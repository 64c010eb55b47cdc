package nodes

import (
	"context"

	"researchflow/pkg/wfstate"
)

// Handler is the shape shared by AgentHandler and GateHandler (§4.4): a
// function of (context, State) -> (State', audit_events, error). The
// engine holds a registry of these keyed by Phase and never needs to
// know which shape backs a given node.
type Handler interface {
	Run(ctx context.Context, state *wfstate.WorkflowState) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error)
}
