package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/persistence"
	"researchflow/pkg/wfstate"
)

// GateHandler is the (b) shape of §4.4: create a pending Approval on
// first entry, then on every subsequent invocation check whether that
// approval has been decided and, if so, transcribe the decision into the
// gate's tri-state field of State. Run is idempotent and crash-safe: a
// gate with no pending-or-decided approval creates exactly one; a gate
// whose approval is still pending is a no-op; a gate whose approval is
// decided applies it exactly once, because once Decision.IsSet() the
// routing function (pkg/routing) never routes back into this node on
// the same pass.
type GateHandler struct {
	Store        *persistence.Store
	Node         wfstate.Phase
	ApprovalType wfstate.ApprovalType
	DefaultSLA   time.Duration

	// BuildPayload snapshots the material under review (§3.2) for the
	// reviewer to see.
	BuildPayload func(*wfstate.WorkflowState) []byte

	// GetDecision reads the gate's own tri-state field off state.
	GetDecision func(*wfstate.WorkflowState) wfstate.Decision

	// SetDecision writes the gate's tri-state field.
	SetDecision func(*wfstate.WorkflowState, wfstate.Decision)

	// ApplyModified merges a `modify` decision's payload into state,
	// restricted to the fields wfstate.ModifiableFields declares for
	// ApprovalType (§4.8). Nil for gates with no modifiable fields.
	ApplyModified func(state *wfstate.WorkflowState, modifiedPayload []byte) error
}

// Run implements the Handler shape shared with AgentHandler.
//
// The subtlety here is telling apart two situations that both present as
// "tri-state field unset, latest approval is decided": a just-arrived
// decision waiting to be transcribed, versus a prior pass's decision
// that a loop-back already reset the field for (§4.5: "the handler there
// clears [the field] before re-running") but which is still the latest
// row in storage because no new Approval has been created yet. State's
// ConsumedApprovals records which approval_id this gate has already
// applied, so that comparison — not the tri-state field — is the source
// of truth for whether a fresh Approval is needed.
func (h *GateHandler) Run(ctx context.Context, state *wfstate.WorkflowState) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error) {
	if h.GetDecision(state).IsSet() {
		// Already applied this pass; routing has moved on and this gate
		// should not be re-entered. Returning unchanged keeps Run safe to
		// call defensively from the engine's per-iteration gate check.
		return state, nil, nil
	}

	existing, err := h.Store.LatestApprovalByType(ctx, state.RequestID, h.ApprovalType)
	switch {
	case agentadapter.Is(err, agentadapter.KindNotFound):
		return h.create(ctx, state)
	case err != nil:
		return nil, nil, fmt.Errorf("look up latest %s approval: %w", h.ApprovalType, err)
	case existing.Status == wfstate.ApprovalPending:
		// Still awaiting a decision; nothing to do until resumed.
		return state, nil, nil
	case existing.ApprovalID == state.ConsumedApprovals[h.ApprovalType]:
		// This decided approval was already transcribed in an earlier
		// pass; the field was since reset by a loop-back, so this pass
		// needs its own fresh approval rather than re-applying the old one.
		return h.create(ctx, state)
	default:
		return h.consume(state, existing)
	}
}

func (h *GateHandler) create(ctx context.Context, state *wfstate.WorkflowState) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error) {
	now := time.Now().UTC()
	approval := &wfstate.Approval{
		ApprovalID:   wfstate.NewApprovalID(),
		RequestID:    state.RequestID,
		ApprovalType: h.ApprovalType,
		Status:       wfstate.ApprovalPending,
		SubmittedAt:  now,
		Payload:      h.BuildPayload(state),
	}
	if h.DefaultSLA > 0 {
		deadline := now.Add(h.DefaultSLA)
		approval.SLADeadline = &deadline
	}
	if err := h.Store.CreateApproval(ctx, approval); err != nil {
		return nil, nil, fmt.Errorf("create %s approval: %w", h.ApprovalType, err)
	}

	payloadJSON, _ := json.Marshal(map[string]string{"approval_id": approval.ApprovalID}) //nolint:errcheck // best-effort audit detail
	events := []*wfstate.AuditEvent{{
		EventID:   wfstate.NewEventID(),
		RequestID: state.RequestID,
		Timestamp: now,
		Kind:      wfstate.AuditApprovalRequested,
		Node:      string(h.Node),
		Actor:     string(wfstate.ActorSystem),
		Severity:  "info",
		Payload:   payloadJSON,
	}}
	next := state.Clone()
	next.CurrentPhase = h.Node
	return next, events, nil
}

// consume transcribes a decided approval's outcome into state's tri-state
// field (§4.8's decision-routing table). It never touches approvals
// storage; Decide already moved the approval to a terminal status.
func (h *GateHandler) consume(state *wfstate.WorkflowState, approval *wfstate.Approval) (*wfstate.WorkflowState, []*wfstate.AuditEvent, error) {
	next := state.Clone()

	switch approval.Status {
	case wfstate.ApprovalApproved:
		h.SetDecision(next, wfstate.Decision{Status: wfstate.DecisionApproved})

	case wfstate.ApprovalModified:
		if h.ApplyModified != nil {
			if err := h.ApplyModified(next, approval.ModifiedPayload); err != nil {
				return nil, nil, fmt.Errorf("apply modified payload for %s: %w", h.ApprovalType, err)
			}
		}
		h.SetDecision(next, wfstate.Decision{Status: wfstate.DecisionApproved})

	case wfstate.ApprovalRejected:
		h.SetDecision(next, wfstate.Decision{Status: wfstate.DecisionRejected, Reason: approval.Notes})

	case wfstate.ApprovalTimedOut:
		// §4.8: "timed_out -> treated as rejected for routing".
		h.SetDecision(next, wfstate.Decision{Status: wfstate.DecisionRejected, Reason: "approval timed out"})

	default:
		return nil, nil, fmt.Errorf("gate %s: approval %s has unexpected status %q", h.Node, approval.ApprovalID, approval.Status)
	}

	next.ConsumedApprovals[h.ApprovalType] = approval.ApprovalID

	kind := wfstate.AuditApprovalDecided
	actor := wfstate.ActorReviewer
	if approval.Status == wfstate.ApprovalTimedOut {
		kind = wfstate.AuditEscalated
		actor = wfstate.ActorSystem
	}

	events := []*wfstate.AuditEvent{{
		EventID:   wfstate.NewEventID(),
		RequestID: state.RequestID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Node:      string(h.Node),
		Actor:     string(actor),
		Severity:  "info",
		Payload:   []byte(fmt.Sprintf(`{"approval_id":%q,"status":%q}`, approval.ApprovalID, approval.Status)),
	}}
	return next, events, nil
}
