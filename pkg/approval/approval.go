// Package approval implements C7 (§4.8): the contract external callers
// (APIs, UIs, sweepers) use to list pending approvals and submit
// decisions against them. It never touches the workflow graph directly —
// deciding an approval only flips its own row; a Resumer re-enters the
// engine's execution loop to apply the effect.
package approval

import (
	"context"
	"fmt"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/logx"
	"researchflow/pkg/metrics"
	"researchflow/pkg/persistence"
	"researchflow/pkg/wfstate"
)

// DecisionKind is the caller-facing decision vocabulary of §6's Approval
// API — a narrower, externally-stable set than wfstate.ApprovalStatus,
// which also carries the pending/timed_out states no caller ever submits.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionModify  DecisionKind = "modify"
)

// Resumer re-enters the engine's execution loop for a request after an
// external event. pkg/engine.Engine implements this; approval depends
// only on the interface so the two packages don't import each other.
type Resumer interface {
	Resume(ctx context.Context, requestID string) error
}

// Filter narrows ListPending per §6 ("filtered by approval_type,
// request_id, or SLA urgency").
type Filter struct {
	ApprovalType wfstate.ApprovalType // zero value: any type
	RequestID    string               // zero value: any request
	OverdueOnly  bool                 // only approvals past their SLA deadline
}

// Service is C7's implementation, backed by the same Store the engine
// uses for workflow state.
type Service struct {
	store    *persistence.Store
	resumer  Resumer
	logger   *logx.Logger
	recorder *metrics.Recorder
}

// New constructs a Service. resumer is typically the running Engine;
// tests may pass a stub that just records calls.
func New(store *persistence.Store, resumer Resumer) *Service {
	return &Service{store: store, resumer: resumer, logger: logx.NewLogger("approval")}
}

// SetRecorder attaches a Prometheus recorder so ListPending updates the
// approvals_pending gauge and Decide/SweepTimeouts increment
// approvals_decided_total/approvals_timed_out_total. Optional: a Service
// with no recorder simply skips observation.
func (s *Service) SetRecorder(r *metrics.Recorder) {
	s.recorder = r
}

// ListPending implements §4.8's list_pending(filter).
func (s *Service) ListPending(ctx context.Context, filter Filter) ([]*wfstate.Approval, error) {
	all, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}

	now := time.Now().UTC()
	out := make([]*wfstate.Approval, 0, len(all))
	pendingByType := make(map[wfstate.ApprovalType]int)
	for _, a := range all {
		pendingByType[a.ApprovalType]++
		if filter.ApprovalType != "" && a.ApprovalType != filter.ApprovalType {
			continue
		}
		if filter.RequestID != "" && a.RequestID != filter.RequestID {
			continue
		}
		if filter.OverdueOnly && (a.SLADeadline == nil || !a.SLADeadline.Before(now)) {
			continue
		}
		out = append(out, a)
	}
	if s.recorder != nil {
		for approvalType, count := range pendingByType {
			s.recorder.SetApprovalsPending(string(approvalType), count)
		}
	}
	return out, nil
}

// Decide implements §4.8's decide(approval_id, decision, reviewer,
// notes, modified_payload?). A modify decision with a field the gate
// doesn't declare modifiable is rejected as Invalid (§8) before it ever
// reaches storage. On success it triggers an engine resume so the
// workflow doesn't wait for the next poll tick (§4.7).
func (s *Service) Decide(ctx context.Context, approvalID string, decision DecisionKind, reviewer, notes string, modifiedPayload []byte) error {
	existing, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("decide %s: %w", approvalID, err)
	}

	if decision == DecisionModify {
		if err := validateModifiablePayload(existing.ApprovalType, modifiedPayload); err != nil {
			return agentadapter.Wrap(agentadapter.KindInvalid, existing.RequestID, err, "modify decision touches a non-modifiable field")
		}
	}

	status, err := statusFor(decision)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInvalid, existing.RequestID, err, "unrecognized decision")
	}

	if err := s.store.DecideApproval(ctx, approvalID, status, reviewer, notes, modifiedPayload, time.Now().UTC()); err != nil {
		return fmt.Errorf("decide %s: %w", approvalID, err)
	}
	if s.recorder != nil {
		s.recorder.ObserveApprovalDecided(string(existing.ApprovalType), string(decision))
	}

	if err := s.resumer.Resume(ctx, existing.RequestID); err != nil {
		// The decision itself already committed; a resume failure just
		// means the request waits for the next poll sweep instead of
		// waking immediately (§4.7's polling fallback still applies).
		s.logger.Warn("resume %s after decision on %s: %v", existing.RequestID, approvalID, err)
	}
	return nil
}

func statusFor(decision DecisionKind) (wfstate.ApprovalStatus, error) {
	switch decision {
	case DecisionApprove:
		return wfstate.ApprovalApproved, nil
	case DecisionReject:
		return wfstate.ApprovalRejected, nil
	case DecisionModify:
		return wfstate.ApprovalModified, nil
	default:
		return "", fmt.Errorf("unrecognized decision %q", decision)
	}
}

// validateModifiablePayload checks modifiedPayload's top-level JSON keys
// against wfstate.ModifiableFields for approvalType (§4.8: "only fields
// the gate declares as modifiable"). The actual merge into State happens
// later, inside GateHandler's consume step, using the same table for
// defense-in-depth.
func validateModifiablePayload(approvalType wfstate.ApprovalType, payload []byte) error {
	allowed := wfstate.ModifiableFields[approvalType]
	if len(allowed) == 0 {
		return fmt.Errorf("approval type %q declares no modifiable fields", approvalType)
	}
	keys, err := jsonTopLevelKeys(payload)
	if err != nil {
		return fmt.Errorf("parse modified_payload: %w", err)
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := allowedSet[k]; !ok {
			return fmt.Errorf("field %q is not modifiable for approval type %q", k, approvalType)
		}
	}
	return nil
}

// SweepTimeouts implements §4.8's sweep_timeouts(now): idempotent,
// transitions every pending approval past its SLA deadline to
// timed_out and returns how many it moved. Safe to run from any process
// or on any schedule; a racing decide() on the same approval loses the
// DecideApproval race harmlessly (KindAlreadyDecided, swallowed here).
func (s *Service) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredApprovals(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep timeouts: %w", err)
	}

	count := 0
	for _, a := range expired {
		err := s.store.DecideApproval(ctx, a.ApprovalID, wfstate.ApprovalTimedOut, "", "SLA deadline exceeded", nil, now)
		switch {
		case err == nil:
			count++
			if s.recorder != nil {
				s.recorder.ObserveApprovalTimedOut(string(a.ApprovalType))
			}
			if err := s.resumer.Resume(ctx, a.RequestID); err != nil {
				s.logger.Warn("resume %s after timeout on %s: %v", a.RequestID, a.ApprovalID, err)
			}
		case agentadapter.Is(err, agentadapter.KindAlreadyDecided):
			// A decide() landed first; not our event to count.
		default:
			return count, fmt.Errorf("decide timeout for %s: %w", a.ApprovalID, err)
		}
	}
	return count, nil
}
