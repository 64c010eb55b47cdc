package nodes

import (
	"encoding/json"
	"time"

	"researchflow/pkg/config"
	"researchflow/pkg/persistence"
	"researchflow/pkg/wfstate"
)

// gateSLA resolves the configured default approval SLA, falling back to
// §6's documented default (48h) for handlers built without a loaded
// config singleton (mirrors loopSiteCap's fallback in agent.go).
func gateSLA() time.Duration {
	if !config.IsLoaded() {
		return 48 * time.Hour
	}
	return config.GetConfig().Approval.DefaultSLA
}

func marshalPayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// A marshal failure here means a programmer error in one of the
		// typed state structs, not a runtime condition callers can act
		// on; an empty payload still lets the gate create its Approval
		// rather than block the workflow entirely.
		return []byte("{}")
	}
	return b
}

// NewRequirementsReviewGate wraps PhaseRequirementsReview (§4.8): the
// reviewer sees the gathered Requirements and may approve, reject, or
// modify any of the fields wfstate.ModifiableFields lists for
// ApprovalTypeRequirements.
func NewRequirementsReviewGate(store *persistence.Store) *GateHandler {
	return &GateHandler{
		Store:        store,
		Node:         wfstate.PhaseRequirementsReview,
		ApprovalType: wfstate.ApprovalTypeRequirements,
		DefaultSLA:   gateSLA(),
		BuildPayload: func(s *wfstate.WorkflowState) []byte {
			return marshalPayload(s.Requirements)
		},
		GetDecision: func(s *wfstate.WorkflowState) wfstate.Decision { return s.RequirementsApproved },
		SetDecision: func(s *wfstate.WorkflowState, d wfstate.Decision) { s.RequirementsApproved = d },
		ApplyModified: func(s *wfstate.WorkflowState, modifiedPayload []byte) error {
			var patch wfstate.Requirements
			if err := json.Unmarshal(modifiedPayload, &patch); err != nil {
				return err
			}
			s.Requirements = &patch
			return nil
		},
	}
}

// NewPhenotypeReviewGate wraps PhasePhenotypeReview: the reviewer sees
// the generated phenotype SQL and may modify only the SQL text itself.
func NewPhenotypeReviewGate(store *persistence.Store) *GateHandler {
	return &GateHandler{
		Store:        store,
		Node:         wfstate.PhasePhenotypeReview,
		ApprovalType: wfstate.ApprovalTypePhenotypeSQL,
		DefaultSLA:   gateSLA(),
		BuildPayload: func(s *wfstate.WorkflowState) []byte {
			return marshalPayload(map[string]string{"phenotype_sql": s.PhenotypeSQL})
		},
		GetDecision: func(s *wfstate.WorkflowState) wfstate.Decision { return s.PhenotypeApproved },
		SetDecision: func(s *wfstate.WorkflowState, d wfstate.Decision) { s.PhenotypeApproved = d },
		ApplyModified: func(s *wfstate.WorkflowState, modifiedPayload []byte) error {
			var patch struct {
				PhenotypeSQL string `json:"phenotype_sql"`
			}
			if err := json.Unmarshal(modifiedPayload, &patch); err != nil {
				return err
			}
			s.PhenotypeSQL = patch.PhenotypeSQL
			return nil
		},
	}
}

// NewExtractionApprovalGate wraps PhaseExtractionApproval. §4.8 declares
// no modifiable fields for ApprovalTypeExtraction, so ApplyModified is
// nil — a `modify` decision here is rejected as Invalid by pkg/approval
// before it ever reaches storage.
func NewExtractionApprovalGate(store *persistence.Store) *GateHandler {
	return &GateHandler{
		Store:        store,
		Node:         wfstate.PhaseExtractionApproval,
		ApprovalType: wfstate.ApprovalTypeExtraction,
		DefaultSLA:   gateSLA(),
		BuildPayload: func(s *wfstate.WorkflowState) []byte {
			return marshalPayload(map[string]any{
				"requirements": s.Requirements,
				"feasibility":  s.Feasibility,
			})
		},
		GetDecision: func(s *wfstate.WorkflowState) wfstate.Decision { return s.ExtractionApproved },
		SetDecision: func(s *wfstate.WorkflowState, d wfstate.Decision) { s.ExtractionApproved = d },
	}
}

// NewQAReviewGate wraps PhaseQAReview. No modifiable fields.
func NewQAReviewGate(store *persistence.Store) *GateHandler {
	return &GateHandler{
		Store:        store,
		Node:         wfstate.PhaseQAReview,
		ApprovalType: wfstate.ApprovalTypeQA,
		DefaultSLA:   gateSLA(),
		BuildPayload: func(s *wfstate.WorkflowState) []byte {
			return marshalPayload(s.QAReport)
		},
		GetDecision: func(s *wfstate.WorkflowState) wfstate.Decision { return s.QAApproved },
		SetDecision: func(s *wfstate.WorkflowState, d wfstate.Decision) { s.QAApproved = d },
	}
}
