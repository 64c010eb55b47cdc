package nodes

import (
	"encoding/json"
	"fmt"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/wfstate"
)

// decodeOutput re-marshals an Executor's opaque output map into a typed
// struct. Executors return map[string]any per the Executor contract;
// this is the one place that boundary gets typed.
func decodeOutput(output map[string]any, target any) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal agent output: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode agent output: %w", err)
	}
	return nil
}

// NewRequirementsGatheringHandler wraps requirements_agent.gather
// (§6: "may be called repeatedly with accumulated context for
// multi-turn extraction" — BuildInput feeds back whatever Requirements
// has accumulated so far).
func NewRequirementsGatheringHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter:  adapter,
		Node:     wfstate.PhaseRequirementsGathering,
		Task:     "requirements_agent.gather",
		LoopSite: wfstate.LoopSiteRequirements,
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{
				"initial_request": s.InitialRequest,
				"requirements":     s.Requirements,
				"researcher":       s.Researcher,
			}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				Requirements         *wfstate.Requirements `json:"requirements"`
				CompletenessScore    float64               `json:"completeness_score"`
				RequirementsComplete bool                  `json:"requirements_complete"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.Requirements = decoded.Requirements
			s.CompletenessScore = decoded.CompletenessScore
			s.RequirementsComplete = decoded.RequirementsComplete
			// Stay at this node; routing advances to the review gate
			// only once RequirementsComplete is true (§4.5).
			return wfstate.PhaseRequirementsGathering, nil
		},
	}
}

// NewFeasibilityValidationHandler wraps
// phenotype_agent.validate_feasibility.
func NewFeasibilityValidationHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter:  adapter,
		Node:     wfstate.PhaseFeasibilityValidation,
		Task:     "phenotype_agent.validate_feasibility",
		LoopSite: wfstate.LoopSitePhenotype,
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{"requirements": s.Requirements}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				PhenotypeSQL string               `json:"phenotype_sql"`
				Feasibility  *wfstate.Feasibility `json:"feasibility"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.PhenotypeSQL = decoded.PhenotypeSQL
			s.Feasibility = decoded.Feasibility
			return wfstate.PhaseFeasibilityValidation, nil
		},
	}
}

// NewScheduleKickoffHandler wraps calendar_agent.schedule_kickoff.
func NewScheduleKickoffHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter: adapter,
		Node:    wfstate.PhaseScheduleKickoff,
		Task:    "calendar_agent.schedule_kickoff",
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{"researcher": s.Researcher, "requirements": s.Requirements}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				KickoffMeeting *wfstate.KickoffMeeting `json:"kickoff_meeting"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.KickoffMeeting = decoded.KickoffMeeting
			return wfstate.PhaseScheduleKickoff, nil
		},
	}
}

// NewDataExtractionHandler wraps extraction_agent.extract. AttemptNo is
// stamped from the qa_reextract loop counter plus one, so a re-run after
// a qa_reextract loop-back carries a higher number and is distinguishable in the
// extraction record (§4.4: "AttemptNo is part of the invocation key").
func NewDataExtractionHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter:  adapter,
		Node:     wfstate.PhaseDataExtraction,
		Task:     "extraction_agent.extract",
		LoopSite: wfstate.LoopSiteQAReextract,
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{
				"phenotype_sql": s.PhenotypeSQL,
				"requirements":  s.Requirements,
				"attempt_no":    s.IterationCounters[wfstate.LoopSiteQAReextract] + 1,
			}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				Extraction *wfstate.Extraction `json:"extraction"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.Extraction = decoded.Extraction
			return wfstate.PhaseDataExtraction, nil
		},
	}
}

// NewQAValidationHandler wraps qa_agent.validate.
func NewQAValidationHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter: adapter,
		Node:    wfstate.PhaseQAValidation,
		Task:    "qa_agent.validate",
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{"extraction": s.Extraction, "requirements": s.Requirements}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				QAReport *wfstate.QAReport `json:"qa_report"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.QAReport = decoded.QAReport
			return wfstate.PhaseQAValidation, nil
		},
	}
}

// NewDataDeliveryHandler wraps delivery_agent.deliver, the final
// automated node on the happy path.
func NewDataDeliveryHandler(adapter *agentadapter.Adapter) *AgentHandler {
	return &AgentHandler{
		Adapter: adapter,
		Node:    wfstate.PhaseDataDelivery,
		Task:    "delivery_agent.deliver",
		BuildInput: func(s *wfstate.WorkflowState) map[string]any {
			return map[string]any{"extraction": s.Extraction, "researcher": s.Researcher}
		},
		ApplyOutput: func(s *wfstate.WorkflowState, output map[string]any) (wfstate.Phase, error) {
			var decoded struct {
				Delivery *wfstate.Delivery `json:"delivery"`
			}
			if err := decodeOutput(output, &decoded); err != nil {
				return "", err
			}
			s.Delivery = decoded.Delivery
			return wfstate.PhaseDataDelivery, nil
		},
	}
}
