package wfstate

import "fmt"

// FieldOwners declares, per §4.1, the single node first permitted to write
// each field of WorkflowState. Downstream nodes may read (and, for loop
// nodes, reset) a field, but only the owner may set it the first time.
// The table is declarative: neither the handlers nor the tests read it.
//
//nolint:gochecknoglobals // read-only ownership table
var FieldOwners = map[string]Phase{
	"researcher":            PhaseNewRequest,
	"initial_request":       PhaseNewRequest,
	"requirements":          PhaseRequirementsGathering,
	"completeness_score":    PhaseRequirementsGathering,
	"requirements_complete": PhaseRequirementsGathering,
	"requirements_approved": PhaseRequirementsReview,
	"phenotype_sql":         PhaseFeasibilityValidation,
	"feasibility":           PhaseFeasibilityValidation,
	"phenotype_approved":    PhasePhenotypeReview,
	"kickoff_meeting":       PhaseScheduleKickoff,
	"extraction_approved":   PhaseExtractionApproval,
	"extraction":            PhaseDataExtraction,
	"qa_report":             PhaseQAValidation,
	"qa_approved":           PhaseQAReview,
	"delivery":              PhaseDataDelivery,
}

// topologicalOrder gives each phase's position in the happy-path partial
// order, used to evaluate invariant 2 of §3.1 ("a field that is a
// precondition of node N is non-null whenever current_state >= N").
//
//nolint:gochecknoglobals // read-only ordering table
var topologicalOrder = map[Phase]int{
	PhaseNewRequest:            0,
	PhaseRequirementsGathering: 1,
	PhaseRequirementsReview:    2,
	PhaseFeasibilityValidation: 3,
	PhasePhenotypeReview:       4,
	PhaseScheduleKickoff:       5,
	PhaseExtractionApproval:    6,
	PhaseDataExtraction:        7,
	PhaseQAValidation:          8,
	PhaseQAReview:              9,
	PhaseDataDelivery:          10,
	PhaseComplete:              11,
	// Escalation terminals can be reached from any point in the partial
	// order, so they rank above everything: invariant 2 only constrains
	// phases on the linear happy-path chain.
	PhaseNotFeasible: 1 << 30,
	PhaseQAFailed:    1 << 30,
	PhaseHumanReview: 1 << 30,
}

// reached reports whether CurrentPhase is strictly past the topological
// position of owner, i.e. owner's node has already run (or this document
// is past the point where it would have).
func reached(current, owner Phase) bool {
	co, ok := topologicalOrder[current]
	if !ok {
		return false
	}
	oo, ok := topologicalOrder[owner]
	if !ok {
		return false
	}
	return co > oo
}

// CheckInvariants validates the subset of §3.1's and §8's invariants that
// are checkable from the document alone (without consulting persistence
// or routing): phase validity, and non-null preconditions for phases
// already passed. Escalation terminals (not_feasible, qa_failed,
// human_review) are exempt from the precondition check since they can be
// reached early by design. Called from pkg/engine's persist before every
// write, so a violation here blocks the save rather than landing in
// storage.
func CheckInvariants(s *WorkflowState) error {
	if !IsValidPhase(s.CurrentPhase) {
		return fmt.Errorf("wfstate: invalid current_phase %q", s.CurrentPhase)
	}

	if IsTerminal(s.CurrentPhase) {
		return nil
	}

	if reached(s.CurrentPhase, PhaseRequirementsGathering) && s.Requirements == nil {
		return fmt.Errorf("wfstate: requirements unset but current_phase %q is past requirements_gathering", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseRequirementsReview) && !s.RequirementsApproved.IsSet() {
		return fmt.Errorf("wfstate: requirements_approved unset but current_phase %q is past requirements_review", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseFeasibilityValidation) && s.Feasibility == nil {
		return fmt.Errorf("wfstate: feasibility unset but current_phase %q is past feasibility_validation", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhasePhenotypeReview) && !s.PhenotypeApproved.IsSet() {
		return fmt.Errorf("wfstate: phenotype_approved unset but current_phase %q is past phenotype_review", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseScheduleKickoff) && s.KickoffMeeting == nil {
		return fmt.Errorf("wfstate: kickoff_meeting unset but current_phase %q is past schedule_kickoff", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseExtractionApproval) && !s.ExtractionApproved.IsSet() {
		return fmt.Errorf("wfstate: extraction_approved unset but current_phase %q is past extraction_approval", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseDataExtraction) && s.Extraction == nil {
		return fmt.Errorf("wfstate: extraction unset but current_phase %q is past data_extraction", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseQAValidation) && s.QAReport == nil {
		return fmt.Errorf("wfstate: qa_report unset but current_phase %q is past qa_validation", s.CurrentPhase)
	}
	if reached(s.CurrentPhase, PhaseQAReview) && !s.QAApproved.IsSet() {
		return fmt.Errorf("wfstate: qa_approved unset but current_phase %q is past qa_review", s.CurrentPhase)
	}

	// Invariant 4 and 5 (§3.1): terminal-forcing field values must agree
	// with current_phase.
	if s.QAReport != nil && s.QAReport.OverallStatus == QAStatusFailed && s.CurrentPhase != PhaseQAFailed && reached(s.CurrentPhase, PhaseQAValidation) {
		return fmt.Errorf("wfstate: qa_report.overall_status=failed requires current_phase=qa_failed, got %q", s.CurrentPhase)
	}
	if s.Feasibility != nil && !s.Feasibility.Feasible && s.CurrentPhase != PhaseNotFeasible && reached(s.CurrentPhase, PhaseFeasibilityValidation) {
		return fmt.Errorf("wfstate: feasibility.feasible=false requires current_phase=not_feasible, got %q", s.CurrentPhase)
	}
	if s.ExtractionApproved.Rejected() && s.CurrentPhase != PhaseHumanReview && reached(s.CurrentPhase, PhaseExtractionApproval) {
		return fmt.Errorf("wfstate: extraction_approved=rejected requires current_phase=human_review, got %q", s.CurrentPhase)
	}

	return nil
}
