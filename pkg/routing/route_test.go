package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"researchflow/pkg/config"
	"researchflow/pkg/routing"
	"researchflow/pkg/wfstate"
)

func testCaps() config.IterationCaps {
	return config.IterationCaps{Requirements: 5, Phenotype: 5, QAReextract: 3}
}

func stateAt(phase wfstate.Phase) *wfstate.WorkflowState {
	s := wfstate.NewWorkflowState("req-1", wfstate.Researcher{Name: "Dr. Lin"}, "initial ask")
	s.CurrentPhase = phase
	return s
}

func TestRoute_NewRequestAdvancesToRequirementsGathering(t *testing.T) {
	d := routing.Route(stateAt(wfstate.PhaseNewRequest), testCaps())
	assert.Equal(t, routing.KindNode, d.Kind)
	assert.Equal(t, wfstate.PhaseRequirementsGathering, d.Phase)
}

func TestRoute_RequirementsGatheringStaysUntilComplete(t *testing.T) {
	s := stateAt(wfstate.PhaseRequirementsGathering)
	s.RequirementsComplete = false
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseRequirementsGathering, d.Phase)
}

func TestRoute_RequirementsGatheringAdvancesToReviewWhenComplete(t *testing.T) {
	s := stateAt(wfstate.PhaseRequirementsGathering)
	s.RequirementsComplete = true
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseRequirementsReview, d.Phase)
}

func TestRoute_RequirementsReviewParksWhenUndecided(t *testing.T) {
	d := routing.Route(stateAt(wfstate.PhaseRequirementsReview), testCaps())
	assert.Equal(t, routing.KindPark, d.Kind)
}

func TestRoute_RequirementsReviewApprovedAdvances(t *testing.T) {
	s := stateAt(wfstate.PhaseRequirementsReview)
	s.RequirementsApproved = wfstate.Decision{Status: wfstate.DecisionApproved}
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindNode, d.Kind)
	assert.Equal(t, wfstate.PhaseFeasibilityValidation, d.Phase)
}

func TestRoute_RequirementsReviewRejectedLoopsBackBelowCap(t *testing.T) {
	s := stateAt(wfstate.PhaseRequirementsReview)
	s.RequirementsApproved = wfstate.Decision{Status: wfstate.DecisionRejected, Reason: "missing exclusion criteria"}
	s.IterationCounters[wfstate.LoopSiteRequirements] = 2
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindNode, d.Kind)
	assert.Equal(t, wfstate.PhaseRequirementsGathering, d.Phase)
	assert.Equal(t, wfstate.LoopSiteRequirements, d.LoopSite)
}

func TestRoute_RequirementsReviewRejectedEscalatesAtCap(t *testing.T) {
	s := stateAt(wfstate.PhaseRequirementsReview)
	s.RequirementsApproved = wfstate.Decision{Status: wfstate.DecisionRejected}
	s.IterationCounters[wfstate.LoopSiteRequirements] = 5
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseHumanReview, d.Phase)
}

func TestRoute_FeasibilityValidationNotFeasibleTerminates(t *testing.T) {
	s := stateAt(wfstate.PhaseFeasibilityValidation)
	s.Feasibility = &wfstate.Feasibility{Feasible: false}
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseNotFeasible, d.Phase)
}

func TestRoute_FeasibilityValidationFeasibleAdvances(t *testing.T) {
	s := stateAt(wfstate.PhaseFeasibilityValidation)
	s.Feasibility = &wfstate.Feasibility{Feasible: true}
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhasePhenotypeReview, d.Phase)
}

func TestRoute_PhenotypeReviewRejectedLoopsToFeasibility(t *testing.T) {
	s := stateAt(wfstate.PhasePhenotypeReview)
	s.PhenotypeApproved = wfstate.Decision{Status: wfstate.DecisionRejected}
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseFeasibilityValidation, d.Phase)
	assert.Equal(t, wfstate.LoopSitePhenotype, d.LoopSite)
}

func TestRoute_ScheduleKickoffAdvancesToExtractionApproval(t *testing.T) {
	d := routing.Route(stateAt(wfstate.PhaseScheduleKickoff), testCaps())
	assert.Equal(t, wfstate.PhaseExtractionApproval, d.Phase)
}

func TestRoute_ExtractionApprovalRejectedEscalatesDirectly(t *testing.T) {
	s := stateAt(wfstate.PhaseExtractionApproval)
	s.ExtractionApproved = wfstate.Decision{Status: wfstate.DecisionRejected, Reason: "scope too broad"}
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseHumanReview, d.Phase)
	assert.Empty(t, d.LoopSite, "extraction approval has no loop predecessor")
}

func TestRoute_ExtractionApprovalApprovedAdvances(t *testing.T) {
	s := stateAt(wfstate.PhaseExtractionApproval)
	s.ExtractionApproved = wfstate.Decision{Status: wfstate.DecisionApproved}
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseDataExtraction, d.Phase)
}

func TestRoute_QAValidationFailedTerminates(t *testing.T) {
	s := stateAt(wfstate.PhaseQAValidation)
	s.QAReport = &wfstate.QAReport{OverallStatus: wfstate.QAStatusFailed}
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseQAFailed, d.Phase)
}

func TestRoute_QAValidationPassedAdvancesToReview(t *testing.T) {
	s := stateAt(wfstate.PhaseQAValidation)
	s.QAReport = &wfstate.QAReport{OverallStatus: wfstate.QAStatusPassed}
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseQAReview, d.Phase)
}

func TestRoute_QAReviewRejectedLoopsToDataExtractionBelowCap(t *testing.T) {
	s := stateAt(wfstate.PhaseQAReview)
	s.QAApproved = wfstate.Decision{Status: wfstate.DecisionRejected}
	s.IterationCounters[wfstate.LoopSiteQAReextract] = 1
	d := routing.Route(s, testCaps())
	assert.Equal(t, wfstate.PhaseDataExtraction, d.Phase)
	assert.Equal(t, wfstate.LoopSiteQAReextract, d.LoopSite)
}

func TestRoute_QAReviewRejectedEscalatesAtCap(t *testing.T) {
	s := stateAt(wfstate.PhaseQAReview)
	s.QAApproved = wfstate.Decision{Status: wfstate.DecisionRejected}
	s.IterationCounters[wfstate.LoopSiteQAReextract] = 3
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseHumanReview, d.Phase)
}

func TestRoute_DataDeliveryCompletes(t *testing.T) {
	d := routing.Route(stateAt(wfstate.PhaseDataDelivery), testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseComplete, d.Phase)
}

func TestRoute_TerminalPhasesStayTerminal(t *testing.T) {
	for _, phase := range []wfstate.Phase{wfstate.PhaseComplete, wfstate.PhaseNotFeasible, wfstate.PhaseQAFailed, wfstate.PhaseHumanReview} {
		d := routing.Route(stateAt(phase), testCaps())
		assert.Equal(t, routing.KindTerminal, d.Kind)
		assert.Equal(t, phase, d.Phase)
	}
}

func TestRoute_CancelRequestedOverridesEverything(t *testing.T) {
	s := stateAt(wfstate.PhaseDataExtraction)
	s.CancelRequested = true
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseHumanReview, d.Phase)
}

func TestRoute_UnknownPhaseEscalates(t *testing.T) {
	s := stateAt(wfstate.Phase("some_drifted_phase"))
	d := routing.Route(s, testCaps())
	assert.Equal(t, routing.KindTerminal, d.Kind)
	assert.Equal(t, wfstate.PhaseHumanReview, d.Phase)
}
