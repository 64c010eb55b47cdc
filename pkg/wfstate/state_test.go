package wfstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowStateStartsAtNewRequest(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{Name: "Dr. Lee"}, "diabetic cohort over 50")
	assert.Equal(t, PhaseNewRequest, s.CurrentPhase)
	assert.Equal(t, 1, s.IterationCounters[LoopSiteRequirements])
	require.NoError(t, CheckInvariants(s))
}

func TestCheckInvariantsRejectsUnknownPhase(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{}, "x")
	s.CurrentPhase = Phase("not_a_real_phase")
	assert.Error(t, CheckInvariants(s))
}

func TestCheckInvariantsRequiresRequirementsOncePastGathering(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{}, "x")
	s.CurrentPhase = PhaseRequirementsReview
	assert.Error(t, CheckInvariants(s), "requirements must be set once current_phase is past requirements_gathering")

	s.Requirements = &Requirements{StudyTitle: "t"}
	assert.NoError(t, CheckInvariants(s))
}

func TestCheckInvariantsEnforcesNotFeasibleTerminal(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{}, "x")
	s.CurrentPhase = PhasePhenotypeReview
	s.Requirements = &Requirements{}
	s.RequirementsApproved = Decision{Status: DecisionApproved}
	s.Feasibility = &Feasibility{Feasible: false}

	assert.Error(t, CheckInvariants(s))

	s.CurrentPhase = PhaseNotFeasible
	assert.NoError(t, CheckInvariants(s))
}

func TestCheckInvariantsEnforcesQAFailedTerminal(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{}, "x")
	s.CurrentPhase = PhaseQAReview
	s.Requirements = &Requirements{}
	s.RequirementsApproved = Decision{Status: DecisionApproved}
	s.Feasibility = &Feasibility{Feasible: true}
	s.PhenotypeApproved = Decision{Status: DecisionApproved}
	s.KickoffMeeting = &KickoffMeeting{}
	s.ExtractionApproved = Decision{Status: DecisionApproved}
	s.Extraction = &Extraction{}
	s.QAReport = &QAReport{OverallStatus: QAStatusFailed}

	assert.Error(t, CheckInvariants(s))

	s.CurrentPhase = PhaseQAFailed
	assert.NoError(t, CheckInvariants(s))
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewWorkflowState("r1", Researcher{}, "x")
	s.Requirements = &Requirements{StudyTitle: "original"}

	clone := s.Clone()
	clone.Requirements.StudyTitle = "mutated"
	clone.IterationCounters[LoopSiteRequirements] = 9

	assert.Equal(t, "original", s.Requirements.StudyTitle)
	assert.Equal(t, 1, s.IterationCounters[LoopSiteRequirements])
}

func TestDecisionHelpers(t *testing.T) {
	var d Decision
	assert.False(t, d.IsSet())

	d = Decision{Status: DecisionApproved}
	assert.True(t, d.IsSet())
	assert.True(t, d.Approved())
	assert.False(t, d.Rejected())
}

func TestHappyPathHasTwelveStates(t *testing.T) {
	assert.Len(t, HappyPath, 12)
	assert.Equal(t, PhaseComplete, HappyPath[len(HappyPath)-1])
}

func TestIsGate(t *testing.T) {
	assert.True(t, IsGate(PhaseRequirementsReview))
	assert.True(t, IsGate(PhaseQAReview))
	assert.False(t, IsGate(PhaseDataExtraction))
}

func TestIDsAreUniqueAndNonEmpty(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
