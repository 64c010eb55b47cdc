package wfstate

import "time"

// PHILevel classifies the degree of protected health information present
// in a requirements specification or an extraction artifact.
type PHILevel string

const (
	PHIIdentified      PHILevel = "identified"
	PHILimitedDataset  PHILevel = "limited_dataset"
	PHIDeIdentified    PHILevel = "de_identified"
)

// Researcher identifies the submitter of a request. Set at creation by
// PhaseNewRequest and read-only thereafter.
type Researcher struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	IRBNumber  string `json:"irb_number"`
}

// TimeWindow bounds the cohort's observation period.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Requirements is the structured cohort definition produced by
// requirements_agent.gather and reviewed at PhaseRequirementsReview.
// Mutable until requirements approval (§3.1).
type Requirements struct {
	StudyTitle    string     `json:"study_title"`
	InclusionList []string   `json:"inclusion_list"`
	ExclusionList []string   `json:"exclusion_list"`
	TimeWindow    TimeWindow `json:"time_window"`
	DataElements  []string   `json:"data_elements"`
	PHILevel      PHILevel   `json:"phi_level"`
}

// ConfidenceInterval bounds an estimate produced by phenotype_agent.
type ConfidenceInterval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ElementAvailability reports how complete a single requested data
// element is in the underlying clinical store.
type ElementAvailability struct {
	PresentFraction      float64 `json:"present_fraction"`
	CompletenessFraction float64 `json:"completeness_fraction"`
}

// Feasibility is produced by phenotype_agent.validate_feasibility.
// Feasibility.Feasible = false forces CurrentPhase = PhaseNotFeasible
// (invariant 5, §3.1).
type Feasibility struct {
	Feasible            bool                           `json:"feasible"`
	EstimatedCohortSize int                             `json:"estimated_cohort_size"`
	ConfidenceInterval  ConfidenceInterval              `json:"confidence_interval"`
	DataAvailability    map[string]ElementAvailability `json:"data_availability"`
}

// KickoffMeeting is produced by calendar_agent.schedule_kickoff.
type KickoffMeeting struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Attendees   []string  `json:"attendees"`
	Agenda      string    `json:"agenda"`
}

// Extraction is produced by extraction_agent.extract. AttemptNo is part
// of the invocation key (request_id, node, attempt_no) and lets a
// re-invoked handler recognize it is replaying rather than extracting a
// second time.
type Extraction struct {
	RowCount        int       `json:"row_count"`
	PHILevelApplied PHILevel  `json:"phi_level_applied"`
	ArtifactURI     string    `json:"artifact_uri"`
	ExtractedAt     time.Time `json:"extracted_at"`
	AttemptNo       int       `json:"attempt_no"`
}

// QAStatus is the closed outcome of a QA run. A value of QAStatusFailed
// forces CurrentPhase = PhaseQAFailed (invariant 4, §3.1).
type QAStatus string

const (
	QAStatusPassed QAStatus = "passed"
	QAStatusFailed QAStatus = "failed"
)

// QACheck is a single named assertion run by qa_agent.validate.
type QACheck struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

// QAReport is produced by qa_agent.validate.
type QAReport struct {
	OverallStatus QAStatus  `json:"overall_status"`
	Checks        []QACheck `json:"checks"`
}

// Delivery is produced by delivery_agent.deliver, the final automated
// node on the happy path.
type Delivery struct {
	ArtifactURI      string    `json:"artifact_uri"`
	Checksum         string    `json:"checksum"`
	DeliveredAt      time.Time `json:"delivered_at"`
	NotificationSent bool      `json:"notification_sent"`
}

// WorkflowError records a terminal agent failure for display and routing
// (§4.4(a), §7). Kind is one of the error-kind constants in
// pkg/agentadapter.
type WorkflowError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	FailedNode string `json:"failed_node"`
	AttemptNo  int    `json:"attempt_no"`
}

// Loop site keys into IterationCounters, named after the glossary's "loop
// site" entries.
const (
	LoopSiteRequirements = "requirements"
	LoopSitePhenotype    = "phenotype"
	LoopSiteQAReextract  = "qa_reextract"
)

// WorkflowState is the single mutable document per request (C1, §3.1):
// every field any node handler reads or writes. Pointer-typed fields
// distinguish "not yet produced" from "explicitly empty": a nil
// Requirements means requirements_agent hasn't run yet, not that the
// requirements are blank.
//
//nolint:govet // field grouping mirrors §3.1's presentation order, not alignment
type WorkflowState struct {
	RequestID   string `json:"request_id"`
	Version     int64  `json:"version"`
	CurrentPhase Phase `json:"current_state"`

	Researcher     Researcher `json:"researcher"`
	InitialRequest string     `json:"initial_request"`

	Requirements         *Requirements `json:"requirements,omitempty"`
	CompletenessScore    float64       `json:"completeness_score"`
	RequirementsComplete bool          `json:"requirements_complete"`
	RequirementsApproved Decision      `json:"requirements_approved"`

	PhenotypeSQL      string       `json:"phenotype_sql,omitempty"`
	Feasibility       *Feasibility `json:"feasibility,omitempty"`
	PhenotypeApproved Decision     `json:"phenotype_approved"`

	KickoffMeeting *KickoffMeeting `json:"kickoff_meeting,omitempty"`

	ExtractionApproved Decision    `json:"extraction_approved"`
	Extraction         *Extraction `json:"extraction,omitempty"`

	QAReport  *QAReport `json:"qa_report,omitempty"`
	QAApproved Decision `json:"qa_approved"`

	Delivery *Delivery `json:"delivery,omitempty"`

	Error            *WorkflowError `json:"error,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty"`

	IterationCounters map[string]int `json:"iteration_counters"`

	// ConsumedApprovals records, per gate, the approval_id of the last
	// decision a GateHandler has transcribed into this document. A gate
	// re-entered after a loop-back reset (ResetLoopDecision) finds its
	// tri-state field unset again but the prior approval's terminal
	// status still latest in storage; comparing against this map is how
	// the gate tells "that decision is already applied, create a fresh
	// approval" apart from "this decision just arrived, apply it".
	ConsumedApprovals map[ApprovalType]string `json:"consumed_approvals,omitempty"`

	// CancelRequested is the administrative cancellation sentinel from
	// §5: routing interprets it as an immediate route to PhaseHumanReview.
	CancelRequested bool `json:"cancel_requested"`

	AuditRef string `json:"audit_ref"`
}

// NewWorkflowState constructs the initial document for a freshly
// submitted request, in PhaseNewRequest. Each loop site's counter starts
// at 1, counting the node's first pass through the site as attempt 1;
// ResetLoopDecision then bumps it to 2 on the first rejection-and-retry,
// matching the documented counter convention (a single reject/retry
// cycle lands on 2, not 1).
func NewWorkflowState(requestID string, researcher Researcher, initialRequest string) *WorkflowState {
	return &WorkflowState{
		RequestID:      requestID,
		CurrentPhase:   PhaseNewRequest,
		Researcher:     researcher,
		InitialRequest: initialRequest,
		IterationCounters: map[string]int{
			LoopSiteRequirements: 1,
			LoopSitePhenotype:    1,
			LoopSiteQAReextract:  1,
		},
		ConsumedApprovals: make(map[ApprovalType]string),
	}
}

// ResetLoopDecision clears the tri-state decision field a loop site
// gates, and bumps that site's iteration counter. The engine calls this
// when routing.Decision.LoopSite is non-empty (a rejection routed back
// to the loop predecessor, §4.6): invariant 3 (§3.1) permits resetting a
// decided gate back to DecisionUnset only through this explicit
// loop-back transition, never any other way, so the re-run node gets a
// fresh pending approval on its next pass through the gate.
func (s *WorkflowState) ResetLoopDecision(site string) {
	switch site {
	case LoopSiteRequirements:
		s.RequirementsApproved = Decision{}
	case LoopSitePhenotype:
		s.PhenotypeApproved = Decision{}
	case LoopSiteQAReextract:
		s.QAApproved = Decision{}
	}
	s.IterationCounters[site]++
}

// Clone returns a deep-enough copy of s for handlers to mutate safely
// before a conditional-write save: top-level pointer fields are copied by
// value so the original document seen by the routing function is never
// mutated in place.
func (s *WorkflowState) Clone() *WorkflowState {
	clone := *s
	clone.IterationCounters = make(map[string]int, len(s.IterationCounters))
	for k, v := range s.IterationCounters {
		clone.IterationCounters[k] = v
	}
	clone.ConsumedApprovals = make(map[ApprovalType]string, len(s.ConsumedApprovals))
	for k, v := range s.ConsumedApprovals {
		clone.ConsumedApprovals[k] = v
	}
	if s.Requirements != nil {
		r := *s.Requirements
		clone.Requirements = &r
	}
	if s.Feasibility != nil {
		f := *s.Feasibility
		clone.Feasibility = &f
	}
	if s.KickoffMeeting != nil {
		k := *s.KickoffMeeting
		clone.KickoffMeeting = &k
	}
	if s.Extraction != nil {
		e := *s.Extraction
		clone.Extraction = &e
	}
	if s.QAReport != nil {
		q := *s.QAReport
		clone.QAReport = &q
	}
	if s.Delivery != nil {
		d := *s.Delivery
		clone.Delivery = &d
	}
	if s.Error != nil {
		e := *s.Error
		clone.Error = &e
	}
	return &clone
}
