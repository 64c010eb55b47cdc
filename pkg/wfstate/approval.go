package wfstate

import "time"

// ApprovalType identifies which gate an Approval belongs to (§3.2).
type ApprovalType string

const (
	ApprovalTypeRequirements ApprovalType = "requirements"
	ApprovalTypePhenotypeSQL ApprovalType = "phenotype_sql"
	ApprovalTypeExtraction   ApprovalType = "extraction"
	ApprovalTypeQA           ApprovalType = "qa"
	// ApprovalTypeScopeChange is reserved by the approval_type enum but
	// has no gate or loop-back wired to it (see SPEC_FULL.md §13: "three
	// loop sites, not four") — no trigger condition for a scope-change
	// review is specified anywhere. Kept so the enum matches the schema;
	// not emitted by any handler.
	ApprovalTypeScopeChange ApprovalType = "scope_change"
)

// ApprovalStatus is the lifecycle of an Approval record (§3.2). Exactly
// one transition from pending to a terminal status is permitted; there is
// no reopen.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalModified  ApprovalStatus = "modified"
	ApprovalTimedOut  ApprovalStatus = "timed_out"
)

// IsTerminal reports whether the approval can never transition again.
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

// Approval is a gate's pending-or-decided human decision record (§3.2).
// Payload/ModifiedPayload are opaque JSON snapshots of the material under
// review (requirements, SQL text, etc) — the gate that created the
// Approval is the only code that knows how to interpret them.
//
//nolint:govet // field grouping mirrors §3.2's presentation order, not alignment
type Approval struct {
	ApprovalID      string         `json:"approval_id"`
	RequestID       string         `json:"request_id"`
	ApprovalType    ApprovalType   `json:"approval_type"`
	Status          ApprovalStatus `json:"status"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
	Reviewer        string         `json:"reviewer,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Payload         []byte         `json:"payload"`
	ModifiedPayload []byte         `json:"modified_payload,omitempty"`
	SLADeadline     *time.Time     `json:"sla_deadline,omitempty"`
}

// ModifiableFields lists, per approval type, the WorkflowState fields a
// `modify` decision is permitted to overwrite (§4.8): requirements fields
// and the generated SQL text. A modify that touches anything else is
// Invalid.
//
//nolint:gochecknoglobals // read-only table
var ModifiableFields = map[ApprovalType][]string{
	ApprovalTypeRequirements: {"study_title", "inclusion_list", "exclusion_list", "time_window", "data_elements", "phi_level"},
	ApprovalTypePhenotypeSQL: {"phenotype_sql"},
}

// AuditEventKind is the closed set of audit event kinds (§3.3).
type AuditEventKind string

const (
	AuditCreated           AuditEventKind = "created"
	AuditNodeEntered       AuditEventKind = "node_entered"
	AuditNodeExited        AuditEventKind = "node_exited"
	AuditAgentAttempt      AuditEventKind = "agent_attempt"
	AuditAgentSuccess      AuditEventKind = "agent_success"
	AuditAgentFailure      AuditEventKind = "agent_failure"
	AuditApprovalRequested AuditEventKind = "approval_requested"
	AuditApprovalDecided   AuditEventKind = "approval_decided"
	AuditStatePersisted    AuditEventKind = "state_persisted"
	AuditEscalated         AuditEventKind = "escalated"
	AuditCompleted         AuditEventKind = "completed"
	AuditTerminated        AuditEventKind = "terminated"
)

// AuditActorKind distinguishes who produced an audit event.
type AuditActorKind string

const (
	ActorSystem   AuditActorKind = "system"
	ActorAgent    AuditActorKind = "agent"
	ActorReviewer AuditActorKind = "reviewer"
)

// AuditEvent is one entry in the append-only, per-request audit stream
// (§3.3). Audit events are never updated or deleted.
//
//nolint:govet // field grouping mirrors §3.3's presentation order, not alignment
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      AuditEventKind `json:"kind"`
	Node      string         `json:"node"`
	Actor     string         `json:"actor"`
	Severity  string         `json:"severity"`
	Payload   []byte         `json:"payload,omitempty"`
}
