package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/wfstate"
)

// CreateApproval inserts a new pending approval. Payload is the
// gate-specific snapshot a reviewer needs to decide (e.g. the gathered
// Requirements); ModifiedPayload starts nil.
func (s *Store) CreateApproval(ctx context.Context, a *wfstate.Approval) error {
	payload, modified := nullableBytes(a.Payload), nullableBytes(a.ModifiedPayload)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (
			approval_id, request_id, type, status, payload, modified_payload,
			reviewer, notes, submitted_at, decided_at, sla_deadline
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ApprovalID, a.RequestID, string(a.ApprovalType), string(a.Status), payload, modified,
		a.Reviewer, a.Notes, a.SubmittedAt, a.DecidedAt, a.SLADeadline)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return agentadapter.Wrap(agentadapter.KindAlreadyExists, a.RequestID, err, "approval already exists")
		}
		return agentadapter.Wrap(agentadapter.KindInternal, a.RequestID, err, "insert approval")
	}
	return nil
}

// GetApproval loads a single approval by ID. Returns KindNotFound if
// absent.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*wfstate.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, request_id, type, status, payload, modified_payload,
		       reviewer, notes, submitted_at, decided_at, sla_deadline
		FROM approvals WHERE approval_id = ?
	`, approvalID)
	return scanApproval(row, approvalID)
}

// ListPendingApprovals returns every approval with status = pending,
// ordered oldest-first, for C7's ListPending (§4.8).
func (s *Store) ListPendingApprovals(ctx context.Context) ([]*wfstate.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id, request_id, type, status, payload, modified_payload,
		       reviewer, notes, submitted_at, decided_at, sla_deadline
		FROM approvals WHERE status = 'pending'
		ORDER BY submitted_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*wfstate.Approval
	for rows.Next() {
		a, err := scanApprovalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListExpiredApprovals returns pending approvals whose SLA deadline has
// passed, for SweepTimeouts (§4.8).
func (s *Store) ListExpiredApprovals(ctx context.Context, asOf time.Time) ([]*wfstate.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id, request_id, type, status, payload, modified_payload,
		       reviewer, notes, submitted_at, decided_at, sla_deadline
		FROM approvals
		WHERE status = 'pending' AND sla_deadline IS NOT NULL AND sla_deadline < ?
		ORDER BY sla_deadline ASC
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	defer rows.Close()

	var out []*wfstate.Approval
	for rows.Next() {
		a, err := scanApprovalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestApprovalByType returns the most recently submitted approval of
// approvalType for requestID (pending or decided), or KindNotFound if the
// gate has never created one. A new approval is created per loop
// iteration rather than reusing the prior record (§3.2), so "latest"
// is always the one the current pass of the gate cares about.
func (s *Store) LatestApprovalByType(ctx context.Context, requestID string, approvalType wfstate.ApprovalType) (*wfstate.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, request_id, type, status, payload, modified_payload,
		       reviewer, notes, submitted_at, decided_at, sla_deadline
		FROM approvals WHERE request_id = ? AND type = ?
		ORDER BY submitted_at DESC LIMIT 1
	`, requestID, string(approvalType))
	return scanApproval(row, requestID)
}

// ListApprovalsByRequest returns every approval ever created for
// requestID, oldest first, regardless of status. Useful for an
// approval-history view and for confirming a loop-back created a fresh
// approval rather than re-deciding a stale one.
func (s *Store) ListApprovalsByRequest(ctx context.Context, requestID string) ([]*wfstate.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id, request_id, type, status, payload, modified_payload,
		       reviewer, notes, submitted_at, decided_at, sla_deadline
		FROM approvals WHERE request_id = ?
		ORDER BY submitted_at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list approvals for %s: %w", requestID, err)
	}
	defer rows.Close()

	var out []*wfstate.Approval
	for rows.Next() {
		a, err := scanApprovalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DecideApproval moves an approval from pending to a terminal status,
// atomically: the WHERE clause only matches a row still pending, so a
// racing second decide (§8 invariant 2: "status is pending until exactly
// one decide call") affects zero rows and reports KindAlreadyDecided.
func (s *Store) DecideApproval(ctx context.Context, approvalID string, status wfstate.ApprovalStatus, reviewer, notes string, modifiedPayload []byte, decidedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, reviewer = ?, notes = ?, modified_payload = ?, decided_at = ?
		WHERE approval_id = ? AND status = 'pending'
	`, string(status), reviewer, notes, nullableBytes(modifiedPayload), decidedAt, approvalID)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, approvalID, err, "decide approval")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, approvalID, err, "check decide result")
	}
	if rows == 0 {
		return agentadapter.New(agentadapter.KindAlreadyDecided, approvalID, "approval is no longer pending")
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanApproval(row *sql.Row, approvalID string) (*wfstate.Approval, error) {
	var a wfstate.Approval
	var approvalType, status string
	var payload, modified sql.NullString
	var reviewer, notes sql.NullString
	var decidedAt, slaDeadline sql.NullTime

	err := row.Scan(&a.ApprovalID, &a.RequestID, &approvalType, &status, &payload, &modified,
		&reviewer, &notes, &a.SubmittedAt, &decidedAt, &slaDeadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agentadapter.New(agentadapter.KindNotFound, approvalID, "no such approval")
	}
	if err != nil {
		return nil, agentadapter.Wrap(agentadapter.KindInternal, approvalID, err, "load approval")
	}
	applyApprovalScan(&a, approvalType, status, payload, modified, reviewer, notes, decidedAt, slaDeadline)
	return &a, nil
}

func scanApprovalRows(rows *sql.Rows) (*wfstate.Approval, error) {
	var a wfstate.Approval
	var approvalType, status string
	var payload, modified sql.NullString
	var reviewer, notes sql.NullString
	var decidedAt, slaDeadline sql.NullTime

	if err := rows.Scan(&a.ApprovalID, &a.RequestID, &approvalType, &status, &payload, &modified,
		&reviewer, &notes, &a.SubmittedAt, &decidedAt, &slaDeadline); err != nil {
		return nil, fmt.Errorf("scan approval row: %w", err)
	}
	applyApprovalScan(&a, approvalType, status, payload, modified, reviewer, notes, decidedAt, slaDeadline)
	return &a, nil
}

func applyApprovalScan(a *wfstate.Approval, approvalType, status string, payload, modified, reviewer, notes sql.NullString, decidedAt, slaDeadline sql.NullTime) {
	a.ApprovalType = wfstate.ApprovalType(approvalType)
	a.Status = wfstate.ApprovalStatus(status)
	if payload.Valid {
		a.Payload = []byte(payload.String)
	}
	if modified.Valid {
		a.ModifiedPayload = []byte(modified.String)
	}
	a.Reviewer = reviewer.String
	a.Notes = notes.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	if slaDeadline.Valid {
		t := slaDeadline.Time
		a.SLADeadline = &t
	}
}
