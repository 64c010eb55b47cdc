package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/wfstate"
)

// Store is the synchronous persistence API C6/C7 are built on: one
// request at a time, conditional writes, no background worker — unlike
// the fire-and-forget channel pattern used elsewhere in this codebase,
// every call here returns its classified error inline, because the
// engine loop needs to react to ConcurrencyConflict immediately (§5).
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB. Most callers should use
// persistence.Store(), which binds to the process-wide singleton.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts the initial document for a new request at version 0.
// Returns KindAlreadyExists if request_id is already present.
func (s *Store) Create(ctx context.Context, state *wfstate.WorkflowState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "marshal workflow state")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_state (request_id, version, document, updated_at)
		VALUES (?, 0, ?, ?)
	`, state.RequestID, string(doc), time.Now().UTC())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return agentadapter.Wrap(agentadapter.KindAlreadyExists, state.RequestID, err, "request already exists")
		}
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "insert workflow state")
	}
	return nil
}

// Load reads the current document and version for requestID. Returns
// KindNotFound if no such request exists.
func (s *Store) Load(ctx context.Context, requestID string) (*wfstate.WorkflowState, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT document, version FROM workflow_state WHERE request_id = ?
	`, requestID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agentadapter.New(agentadapter.KindNotFound, requestID, "no such workflow state")
	}
	if err != nil {
		return nil, agentadapter.Wrap(agentadapter.KindInternal, requestID, err, "load workflow state")
	}

	var state wfstate.WorkflowState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, agentadapter.Wrap(agentadapter.KindInternal, requestID, err, "unmarshal workflow state")
	}
	state.Version = version
	return &state, nil
}

// dbExecutor is satisfied by both *sql.DB and *sql.Tx, letting the
// conditional-write and audit-append statements run either standalone or
// inside SaveWithAudit's transaction without duplicating the SQL between
// the two call paths.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save writes state conditionally on expectedVersion matching the
// stored version, incrementing it on success (§5: "linearizable via the
// expected_version conditional write"). Returns KindConcurrencyConflict
// if the stored version has moved — the engine loop retries internally
// and never surfaces this to a caller (§7).
func (s *Store) Save(ctx context.Context, state *wfstate.WorkflowState, expectedVersion int64) error {
	return s.saveWith(ctx, s.db, state, expectedVersion)
}

func (s *Store) saveWith(ctx context.Context, exec dbExecutor, state *wfstate.WorkflowState, expectedVersion int64) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "marshal workflow state")
	}

	result, err := exec.ExecContext(ctx, `
		UPDATE workflow_state
		SET document = ?, version = version + 1, updated_at = ?
		WHERE request_id = ? AND version = ?
	`, string(doc), time.Now().UTC(), state.RequestID, expectedVersion)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "save workflow state")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "check save result")
	}
	if rows == 0 {
		return agentadapter.New(agentadapter.KindConcurrencyConflict, state.RequestID,
			fmt.Sprintf("expected version %d no longer current", expectedVersion))
	}
	return nil
}

// SaveWithAudit writes state conditionally and appends every event in
// events inside a single SQL transaction, so the state write and its
// audit events are persisted together or not at all (§4.2). A
// conditional-write conflict, or any audit append failure, rolls back the
// whole transaction rather than leaving state saved with missing audit
// coverage.
func (s *Store) SaveWithAudit(ctx context.Context, state *wfstate.WorkflowState, expectedVersion int64, events []*wfstate.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "begin save transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed, error path already reported below

	if err := s.saveWith(ctx, tx, state, expectedVersion); err != nil {
		return err
	}
	for _, ev := range events {
		if err := s.appendAuditWith(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "commit save transaction")
	}
	return nil
}

// AcquireLease claims request_id for owner until ttl elapses, succeeding
// if the request has no lease, an expired lease, or is already held by
// owner (lease renewal). Returns false, nil if held by another live
// owner — callers should move on to the next claimable request rather
// than treat this as an error (§5: "per-workflow serialization enforced
// by a lease").
func (s *Store) AcquireLease(ctx context.Context, requestID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_state
		SET lease_owner = ?, lease_expires_at = ?
		WHERE request_id = ?
		  AND (lease_owner IS NULL OR lease_expires_at < ? OR lease_owner = ?)
	`, owner, expires, requestID, now, owner)
	if err != nil {
		return false, agentadapter.Wrap(agentadapter.KindInternal, requestID, err, "acquire lease")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, agentadapter.Wrap(agentadapter.KindInternal, requestID, err, "check lease result")
	}
	return rows > 0, nil
}

// ReleaseLease drops the lease on request_id if owner currently holds
// it. The engine calls it once, when Drive returns: after a Gate Park
// (§5: "it releases the lease"), a terminal phase, or an error.
func (s *Store) ReleaseLease(ctx context.Context, requestID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_state
		SET lease_owner = NULL, lease_expires_at = NULL
		WHERE request_id = ? AND lease_owner = ?
	`, requestID, owner)
	if err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, requestID, err, "release lease")
	}
	return nil
}

// terminalPhaseList is inlined into ListClaimable's query rather than
// imported from wfstate, so persistence stays storage-only and never
// depends on the workflow graph package (wfstate already depends on
// nothing in persistence; keeping the dependency one-directional avoids
// an import cycle while C2 remains "storage-agnostic" per §4.2).
var terminalPhaseList = []string{"complete", "not_feasible", "qa_failed", "human_review"} //nolint:gochecknoglobals // fixed enumeration mirroring wfstate.IsTerminal

// ListClaimable returns request_ids with no live lease and a non-terminal
// current_state, for the engine's polling loop and crash-recovery sweep
// (§4.2 "list_pending_resumable", §4.7, §11: stale leases from a crashed
// worker are simply expired leases, so this single query serves both
// paths — no separate "orphan scan" is needed). current_state is read out
// of the JSON document via SQLite's json_extract, since the column itself
// is schema-on-read per §6.
func (s *Store) ListClaimable(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id FROM workflow_state
		WHERE (lease_owner IS NULL OR lease_expires_at < ?)
		  AND json_extract(document, '$.current_state') NOT IN (?, ?, ?, ?)
		ORDER BY updated_at ASC
		LIMIT ?
	`, time.Now().UTC(),
		terminalPhaseList[0], terminalPhaseList[1], terminalPhaseList[2], terminalPhaseList[3],
		limit)
	if err != nil {
		return nil, fmt.Errorf("list claimable workflow state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimable request_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key")
}
