package persistence

import (
	"context"
	"fmt"

	"researchflow/pkg/wfstate"
)

// AppendAudit inserts an audit event. The table is append-only and
// event_id is a UUID, so concurrent appends across requests never
// collide (§5: "unshared across requests").
func (s *Store) AppendAudit(ctx context.Context, e *wfstate.AuditEvent) error {
	return s.appendAuditWith(ctx, s.db, e)
}

func (s *Store) appendAuditWith(ctx context.Context, exec dbExecutor, e *wfstate.AuditEvent) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit (event_id, request_id, timestamp, kind, node, actor, severity, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventID, e.RequestID, e.Timestamp, string(e.Kind), e.Node, e.Actor, e.Severity, nullableBytes(e.Payload))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAudit returns every event for requestID in timestamp order (§8
// invariant 4: "strictly time-ordered and append-only").
func (s *Store) ListAudit(ctx context.Context, requestID string) ([]*wfstate.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, request_id, timestamp, kind, node, actor, severity, payload
		FROM audit WHERE request_id = ?
		ORDER BY timestamp ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*wfstate.AuditEvent
	for rows.Next() {
		var e wfstate.AuditEvent
		var kind string
		var payload []byte
		if err := rows.Scan(&e.EventID, &e.RequestID, &e.Timestamp, &kind, &e.Node, &e.Actor, &e.Severity, &payload); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Kind = wfstate.AuditEventKind(kind)
		e.Payload = payload
		out = append(out, &e)
	}
	return out, rows.Err()
}
