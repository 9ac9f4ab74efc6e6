package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// appendAuditTx writes audit events inside an existing transaction.
// Duplicate IDs are silently skipped so retried compound writes stay
// idempotent. encoding/json sorts map keys, which keeps details canonical:
// identical decisions serialize to identical records.
func appendAuditTx(ctx context.Context, tx *sql.Tx, events []model.AuditEvent) error {
	for _, ev := range events {
		details := ev.Details
		if details == nil {
			details = map[string]any{}
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details for %s: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_events (id, user_id, rebuild_id, seq, timestamp, event_type, entity_id, details)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			ev.ID, ev.UserID, ev.RebuildID, ev.Seq, storeTime(ev.Timestamp),
			string(ev.EventType), ev.EntityID, string(detailsJSON),
		)
		if err != nil {
			return fmt.Errorf("append audit event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// AppendAudit appends audit events outside any other state change. Used for
// decisions that are themselves the state - overflow records, inference
// fallbacks.
func (s *Store) AppendAudit(ctx context.Context, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendAuditTx(ctx, tx, events)
	})
}

// AuditFilter narrows ListAudit. Zero value lists everything for the user.
type AuditFilter struct {
	RebuildID string
	EntityID  string
	EventType model.AuditEventType
}

// ListAudit returns the owner's audit events ordered by (rebuild, seq,
// timestamp). The log is append-only; there is no mutation surface.
func (s *Store) ListAudit(ctx context.Context, userID string, filter AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, user_id, rebuild_id, seq, timestamp, event_type, entity_id, details
		FROM audit_events WHERE user_id = ?`
	args := []any{userID}
	if filter.RebuildID != "" {
		query += ` AND rebuild_id = ?`
		args = append(args, filter.RebuildID)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	query += ` ORDER BY rebuild_id, seq, timestamp, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var ts, detailsJSON string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.RebuildID, &ev.Seq, &ts,
			&ev.EventType, &ev.EntityID, &detailsJSON); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		if ev.Timestamp, err = readTime(ts); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &ev.Details); err != nil {
				return nil, fmt.Errorf("list audit: decode details of %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
