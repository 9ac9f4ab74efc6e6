package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

const blockColumns = `id, user_id, entity_id, start_time, end_time, scheduled_by,
	locked, calendar_event_id, calendar_etag, calendar_updated, sync_state,
	created_at, updated_at`

func scanBlock(row rowScanner) (model.ScheduledBlock, error) {
	var b model.ScheduledBlock
	var start, end, calUpdated, createdAt, updatedAt string
	var locked int
	err := row.Scan(&b.ID, &b.UserID, &b.EntityID, &start, &end, &b.ScheduledBy,
		&locked, &b.CalendarEventID, &b.CalendarEtag, &calUpdated, &b.SyncState,
		&createdAt, &updatedAt)
	if err != nil {
		return model.ScheduledBlock{}, err
	}
	for _, conv := range []struct {
		dst *time.Time
		src string
	}{
		{&b.StartTime, start}, {&b.EndTime, end}, {&b.CalendarUpdated, calUpdated},
		{&b.CreatedAt, createdAt}, {&b.UpdatedAt, updatedAt},
	} {
		parsed, err := readTime(conv.src)
		if err != nil {
			return model.ScheduledBlock{}, fmt.Errorf("block %s: %w", b.ID, err)
		}
		*conv.dst = parsed
	}
	b.Locked = locked != 0
	return b, nil
}

func insertBlockTx(ctx context.Context, tx *sql.Tx, b *model.ScheduledBlock) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO scheduled_blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.EntityID, storeTime(b.StartTime), storeTime(b.EndTime),
		string(b.ScheduledBy), boolInt(b.Locked), b.CalendarEventID, b.CalendarEtag,
		storeTime(b.CalendarUpdated), string(b.SyncState),
		storeTime(b.CreatedAt), storeTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert block %s: %w", b.ID, err)
	}
	return nil
}

// ReplaceSchedule swaps the owner's movable schedule for a freshly built
// one in a single transaction: every system-placed, unlocked block is
// removed and the new blocks are inserted, with the rebuild's audit events
// flushed alongside. Locked and user-scheduled blocks survive untouched.
//
// Returns the removed blocks so the synchronizer can delete their external
// events.
func (s *Store) ReplaceSchedule(ctx context.Context, userID string, blocks []model.ScheduledBlock, events ...model.AuditEvent) (removed []model.ScheduledBlock, err error) {
	for i := range blocks {
		if err := blocks[i].Validate(); err != nil {
			return nil, &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: blocks[i].ID}
		}
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+blockColumns+` FROM scheduled_blocks
			WHERE user_id = ? AND locked = 0 AND scheduled_by = 'system'`, userID)
		if err != nil {
			return fmt.Errorf("replace schedule: load movable blocks: %w", err)
		}
		for rows.Next() {
			b, err := scanBlock(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("replace schedule: %w", err)
			}
			removed = append(removed, b)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM scheduled_blocks
			WHERE user_id = ? AND locked = 0 AND scheduled_by = 'system'`, userID); err != nil {
			return fmt.Errorf("replace schedule: delete movable blocks: %w", err)
		}
		for i := range blocks {
			if err := insertBlockTx(ctx, tx, &blocks[i]); err != nil {
				return err
			}
		}
		return appendAuditTx(ctx, tx, events)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CreateBlock inserts a single block (user-scheduled placements).
func (s *Store) CreateBlock(ctx context.Context, b model.ScheduledBlock, events ...model.AuditEvent) error {
	if err := b.Validate(); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: b.ID}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertBlockTx(ctx, tx, &b); err != nil {
			return err
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// GetBlock returns a block by ID under the given owner.
func (s *Store) GetBlock(ctx context.Context, userID, blockID string) (model.ScheduledBlock, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM scheduled_blocks WHERE user_id = ? AND id = ?`,
		userID, blockID))
	if err == sql.ErrNoRows {
		return model.ScheduledBlock{}, &ConstraintError{Code: ConstraintNotFound,
			Message: "block not found", EntityID: blockID}
	}
	if err != nil {
		return model.ScheduledBlock{}, fmt.Errorf("get block %s: %w", blockID, err)
	}
	return b, nil
}

// BlockFilter narrows ListBlocks. Zero value lists all of the owner's
// blocks.
type BlockFilter struct {
	// Window restricts to blocks overlapping [Window.Start, Window.End).
	Window model.Window
	// LockedOnly restricts to locked blocks.
	LockedOnly bool
	// EntityID restricts to one task's blocks.
	EntityID string
}

// ListBlocks returns the owner's scheduled blocks ordered by start time.
// Window queries ride the (user_id, start_time, end_time) index.
func (s *Store) ListBlocks(ctx context.Context, userID string, filter BlockFilter) ([]model.ScheduledBlock, error) {
	q := sq.Select(blockColumns).
		From("scheduled_blocks").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("start_time", "id")
	if !filter.Window.IsZero() {
		// Half-open overlap: start < window.end AND end > window.start.
		q = q.Where(sq.Lt{"start_time": storeTime(filter.Window.End)}).
			Where(sq.Gt{"end_time": storeTime(filter.Window.Start)})
	}
	if filter.LockedOnly {
		q = q.Where(sq.Eq{"locked": 1})
	}
	if filter.EntityID != "" {
		q = q.Where(sq.Eq{"entity_id": filter.EntityID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list blocks: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBlock rewrites a block row (sync metadata, lock state, interval)
// and flushes audit events atomically.
func (s *Store) UpdateBlock(ctx context.Context, b model.ScheduledBlock, events ...model.AuditEvent) error {
	if err := b.Validate(); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: b.ID}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scheduled_blocks SET
				entity_id = ?, start_time = ?, end_time = ?, scheduled_by = ?, locked = ?,
				calendar_event_id = ?, calendar_etag = ?, calendar_updated = ?, sync_state = ?,
				updated_at = ?
			WHERE id = ? AND user_id = ?`,
			b.EntityID, storeTime(b.StartTime), storeTime(b.EndTime), string(b.ScheduledBy),
			boolInt(b.Locked), b.CalendarEventID, b.CalendarEtag, storeTime(b.CalendarUpdated),
			string(b.SyncState), storeTime(b.UpdatedAt), b.ID, b.UserID)
		if err != nil {
			return fmt.Errorf("update block %s: %w", b.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "block not found", EntityID: b.ID}
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// ManagedEventIDs returns the set of external event IDs linked to the
// owner's blocks. Managed-event ownership is the conjunction of the marker
// property on the event and membership in this set; either alone is not
// proof.
func (s *Store) ManagedEventIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT calendar_event_id FROM scheduled_blocks
		WHERE user_id = ? AND calendar_event_id <> ''`, userID)
	if err != nil {
		return nil, fmt.Errorf("managed event ids: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("managed event ids: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
