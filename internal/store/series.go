package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

const seriesColumns = `id, user_id, title_template, notes_template,
	estimated_duration_min_default, category_default, preset, ai_excluded,
	created_at, updated_at, deleted_at`

func scanSeries(row rowScanner) (model.RecurringTaskSeries, error) {
	var s model.RecurringTaskSeries
	var preset, createdAt, updatedAt, deletedAt string
	var aiExcluded int
	err := row.Scan(&s.ID, &s.UserID, &s.TitleTemplate, &s.NotesTemplate,
		&s.EstimatedDurationMinDefault, &s.CategoryDefault, &preset, &aiExcluded,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return model.RecurringTaskSeries{}, err
	}
	s.Preset = model.RecurrencePresetJSON(preset)
	s.AIExcluded = aiExcluded != 0
	for _, conv := range []struct {
		dst *time.Time
		src string
	}{
		{&s.CreatedAt, createdAt}, {&s.UpdatedAt, updatedAt}, {&s.DeletedAt, deletedAt},
	} {
		parsed, err := readTime(conv.src)
		if err != nil {
			return model.RecurringTaskSeries{}, fmt.Errorf("series %s: %w", s.ID, err)
		}
		*conv.dst = parsed
	}
	return s, nil
}

// CreateSeries inserts a recurring task series.
func (s *Store) CreateSeries(ctx context.Context, series model.RecurringTaskSeries, events ...model.AuditEvent) error {
	if err := series.Validate(); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: series.ID}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_task_series (`+seriesColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			series.ID, series.UserID, series.TitleTemplate, series.NotesTemplate,
			series.EstimatedDurationMinDefault, string(series.CategoryDefault),
			string(series.Preset), boolInt(series.AIExcluded),
			storeTime(series.CreatedAt), storeTime(series.UpdatedAt), storeTime(series.DeletedAt))
		if err != nil {
			return fmt.Errorf("create series %s: %w", series.ID, err)
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// GetSeries returns a series by ID under the given owner.
func (s *Store) GetSeries(ctx context.Context, userID, seriesID string) (model.RecurringTaskSeries, error) {
	series, err := scanSeries(s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM recurring_task_series WHERE user_id = ? AND id = ?`,
		userID, seriesID))
	if err == sql.ErrNoRows {
		return model.RecurringTaskSeries{}, &ConstraintError{Code: ConstraintNotFound,
			Message: "series not found", EntityID: seriesID}
	}
	if err != nil {
		return model.RecurringTaskSeries{}, fmt.Errorf("get series %s: %w", seriesID, err)
	}
	return series, nil
}

// ListActiveSeries returns the owner's non-deleted series, the
// materializer's input.
func (s *Store) ListActiveSeries(ctx context.Context, userID string) ([]model.RecurringTaskSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+seriesColumns+` FROM recurring_task_series
		WHERE user_id = ? AND deleted_at = '' ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var out []model.RecurringTaskSeries
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("list series: %w", err)
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

// SoftDeleteSeries marks the series deleted. Existing occurrences keep
// living their own lifecycle; no new ones materialize.
func (s *Store) SoftDeleteSeries(ctx context.Context, userID, seriesID string, now time.Time, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE recurring_task_series SET deleted_at = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND deleted_at = ''`,
			storeTime(now), storeTime(now), seriesID, userID)
		if err != nil {
			return fmt.Errorf("soft delete series %s: %w", seriesID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "series not found", EntityID: seriesID}
		}
		return appendAuditTx(ctx, tx, events)
	})
}

const timeBlockColumns = `id, user_id, title, preset, calendar_event_id,
	created_at, updated_at, deleted_at`

func scanTimeBlock(row rowScanner) (model.RecurringTimeBlock, error) {
	var b model.RecurringTimeBlock
	var preset, createdAt, updatedAt, deletedAt string
	err := row.Scan(&b.ID, &b.UserID, &b.Title, &preset, &b.CalendarEventID,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return model.RecurringTimeBlock{}, err
	}
	b.Preset = model.RecurrencePresetJSON(preset)
	for _, conv := range []struct {
		dst *time.Time
		src string
	}{
		{&b.CreatedAt, createdAt}, {&b.UpdatedAt, updatedAt}, {&b.DeletedAt, deletedAt},
	} {
		parsed, err := readTime(conv.src)
		if err != nil {
			return model.RecurringTimeBlock{}, fmt.Errorf("time block %s: %w", b.ID, err)
		}
		*conv.dst = parsed
	}
	return b, nil
}

// CreateTimeBlock inserts a recurring reserved interval.
func (s *Store) CreateTimeBlock(ctx context.Context, block model.RecurringTimeBlock, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_time_blocks (`+timeBlockColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			block.ID, block.UserID, block.Title, string(block.Preset), block.CalendarEventID,
			storeTime(block.CreatedAt), storeTime(block.UpdatedAt), storeTime(block.DeletedAt))
		if err != nil {
			return fmt.Errorf("create time block %s: %w", block.ID, err)
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// ListActiveTimeBlocks returns the owner's non-deleted recurring time
// blocks. The availability builder subtracts their occurrences from the
// free list.
func (s *Store) ListActiveTimeBlocks(ctx context.Context, userID string) ([]model.RecurringTimeBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timeBlockColumns+` FROM recurring_time_blocks
		WHERE user_id = ? AND deleted_at = '' ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}
	defer rows.Close()

	var out []model.RecurringTimeBlock
	for rows.Next() {
		b, err := scanTimeBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("list time blocks: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
