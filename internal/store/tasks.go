package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// taskColumns is the canonical select list; scanTask must stay in step.
const taskColumns = `id, user_id, source_type, source_id, title, notes, status,
	created_at, updated_at, deleted_at, deadline, start_after, due_by,
	estimated_duration_min, duration_confidence, category, energy_intensity,
	risk_score, impact_score, dependencies, flex_start, flex_end,
	ai_excluded, manual_priority_locked, user_locked, manually_scheduled,
	recurrence_series_id, recurrence_occurrence_start, tier`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var createdAt, updatedAt, deletedAt, deadline, startAfter, dueBy string
	var flexStart, flexEnd, occurrenceStart, depsJSON string
	var aiExcluded, prioLocked, userLocked, manuallySched int

	err := row.Scan(
		&t.ID, &t.UserID, &t.SourceType, &t.SourceID, &t.Title, &t.Notes, &t.Status,
		&createdAt, &updatedAt, &deletedAt, &deadline, &startAfter, &dueBy,
		&t.EstimatedDurationMin, &t.DurationConfidence, &t.Category, &t.EnergyIntensity,
		&t.RiskScore, &t.ImpactScore, &depsJSON, &flexStart, &flexEnd,
		&aiExcluded, &prioLocked, &userLocked, &manuallySched,
		&t.RecurrenceSeriesID, &occurrenceStart, &t.Tier,
	)
	if err != nil {
		return model.Task{}, err
	}

	for _, conv := range []struct {
		dst *time.Time
		src string
	}{
		{&t.CreatedAt, createdAt}, {&t.UpdatedAt, updatedAt}, {&t.DeletedAt, deletedAt},
		{&t.Deadline, deadline}, {&t.FlexibilityWindow.Start, flexStart},
		{&t.FlexibilityWindow.End, flexEnd}, {&t.RecurrenceOccurrenceStart, occurrenceStart},
	} {
		parsed, err := readTime(conv.src)
		if err != nil {
			return model.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
		*conv.dst = parsed
	}
	if startAfter != "" {
		if t.StartAfter, err = model.ParseDate(startAfter); err != nil {
			return model.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	if dueBy != "" {
		if t.DueBy, err = model.ParseDate(dueBy); err != nil {
			return model.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	if depsJSON != "" && depsJSON != "[]" {
		if err := json.Unmarshal([]byte(depsJSON), &t.Dependencies); err != nil {
			return model.Task{}, fmt.Errorf("task %s: decode dependencies: %w", t.ID, err)
		}
	}
	t.AIExcluded = aiExcluded != 0
	t.ManualPriorityLocked = prioLocked != 0
	t.UserLocked = userLocked != 0
	t.ManuallyScheduled = manuallySched != 0
	return t, nil
}

func taskArgs(t *model.Task) ([]any, error) {
	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("encode dependencies: %w", err)
	}
	if t.Dependencies == nil {
		depsJSON = []byte("[]")
	}
	startAfter := ""
	if !t.StartAfter.IsZero() {
		startAfter = t.StartAfter.String()
	}
	dueBy := ""
	if !t.DueBy.IsZero() {
		dueBy = t.DueBy.String()
	}
	return []any{
		t.ID, t.UserID, t.SourceType, t.SourceID, t.Title, t.Notes, string(t.Status),
		storeTime(t.CreatedAt), storeTime(t.UpdatedAt), storeTime(t.DeletedAt),
		storeTime(t.Deadline), startAfter, dueBy,
		t.EstimatedDurationMin, t.DurationConfidence, string(t.Category), string(t.EnergyIntensity),
		t.RiskScore, t.ImpactScore, string(depsJSON),
		storeTime(t.FlexibilityWindow.Start), storeTime(t.FlexibilityWindow.End),
		boolInt(t.AIExcluded), boolInt(t.ManualPriorityLocked), boolInt(t.UserLocked), boolInt(t.ManuallyScheduled),
		t.RecurrenceSeriesID, storeTime(t.RecurrenceOccurrenceStart), t.Tier,
	}, nil
}

const taskInsertSQL = `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateTask inserts a new task and flushes the given audit events in the
// same transaction. The owner's dependency graph is checked for cycles
// before the write; a cycle rejects the whole transaction with a
// ConstraintError.
func (s *Store) CreateTask(ctx context.Context, task model.Task, events ...model.AuditEvent) error {
	loc, err := s.userLocation(ctx, task.UserID)
	if err != nil {
		return err
	}
	if err := task.Validate(loc); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: task.ID}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDependencyCycle(ctx, tx, &task); err != nil {
			return err
		}
		args, err := taskArgs(&task)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, taskInsertSQL, args...); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return &ConstraintError{Code: ConstraintDuplicate,
					Message: "task already exists for dedupe key", EntityID: task.ID}
			}
			return fmt.Errorf("create task %s: %w", task.ID, err)
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// CreateOccurrence inserts a materialized occurrence idempotently: a dedupe
// conflict on (user, source, series, occurrence start) is a silent no-op
// reported through the created return. Audit events are flushed only when a
// row was actually inserted.
func (s *Store) CreateOccurrence(ctx context.Context, task model.Task) (created bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		args, err := taskArgs(&task)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, strings.Replace(taskInsertSQL,
			"INSERT INTO tasks", "INSERT OR IGNORE INTO tasks", 1), args...)
		if err != nil {
			return fmt.Errorf("create occurrence %s: %w", task.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("create occurrence %s: rows affected: %w", task.ID, err)
		}
		if n == 0 {
			return nil
		}
		created = true
		ev := model.AuditEvent{
			ID:        task.ID + "-imported",
			UserID:    task.UserID,
			Timestamp: task.CreatedAt,
			EventType: model.AuditTaskImported,
			EntityID:  task.ID,
			Details: map[string]any{
				"source_type":      task.SourceType,
				"series_id":        task.RecurrenceSeriesID,
				"occurrence_start": storeTime(task.RecurrenceOccurrenceStart),
			},
		}
		return appendAuditTx(ctx, tx, []model.AuditEvent{ev})
	})
	return created, err
}

// GetTask returns the task by ID under the given owner. Soft-deleted rows
// are invisible unless includeDeleted.
func (s *Store) GetTask(ctx context.Context, userID, taskID string, includeDeleted bool) (model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND id = ?`
	if !includeDeleted {
		query += ` AND deleted_at = ''`
	}
	task, err := scanTask(s.db.QueryRowContext(ctx, query, userID, taskID))
	if err == sql.ErrNoRows {
		return model.Task{}, &ConstraintError{Code: ConstraintNotFound,
			Message: "task not found", EntityID: taskID}
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// TaskFilter narrows ListTasks. Zero value lists all active tasks.
type TaskFilter struct {
	IncludeDeleted bool
	Status         model.TaskStatus
	SeriesID       string
}

// ListTasks returns the owner's tasks, oldest first with ID as tiebreak so
// the order is stable for identical timestamps.
func (s *Store) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]model.Task, error) {
	q := sq.Select(strings.Split(taskColumns, ",")...).
		From("tasks").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at", "id")
	if !filter.IncludeDeleted {
		q = q.Where(sq.Eq{"deleted_at": ""})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.SeriesID != "" {
		q = q.Where(sq.Eq{"recurrence_series_id": filter.SeriesID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list tasks: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ActiveTasks returns the owner's open, non-deleted tasks - the rebuild
// pipeline's load stage.
func (s *Store) ActiveTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return s.ListTasks(ctx, userID, TaskFilter{Status: model.StatusOpen})
}

// UpdateTask rewrites a task row and flushes audit events atomically. The
// dependency graph is re-checked since edits can introduce cycles.
func (s *Store) UpdateTask(ctx context.Context, task model.Task, events ...model.AuditEvent) error {
	loc, err := s.userLocation(ctx, task.UserID)
	if err != nil {
		return err
	}
	if err := task.Validate(loc); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: task.ID}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDependencyCycle(ctx, tx, &task); err != nil {
			return err
		}
		args, err := taskArgs(&task)
		if err != nil {
			return err
		}
		// Reuse the insert arg order: id lands in the WHERE clause.
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				user_id = ?, source_type = ?, source_id = ?, title = ?, notes = ?, status = ?,
				created_at = ?, updated_at = ?, deleted_at = ?, deadline = ?, start_after = ?, due_by = ?,
				estimated_duration_min = ?, duration_confidence = ?, category = ?, energy_intensity = ?,
				risk_score = ?, impact_score = ?, dependencies = ?, flex_start = ?, flex_end = ?,
				ai_excluded = ?, manual_priority_locked = ?, user_locked = ?, manually_scheduled = ?,
				recurrence_series_id = ?, recurrence_occurrence_start = ?, tier = ?
			WHERE id = ? AND user_id = ?`,
			append(args[1:], task.ID, task.UserID)...)
		if err != nil {
			return fmt.Errorf("update task %s: %w", task.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task %s: rows affected: %w", task.ID, err)
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "task not found", EntityID: task.ID}
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// SoftDeleteTask marks the task deleted and removes its scheduled blocks in
// the same transaction. Reversible via RestoreTask, though cascaded blocks
// come back only on the next rebuild.
func (s *Store) SoftDeleteTask(ctx context.Context, userID, taskID string, now time.Time, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET deleted_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND deleted_at = ''`,
			storeTime(now), storeTime(now), taskID, userID)
		if err != nil {
			return fmt.Errorf("soft delete task %s: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "task not found", EntityID: taskID}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scheduled_blocks WHERE user_id = ? AND entity_id = ?`, userID, taskID); err != nil {
			return fmt.Errorf("soft delete task %s: cascade blocks: %w", taskID, err)
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// RestoreTask clears the soft-delete marker.
func (s *Store) RestoreTask(ctx context.Context, userID, taskID string, now time.Time, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET deleted_at = '', updated_at = ? WHERE id = ? AND user_id = ? AND deleted_at <> ''`,
			storeTime(now), taskID, userID)
		if err != nil {
			return fmt.Errorf("restore task %s: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "deleted task not found", EntityID: taskID}
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// PurgeTask irreversibly removes the row and cascades to scheduled blocks.
func (s *Store) PurgeTask(ctx context.Context, userID, taskID string, events ...model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scheduled_blocks WHERE user_id = ? AND entity_id = ?`, userID, taskID); err != nil {
			return fmt.Errorf("purge task %s: cascade blocks: %w", taskID, err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
		if err != nil {
			return fmt.Errorf("purge task %s: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "task not found", EntityID: taskID}
		}
		return appendAuditTx(ctx, tx, events)
	})
}

// OpenSeriesOccurrences returns the open occurrences of one series.
func (s *Store) OpenSeriesOccurrences(ctx context.Context, userID, seriesID string) ([]model.Task, error) {
	return s.ListTasks(ctx, userID, TaskFilter{Status: model.StatusOpen, SeriesID: seriesID})
}

// OpenOccurrencesEndedBefore returns open recurrence occurrences whose
// window (flexibility window, else the occurrence day) closed before the
// cutoff. These are the habit roll-forward candidates.
func (s *Store) OpenOccurrencesEndedBefore(ctx context.Context, userID string, before time.Time) ([]model.Task, error) {
	tasks, err := s.ListTasks(ctx, userID, TaskFilter{Status: model.StatusOpen})
	if err != nil {
		return nil, err
	}
	var out []model.Task
	for _, t := range tasks {
		if t.RecurrenceSeriesID == "" {
			continue
		}
		end := t.FlexibilityWindow.End
		if end.IsZero() {
			if t.RecurrenceOccurrenceStart.IsZero() {
				continue
			}
			end = t.RecurrenceOccurrenceStart.AddDate(0, 0, 1)
		}
		if end.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

// MarkOccurrenceMissed flips an open occurrence to missed with a
// schedule_updated audit record in the same transaction.
func (s *Store) MarkOccurrenceMissed(ctx context.Context, userID, taskID, rebuildID string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND user_id = ? AND status = ?`,
			string(model.StatusMissed), storeTime(now), taskID, userID, string(model.StatusOpen))
		if err != nil {
			return fmt.Errorf("mark missed %s: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &ConstraintError{Code: ConstraintNotFound, Message: "open task not found", EntityID: taskID}
		}
		ev := model.AuditEvent{
			ID:        taskID + "-missed-" + rebuildID,
			UserID:    userID,
			RebuildID: rebuildID,
			Timestamp: now,
			EventType: model.AuditScheduleUpdated,
			EntityID:  taskID,
			Details:   map[string]any{"reason": "occurrence_missed"},
		}
		return appendAuditTx(ctx, tx, []model.AuditEvent{ev})
	})
}

// userLocation loads the owner's calendar location for validation.
func (s *Store) userLocation(ctx context.Context, userID string) (*time.Location, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Location(), nil
}

// checkDependencyCycle rejects a write that would close a cycle in the
// owner's dependency graph. Detecting this on write is cheaper and safer
// than discovering it mid-schedule.
func checkDependencyCycle(ctx context.Context, tx *sql.Tx, task *model.Task) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id, dependencies FROM tasks WHERE user_id = ? AND deleted_at = ''`, task.UserID)
	if err != nil {
		return fmt.Errorf("load dependency graph: %w", err)
	}
	defer rows.Close()

	graph := map[string][]string{}
	for rows.Next() {
		var id, depsJSON string
		if err := rows.Scan(&id, &depsJSON); err != nil {
			return fmt.Errorf("load dependency graph: %w", err)
		}
		var deps []string
		if depsJSON != "" && depsJSON != "[]" {
			if err := json.Unmarshal([]byte(depsJSON), &deps); err != nil {
				return fmt.Errorf("decode dependencies of %s: %w", id, err)
			}
		}
		graph[id] = deps
	}
	if err := rows.Err(); err != nil {
		return err
	}
	graph[task.ID] = task.Dependencies

	// DFS from the written task; revisiting it means a cycle.
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range graph[id] {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}
	if visit(task.ID) {
		return &ConstraintError{Code: ConstraintDependencyCycle,
			Message: "write would create a dependency cycle", EntityID: task.ID}
	}
	return nil
}
