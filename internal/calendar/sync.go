package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// Synchronizer reconciles engine-emitted scheduled blocks with the user's
// external calendar. It runs after a rebuild and is idempotent: a second
// pass with no external edits performs zero external writes.
//
// Per managed event, the lifecycle is:
//
//	Unsynced -> Synced                      (create)
//	Synced -> UserEditedTitle -> Synced     (import title/notes into task)
//	Synced -> UserMovedInTime -> LockedSynced -> Synced
//	                                        (import interval, lock block)
//
// Calendar edits never trigger a rebuild; they are imported only here, on
// the next sync pass, which breaks the edit->rebuild->edit loop.
type Synchronizer struct {
	store  *store.Store
	writer Writer
	now    func() time.Time

	callTimeout time.Duration
	maxAttempts int
	baseDelay   time.Duration
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithCallTimeout bounds each remote write. Default 10s.
func WithCallTimeout(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.callTimeout = d }
}

// WithRetry sets the attempt budget and backoff seed for remote calls.
// Default 3 attempts from 500ms.
func WithRetry(attempts int, baseDelay time.Duration) SyncOption {
	return func(s *Synchronizer) { s.maxAttempts = attempts; s.baseDelay = baseDelay }
}

// WithNow overrides the time source (tests).
func WithNow(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer wires a synchronizer over the store and writer.
func NewSynchronizer(st *store.Store, writer Writer, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:       st,
		writer:      writer,
		now:         time.Now,
		callTimeout: 10 * time.Second,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats counts external effects of one sync pass.
type Stats struct {
	Created   int
	Updated   int
	Deleted   int
	Imported  int
	Conflicts int
	Pending   int
}

// Sync reconciles the user's current blocks with the external calendar.
// removed carries blocks a rebuild displaced, whose external events must be
// deleted.
//
// Unauthorized errors abort the pass - revoked access cannot be worked
// around. Every other per-block failure marks the block sync_pending and
// the pass continues; nothing is silently dropped.
func (s *Synchronizer) Sync(ctx context.Context, userID string, removed []model.ScheduledBlock) (Stats, error) {
	var stats Stats

	for _, b := range removed {
		if b.CalendarEventID == "" {
			continue
		}
		deleted, err := s.deleteManaged(ctx, userID, &b)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return stats, err
			}
			slog.Warn("delete of displaced event failed",
				"user_id", userID, "block_id", b.ID, "event_id", b.CalendarEventID, "error", err)
			continue
		}
		if deleted {
			stats.Deleted++
		}
	}

	blocks, err := s.store.ListBlocks(ctx, userID, store.BlockFilter{})
	if err != nil {
		return stats, fmt.Errorf("sync: list blocks: %w", err)
	}

	for i := range blocks {
		b := blocks[i]
		if err := s.syncBlock(ctx, userID, &b, &stats); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return stats, err
			}
			if IsSyncConflict(err) {
				stats.Conflicts++
				slog.Error("sync conflict, block skipped this pass",
					"user_id", userID, "block_id", b.ID, "error", err)
			} else {
				slog.Warn("block sync failed, marked pending",
					"user_id", userID, "block_id", b.ID, "error", err)
			}
			b.SyncState = model.SyncPending
			b.UpdatedAt = s.now()
			if updErr := s.store.UpdateBlock(ctx, b); updErr != nil {
				slog.Error("failed to flag block sync_pending",
					"user_id", userID, "block_id", b.ID, "error", updErr)
			}
			stats.Pending++
		}
	}
	return stats, nil
}

// syncBlock reconciles one block with its external event.
func (s *Synchronizer) syncBlock(ctx context.Context, userID string, b *model.ScheduledBlock, stats *Stats) error {
	if b.CalendarEventID == "" {
		return s.createEvent(ctx, userID, b, stats)
	}

	var ev Event
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		var fetchErr error
		ev, fetchErr = s.writer.FetchEvent(callCtx, userID, b.CalendarEventID)
		return fetchErr
	})
	if errors.Is(err, ErrEventNotFound) {
		// Externally deleted: treat as unsynced and recreate.
		b.CalendarEventID = ""
		b.CalendarEtag = ""
		return s.createEvent(ctx, userID, b, stats)
	}
	if err != nil {
		return fmt.Errorf("fetch event %s: %w", b.CalendarEventID, err)
	}

	if !s.proveManaged(&ev, b) {
		// The ID points at an event we cannot prove is ours. Report a
		// conflict and leave the event untouched.
		return &ConflictError{BlockID: b.ID, EventID: ev.ID,
			Message: "linked event lacks managed proof"}
	}

	if ev.Etag == b.CalendarEtag {
		// No external edit. Push our side if the rebuild changed the
		// interval of a still-linked block; otherwise nothing to do.
		if ev.Start.Equal(b.StartTime) && ev.End.Equal(b.EndTime) {
			if b.SyncState != model.SyncSynced {
				b.SyncState = model.SyncSynced
				b.UpdatedAt = s.now()
				return s.store.UpdateBlock(ctx, *b)
			}
			return nil
		}
		return s.pushInterval(ctx, userID, b, ev, stats)
	}

	// External edit: import per the bidirectional rules.
	return s.importEdit(ctx, userID, b, ev, stats)
}

// createEvent creates the external event for an unsynced block and stores
// the returned id, etag and updated timestamp.
func (s *Synchronizer) createEvent(ctx context.Context, userID string, b *model.ScheduledBlock, stats *Stats) error {
	task, err := s.store.GetTask(ctx, userID, b.EntityID, true)
	if err != nil {
		return fmt.Errorf("load task for block %s: %w", b.ID, err)
	}

	want := Event{
		Start:   b.StartTime,
		End:     b.EndTime,
		Title:   task.Title,
		Notes:   task.Notes,
		BlockID: b.ID,
		Managed: true,
	}
	var created Event
	err = s.withRetry(ctx, func(callCtx context.Context) error {
		var createErr error
		created, createErr = s.writer.CreateEvent(callCtx, userID, want)
		return createErr
	})
	if err != nil {
		return fmt.Errorf("create event for block %s: %w", b.ID, err)
	}

	b.CalendarEventID = created.ID
	b.CalendarEtag = created.Etag
	b.CalendarUpdated = created.Updated
	b.SyncState = model.SyncSynced
	b.UpdatedAt = s.now()
	if err := s.store.UpdateBlock(ctx, *b); err != nil {
		return err
	}
	stats.Created++
	slog.Info("managed event created",
		"user_id", userID, "block_id", b.ID, "event_id", created.ID)
	return nil
}

// pushInterval updates the external event to the block's interval
// (engine-side change, no external edit in between).
func (s *Synchronizer) pushInterval(ctx context.Context, userID string, b *model.ScheduledBlock, ev Event, stats *Stats) error {
	ev.Start = b.StartTime
	ev.End = b.EndTime
	var updated Event
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		var updErr error
		updated, updErr = s.writer.UpdateEvent(callCtx, userID, ev)
		return updErr
	})
	if errors.Is(err, ErrEtagMismatch) {
		return &ConflictError{BlockID: b.ID, EventID: ev.ID,
			Message: "etag changed during push"}
	}
	if err != nil {
		return fmt.Errorf("push interval for block %s: %w", b.ID, err)
	}

	b.CalendarEtag = updated.Etag
	b.CalendarUpdated = updated.Updated
	b.SyncState = model.SyncSynced
	b.UpdatedAt = s.now()
	if err := s.store.UpdateBlock(ctx, *b); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

// importEdit brings a user's external edit back into the engine.
// Title/notes changes land on the task; interval changes land on the block
// and lock it so subsequent rebuilds preserve the user's move.
func (s *Synchronizer) importEdit(ctx context.Context, userID string, b *model.ScheduledBlock, ev Event, stats *Stats) error {
	task, err := s.store.GetTask(ctx, userID, b.EntityID, true)
	if err != nil {
		return fmt.Errorf("load task for block %s: %w", b.ID, err)
	}

	now := s.now()
	moved := !ev.Start.Equal(b.StartTime) || !ev.End.Equal(b.EndTime)
	retitled := ev.Title != task.Title || ev.Notes != task.Notes

	if !moved && !retitled {
		// Etag changed but nothing we track did (reminder tweak, attendee
		// change). Just adopt the new version.
		b.CalendarEtag = ev.Etag
		b.CalendarUpdated = ev.Updated
		b.UpdatedAt = now
		return s.store.UpdateBlock(ctx, *b)
	}

	if retitled {
		task.Title = ev.Title
		task.Notes = ev.Notes
		task.UpdatedAt = now
		audit := model.AuditEvent{
			ID:        fmt.Sprintf("%s-cal-edit-%s", b.ID, ev.Etag),
			UserID:    userID,
			Timestamp: now,
			EventType: model.AuditCalendarEditImported,
			EntityID:  task.ID,
			Details: map[string]any{
				"block_id": b.ID,
				"event_id": ev.ID,
				"fields":   "title_notes",
			},
		}
		if err := s.store.UpdateTask(ctx, task, audit); err != nil {
			return fmt.Errorf("import title edit for block %s: %w", b.ID, err)
		}
		stats.Imported++
		slog.Info("calendar title edit imported",
			"user_id", userID, "block_id", b.ID, "task_id", task.ID)
	}

	b.CalendarEtag = ev.Etag
	b.CalendarUpdated = ev.Updated
	b.SyncState = model.SyncSynced
	b.UpdatedAt = now

	if moved {
		b.StartTime = ev.Start
		b.EndTime = ev.End
		b.Locked = true
		audit := model.AuditEvent{
			ID:        fmt.Sprintf("%s-cal-move-%s", b.ID, ev.Etag),
			UserID:    userID,
			Timestamp: now,
			EventType: model.AuditRescheduled,
			EntityID:  b.EntityID,
			Details: map[string]any{
				"block_id": b.ID,
				"event_id": ev.ID,
				"reason":   "user_moved_in_calendar",
				"start":    ev.Start.UTC().Format(time.RFC3339),
				"end":      ev.End.UTC().Format(time.RFC3339),
			},
		}
		if err := s.store.UpdateBlock(ctx, *b, audit); err != nil {
			return fmt.Errorf("import move for block %s: %w", b.ID, err)
		}
		stats.Imported++
		slog.Info("calendar move imported, block locked",
			"user_id", userID, "block_id", b.ID, "event_id", ev.ID)
		return nil
	}
	return s.store.UpdateBlock(ctx, *b)
}

// deleteManaged deletes the external event of a displaced block, after
// proving ownership. It reports whether a delete was issued: an event that
// is already gone, or that lacks managed proof, is left alone.
func (s *Synchronizer) deleteManaged(ctx context.Context, userID string, b *model.ScheduledBlock) (bool, error) {
	var ev Event
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		var fetchErr error
		ev, fetchErr = s.writer.FetchEvent(callCtx, userID, b.CalendarEventID)
		return fetchErr
	})
	if errors.Is(err, ErrEventNotFound) {
		return false, nil // already gone
	}
	if err != nil {
		return false, err
	}
	if !s.proveManaged(&ev, b) {
		slog.Warn("refusing to delete event without managed proof",
			"user_id", userID, "block_id", b.ID, "event_id", ev.ID)
		return false, nil
	}
	err = s.withRetry(ctx, func(callCtx context.Context) error {
		err := s.writer.DeleteEvent(callCtx, userID, ev.ID, ev.Etag)
		if errors.Is(err, ErrEventNotFound) {
			return nil
		}
		return err
	})
	return err == nil, err
}

// proveManaged is the ownership conjunction: marker present AND the event's
// block linkage matches our record.
func (s *Synchronizer) proveManaged(ev *Event, b *model.ScheduledBlock) bool {
	return ev.Managed && ev.BlockID == b.ID && ev.ID == b.CalendarEventID
}

// withRetry bounds a remote call with the configured timeout and retries
// with capped exponential backoff. Unauthorized, not-found and etag errors
// are terminal - retrying cannot fix them.
func (s *Synchronizer) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var err error
	delay := s.baseDelay
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err = call(callCtx)
		cancel()
		if err == nil ||
			errors.Is(err, ErrUnauthorized) ||
			errors.Is(err, ErrEventNotFound) ||
			errors.Is(err, ErrEtagMismatch) ||
			ctx.Err() != nil {
			return err
		}
		if attempt < s.maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}
	return err
}
