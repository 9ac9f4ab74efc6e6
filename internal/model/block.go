package model

import (
	"fmt"
	"time"
)

// ScheduledBy records who placed a block.
type ScheduledBy string

const (
	ScheduledBySystem ScheduledBy = "system"
	ScheduledByUser   ScheduledBy = "user"
)

// SyncState tracks a block's managed calendar event lifecycle.
type SyncState string

const (
	// SyncUnsynced means no external event exists yet for this block.
	SyncUnsynced SyncState = "unsynced"
	// SyncSynced means the external event matches the block.
	SyncSynced SyncState = "synced"
	// SyncPending marks a block whose last sync attempt failed or conflicted;
	// it is retried on the next pass.
	SyncPending SyncState = "sync_pending"
)

// ScheduledBlock is a placement of a task on the calendar.
//
// INVARIANTS:
//   - StartTime < EndTime; the interval is half-open [start, end)
//   - a user's unlocked blocks never overlap each other
//   - duration is a multiple of the scheduling granularity, or equals the
//     task duration when that is smaller than one slot
type ScheduledBlock struct {
	ID     string
	UserID string

	// EntityID is the task this block schedules.
	EntityID string

	StartTime time.Time
	EndTime   time.Time

	ScheduledBy ScheduledBy

	// Locked blocks are immune to rebuild movement: user-created blocks,
	// blocks the user moved in the external calendar, or explicit locks.
	Locked bool

	// External calendar linkage. CalendarEventID is empty until first sync.
	// CalendarEtag and CalendarUpdated version the external event for
	// optimistic concurrency.
	CalendarEventID string
	CalendarEtag    string
	CalendarUpdated time.Time

	SyncState SyncState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the block's half-open interval.
func (b *ScheduledBlock) Interval() Window {
	return Window{Start: b.StartTime, End: b.EndTime}
}

// Duration returns EndTime - StartTime.
func (b *ScheduledBlock) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// Validate checks the block's closed-form invariants.
func (b *ScheduledBlock) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("block: missing id")
	}
	if b.UserID == "" {
		return fmt.Errorf("block %s: missing owner", b.ID)
	}
	if b.EntityID == "" {
		return fmt.Errorf("block %s: missing entity id", b.ID)
	}
	if !b.StartTime.Before(b.EndTime) {
		return fmt.Errorf("block %s: start %s not before end %s",
			b.ID, b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339))
	}
	return nil
}
