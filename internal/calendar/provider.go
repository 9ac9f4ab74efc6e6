// Package calendar holds the two external calendar boundaries and the
// managed-event synchronizer.
//
// Reads and writes are strictly separated. The availability provider
// returns busy intervals only - never titles, notes or attendees; the
// engine has no business knowing what a reserved interval is. The writer
// touches exclusively events the engine can prove it owns: the managed
// marker on the event AND the event ID recorded against one of our blocks.
// Either alone is not proof - users copy events across calendars, and a
// marker without linkage (or linkage without marker) must be left alone.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// Interval is a busy interval read from the external calendar. Managed
// marks intervals originating from engine-owned events, so the availability
// builder can avoid subtracting the engine's own blocks from free time.
type Interval struct {
	Start   time.Time
	End     time.Time
	Managed bool
}

// AvailabilityProvider reads external busy time. Boundary 1: read-only,
// intervals only.
type AvailabilityProvider interface {
	// BusyIntervals returns the user's busy intervals overlapping the
	// window, ordered by start.
	BusyIntervals(ctx context.Context, userID string, window model.Window) ([]Interval, error)
}

// BlockIDProperty is the private extended property linking a managed event
// back to its scheduled block.
const BlockIDProperty = "qzwhatnext_block_id"

// ManagedMarker is the private extended property marking an event as
// engine-managed.
const ManagedMarker = "qzwhatnext_managed"

// Event is the writer's view of one external calendar event.
type Event struct {
	ID      string
	Etag    string
	Updated time.Time

	Start time.Time
	End   time.Time

	Title string
	Notes string

	// BlockID is the BlockIDProperty value; empty when absent.
	BlockID string
	// Managed reports whether the ManagedMarker property is present.
	Managed bool
}

// Writer creates, fetches, updates and deletes managed events. Boundary 2.
// Update and Delete must be etag-checked by the implementation; a
// concurrent external edit surfaces as ErrEtagMismatch.
type Writer interface {
	CreateEvent(ctx context.Context, userID string, ev Event) (Event, error)
	FetchEvent(ctx context.Context, userID, eventID string) (Event, error)
	UpdateEvent(ctx context.Context, userID string, ev Event) (Event, error)
	DeleteEvent(ctx context.Context, userID, eventID, etag string) error
}

// Sentinel errors for the calendar boundaries.
var (
	// ErrEventNotFound means the event no longer exists externally.
	ErrEventNotFound = errors.New("calendar: event not found")
	// ErrEtagMismatch means the stored etag lost an optimistic-concurrency
	// race with an external edit.
	ErrEtagMismatch = errors.New("calendar: etag mismatch")
	// ErrUnauthorized means calendar access was revoked. Rebuilds observe
	// revocation through this error; the engine never checks tokens itself.
	ErrUnauthorized = errors.New("calendar: unauthorized")
)

// ConflictError reports an etag divergence the import rules do not cover.
// The block is flagged sync_pending and skipped for this pass.
type ConflictError struct {
	BlockID string
	EventID string
	Message string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("SYNC_CONFLICT: %s (block=%s, event=%s)", e.Message, e.BlockID, e.EventID)
}

// IsSyncConflict reports whether err is a sync conflict.
// Uses errors.As to handle wrapped errors.
func IsSyncConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
