package model

import (
	"fmt"
	"time"
)

// RecurringTaskSeries is a template that the materializer expands into
// concrete task occurrences.
//
// Default semantics are habit (non-accumulating): at most one open
// occurrence exists per series, past-window open occurrences flip to missed,
// and only the next upcoming occurrence is materialized. Occurrences are
// keyed by (user, series, occurrence start) so materialization is
// idempotent.
type RecurringTaskSeries struct {
	ID     string
	UserID string

	TitleTemplate string
	NotesTemplate string

	EstimatedDurationMinDefault int
	CategoryDefault             Category

	// Preset is the structured recurrence definition, stored as JSON.
	Preset RecurrencePresetJSON

	// AIExcluded is inherited by every materialized occurrence.
	AIExcluded bool

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt time.Time
}

// RecurrencePresetJSON is the stored form of a recurrence preset. The
// recurrence package owns the decoded type; the model keeps the raw bytes so
// store round-trips never reinterpret the preset.
type RecurrencePresetJSON []byte

// Deleted reports whether the series is soft-deleted.
func (s *RecurringTaskSeries) Deleted() bool { return !s.DeletedAt.IsZero() }

// Validate checks the series record.
func (s *RecurringTaskSeries) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("series: missing id")
	}
	if s.UserID == "" {
		return fmt.Errorf("series %s: missing owner", s.ID)
	}
	if s.TitleTemplate == "" {
		return fmt.Errorf("series %s: missing title template", s.ID)
	}
	if d := s.EstimatedDurationMinDefault; d != 0 && (d < MinDurationMin || d > MaxDurationMin) {
		return fmt.Errorf("series %s: default duration %d min outside [%d, %d]",
			s.ID, d, MinDurationMin, MaxDurationMin)
	}
	if len(s.Preset) == 0 {
		return fmt.Errorf("series %s: missing recurrence preset", s.ID)
	}
	return nil
}

// RecurringTimeBlock is a repeating reserved interval (a standing meeting,
// school run, gym slot). It is never a schedulable task; the availability
// builder subtracts its occurrences from the free list.
type RecurringTimeBlock struct {
	ID     string
	UserID string

	Title  string
	Preset RecurrencePresetJSON

	// CalendarEventID links the recurring master event in the external
	// calendar, when one exists.
	CalendarEventID string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt time.Time
}

// Deleted reports whether the time block is soft-deleted.
func (b *RecurringTimeBlock) Deleted() bool { return !b.DeletedAt.IsZero() }
