package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	StatusOpen      TaskStatus = "open"
	StatusCompleted TaskStatus = "completed"
	// StatusMissed marks a recurrence occurrence whose window passed without
	// completion (habit roll-forward).
	StatusMissed TaskStatus = "missed"
)

// Category enumerates task categories. CategoryUnknown is the sentinel for
// "not yet categorized" - it is a real value, not an absent field.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryChild    Category = "child"
	CategoryFamily   Category = "family"
	CategoryHealth   Category = "health"
	CategoryPersonal Category = "personal"
	CategoryIdeas    Category = "ideas"
	CategoryHome     Category = "home"
	CategoryAdmin    Category = "admin"
	CategoryUnknown  Category = "unknown"
)

// ValidCategory reports whether c is one of the enumerated categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryWork, CategoryChild, CategoryFamily, CategoryHealth,
		CategoryPersonal, CategoryIdeas, CategoryHome, CategoryAdmin,
		CategoryUnknown:
		return true
	}
	return false
}

// EnergyIntensity enumerates the energy demand of a task.
// Reserved for future placement heuristics; the placer does not read it.
type EnergyIntensity string

const (
	EnergyLow    EnergyIntensity = "low"
	EnergyMedium EnergyIntensity = "medium"
	EnergyHigh   EnergyIntensity = "high"
)

// Task defaults and bounds.
const (
	DefaultDurationMin        = 30
	DefaultDurationConfidence = 0.5
	DefaultRiskScore          = 0.3
	DefaultImpactScore        = 0.3
	DefaultEnergy             = EnergyMedium

	MinDurationMin = 5
	MaxDurationMin = 600

	// DurationRoundingMin is the increment inferred durations are rounded to.
	DurationRoundingMin = 15

	// GranularityMin is the default scheduling slot size.
	GranularityMin = 30
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// Duration returns End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Contains reports whether [start, end) lies fully inside the window.
func (w Window) Contains(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}

// Overlaps reports whether the two half-open intervals intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Date is a civil date with no time-of-day or zone. StartAfter and DueBy are
// dates in the owner's calendar timezone; they resolve to instants only at
// rebuild time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its civil date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// In returns midnight of the date in the given location.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// EndOfDayIn returns the first instant of the following day in loc; the
// half-open end of the date's local day.
func (d Date) EndOfDayIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// Before reports whether d sorts before o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalJSON encodes the date as a "YYYY-MM-DD" string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Task is the canonical task record.
//
// INVARIANTS (enforced by Validate and the repository):
//   - exactly one owner (UserID)
//   - StartAfter <= Deadline when both set
//   - FlexibilityWindow contains [StartAfter, Deadline] when all set
//   - EstimatedDurationMin in [MinDurationMin, MaxDurationMin]
//   - the dependency graph across an owner's tasks is acyclic
type Task struct {
	ID     string
	UserID string

	// Provenance. SourceType is "api", "capture", "import" or "recurrence";
	// SourceID is the external identifier when imported.
	SourceType string
	SourceID   string

	Title string
	Notes string

	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	// DeletedAt is the soft-delete marker; zero means active.
	DeletedAt time.Time

	// Deadline is the hard due instant; the scheduler must not place the
	// task past it.
	Deadline time.Time
	// StartAfter is a user-local date; the task is not schedulable before
	// midnight of that date in the owner's timezone.
	StartAfter Date
	// DueBy is a soft user-local date affecting intra-tier urgency only.
	DueBy Date

	EstimatedDurationMin int
	DurationConfidence   float64

	Category        Category
	EnergyIntensity EnergyIntensity
	RiskScore       float64
	ImpactScore     float64

	// Dependencies lists task IDs that must be placed before this task.
	Dependencies []string

	// FlexibilityWindow, when set, must fully contain every placed block.
	FlexibilityWindow Window

	AIExcluded           bool
	ManualPriorityLocked bool
	UserLocked           bool
	ManuallyScheduled    bool

	// Recurrence linkage, set only for materialized occurrences.
	RecurrenceSeriesID        string
	RecurrenceOccurrenceStart time.Time

	// Tier is the last recorded governing tier (0 = never assigned).
	// Frozen while ManualPriorityLocked is set.
	Tier int
}

// Deleted reports whether the task is soft-deleted.
func (t *Task) Deleted() bool { return !t.DeletedAt.IsZero() }

// Duration returns the estimated duration.
func (t *Task) Duration() time.Duration {
	return time.Duration(t.EstimatedDurationMin) * time.Minute
}

// Validate checks the task's closed-form invariants. The owner's calendar
// location resolves the date-only fields for cross-field comparisons.
// Cross-task invariants (dependency acyclicity, dedupe) are the repository's
// responsibility.
func (t *Task) Validate(loc *time.Location) error {
	if t.ID == "" {
		return fmt.Errorf("task: missing id")
	}
	if t.UserID == "" {
		return fmt.Errorf("task %s: missing owner", t.ID)
	}
	if t.Title == "" {
		return fmt.Errorf("task %s: missing title", t.ID)
	}
	if t.EstimatedDurationMin < MinDurationMin || t.EstimatedDurationMin > MaxDurationMin {
		return fmt.Errorf("task %s: duration %d min outside [%d, %d]",
			t.ID, t.EstimatedDurationMin, MinDurationMin, MaxDurationMin)
	}
	if t.RiskScore < 0 || t.RiskScore > 1 {
		return fmt.Errorf("task %s: risk score %.2f outside [0, 1]", t.ID, t.RiskScore)
	}
	if t.ImpactScore < 0 || t.ImpactScore > 1 {
		return fmt.Errorf("task %s: impact score %.2f outside [0, 1]", t.ID, t.ImpactScore)
	}
	if t.DurationConfidence < 0 || t.DurationConfidence > 1 {
		return fmt.Errorf("task %s: duration confidence %.2f outside [0, 1]", t.ID, t.DurationConfidence)
	}
	if !ValidCategory(t.Category) {
		return fmt.Errorf("task %s: invalid category %q", t.ID, t.Category)
	}
	if loc == nil {
		loc = time.UTC
	}
	var startAfter time.Time
	if !t.StartAfter.IsZero() {
		startAfter = t.StartAfter.In(loc)
	}
	if !t.Deadline.IsZero() && !startAfter.IsZero() && t.Deadline.Before(startAfter) {
		return fmt.Errorf("task %s: start_after %s is past deadline %s",
			t.ID, t.StartAfter, t.Deadline.Format(time.RFC3339))
	}
	if !t.FlexibilityWindow.IsZero() {
		fw := t.FlexibilityWindow
		if !fw.Start.Before(fw.End) {
			return fmt.Errorf("task %s: flexibility window start not before end", t.ID)
		}
		if !startAfter.IsZero() && startAfter.Before(fw.Start) {
			return fmt.Errorf("task %s: flexibility window excludes start_after %s", t.ID, t.StartAfter)
		}
		if !t.Deadline.IsZero() && fw.End.Before(t.Deadline) {
			return fmt.Errorf("task %s: flexibility window ends before deadline %s",
				t.ID, t.Deadline.Format(time.RFC3339))
		}
	}
	return nil
}

// NewTask builds a task with defaults applied, the single construction path
// used by the API surface, the capture parser, imports and the materializer.
// AI exclusion is derived from the title prefix unless explicitly set by the
// caller afterwards.
func NewTask(id, userID, sourceType, sourceID, title string, now time.Time) Task {
	return Task{
		ID:                   id,
		UserID:               userID,
		SourceType:           sourceType,
		SourceID:             sourceID,
		Title:                title,
		Status:               StatusOpen,
		CreatedAt:            now,
		UpdatedAt:            now,
		EstimatedDurationMin: DefaultDurationMin,
		DurationConfidence:   DefaultDurationConfidence,
		Category:             CategoryUnknown,
		EnergyIntensity:      DefaultEnergy,
		RiskScore:            DefaultRiskScore,
		ImpactScore:          DefaultImpactScore,
		AIExcluded:           TitleExcluded(title),
	}
}
