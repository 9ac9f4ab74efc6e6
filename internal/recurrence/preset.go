// Package recurrence defines recurrence presets, the deterministic capture
// parser, series materialization, and RRULE export.
//
// Presets are the canonical internal representation of "repeats": users
// never write RRULE strings; RRULE exists only as an export format for the
// external calendar. Everything here is deterministic - the same input
// always produces the same preset, the same occurrence list, the same
// structured error.
package recurrence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// Frequency enumerates recurrence cadences.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Weekday enumerates days of the week in preset order.
type Weekday string

const (
	Monday    Weekday = "mo"
	Tuesday   Weekday = "tu"
	Wednesday Weekday = "we"
	Thursday  Weekday = "th"
	Friday    Weekday = "fr"
	Saturday  Weekday = "sa"
	Sunday    Weekday = "su"
)

// weekdayOf maps time.Weekday to the preset enum.
func weekdayOf(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// TimeOfDayWindow names a local-time slice of the day. For task series the
// window becomes a flexibility window on each materialized occurrence.
type TimeOfDayWindow string

const (
	WakeUp    TimeOfDayWindow = "wake_up"
	Morning   TimeOfDayWindow = "morning"
	Afternoon TimeOfDayWindow = "afternoon"
	Evening   TimeOfDayWindow = "evening"
	Night     TimeOfDayWindow = "night"
)

// ClockTime is a time of day with no date or zone.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// IsZero reports whether the clock time is unset. Midnight (00:00) also
// reports true.
func (c ClockTime) IsZero() bool { return c.Hour == 0 && c.Minute == 0 }

// On combines the clock time with a civil date in loc.
func (c ClockTime) On(d model.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// windowBounds maps each named window to local start/end clock times.
// Night spans midnight; its end lands on the following day.
var windowBounds = map[TimeOfDayWindow][2]ClockTime{
	WakeUp:    {{Hour: 5}, {Hour: 6, Minute: 30}},
	Morning:   {{Hour: 6, Minute: 30}, {Hour: 11}},
	Afternoon: {{Hour: 11}, {Hour: 17}},
	Evening:   {{Hour: 17}, {Hour: 21}},
	Night:     {{Hour: 21}, {Hour: 2}},
}

// WindowOn resolves a named window to a concrete interval on the given local
// day. An end at or before the start rolls to the next day.
func WindowOn(w TimeOfDayWindow, day model.Date, loc *time.Location) (model.Window, bool) {
	bounds, ok := windowBounds[w]
	if !ok {
		return model.Window{}, false
	}
	start := bounds[0].On(day, loc)
	end := bounds[1].On(day, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return model.Window{Start: start, End: end}, true
}

// Preset is the structured recurrence definition.
type Preset struct {
	Frequency Frequency `json:"frequency"`
	// Interval means every N units (days/weeks/months/years). Minimum 1.
	Interval int `json:"interval"`

	// ByWeekday restricts weekly recurrence to specific days.
	ByWeekday []Weekday `json:"by_weekday,omitempty"`
	// CountPerPeriod expresses patterns like "3 times per week".
	CountPerPeriod int `json:"count_per_period,omitempty"`

	// TimeStart/TimeEnd bound recurring time blocks; the range may span
	// midnight when end <= start.
	TimeStart *ClockTime `json:"time_start,omitempty"`
	TimeEnd   *ClockTime `json:"time_end,omitempty"`

	// Window is the named time-of-day window for task series.
	Window TimeOfDayWindow `json:"time_of_day_window,omitempty"`

	StartDate model.Date `json:"start_date,omitzero"`
	UntilDate model.Date `json:"until_date,omitzero"`
}

// Validate checks preset consistency.
func (p *Preset) Validate() error {
	switch p.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("preset: invalid frequency %q", p.Frequency)
	}
	if p.Interval < 1 {
		return fmt.Errorf("preset: interval %d < 1", p.Interval)
	}
	if p.CountPerPeriod < 0 {
		return fmt.Errorf("preset: negative count per period")
	}
	if !p.UntilDate.IsZero() && !p.StartDate.IsZero() && p.UntilDate.Before(p.StartDate) {
		return fmt.Errorf("preset: until %s before start %s", p.UntilDate, p.StartDate)
	}
	seen := map[Weekday]bool{}
	for _, d := range p.ByWeekday {
		if seen[d] {
			return fmt.Errorf("preset: duplicate weekday %q", d)
		}
		seen[d] = true
	}
	return nil
}

// Encode serializes the preset to its stored JSON form.
func (p *Preset) Encode() (model.RecurrencePresetJSON, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode preset: %w", err)
	}
	return raw, nil
}

// Decode parses a stored preset.
func Decode(raw model.RecurrencePresetJSON) (Preset, error) {
	var p Preset
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preset{}, fmt.Errorf("decode preset: %w", err)
	}
	if p.Interval == 0 {
		p.Interval = 1
	}
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// OccursOn reports whether the preset fires on the given civil day.
// Day-of-month and day-of-year anchoring follows the start date.
func (p *Preset) OccursOn(day model.Date) bool {
	if !p.StartDate.IsZero() && day.Before(p.StartDate) {
		return false
	}
	if !p.UntilDate.IsZero() && p.UntilDate.Before(day) {
		return false
	}

	anchor := p.StartDate
	if anchor.IsZero() {
		anchor = day
	}
	anchorT := anchor.In(time.UTC)
	dayT := day.In(time.UTC)

	switch p.Frequency {
	case Daily:
		delta := int(dayT.Sub(anchorT).Hours() / 24)
		return delta >= 0 && delta%p.Interval == 0

	case Weekly:
		weeks := int(dayT.Sub(anchorT).Hours()/24) / 7
		if weeks < 0 || weeks%p.Interval != 0 {
			return false
		}
		if len(p.ByWeekday) > 0 {
			want := weekdayOf(dayT.Weekday())
			for _, d := range p.ByWeekday {
				if d == want {
					return true
				}
			}
			return false
		}
		return true

	case Monthly:
		if day.Day != anchor.Day {
			return false
		}
		months := (day.Year-anchor.Year)*12 + int(day.Month) - int(anchor.Month)
		return months >= 0 && months%p.Interval == 0

	case Yearly:
		if day.Month != anchor.Month || day.Day != anchor.Day {
			return false
		}
		years := day.Year - anchor.Year
		return years >= 0 && years%p.Interval == 0
	}
	return false
}
