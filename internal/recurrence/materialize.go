package recurrence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// SeriesStore is the slice of the repository the materializer reads series
// from.
type SeriesStore interface {
	ListActiveSeries(ctx context.Context, userID string) ([]model.RecurringTaskSeries, error)
}

// OccurrenceStore is the slice of the repository the materializer reads and
// writes task occurrences through. CreateOccurrence must be idempotent on
// the (user, series, occurrence start) dedupe key, returning false when the
// occurrence already exists.
type OccurrenceStore interface {
	OpenSeriesOccurrences(ctx context.Context, userID, seriesID string) ([]model.Task, error)
	OpenOccurrencesEndedBefore(ctx context.Context, userID string, before time.Time) ([]model.Task, error)
	MarkOccurrenceMissed(ctx context.Context, userID, taskID, rebuildID string, now time.Time) error
	CreateOccurrence(ctx context.Context, task model.Task) (created bool, err error)
}

// Materializer expands recurring task series into concrete occurrences for
// a scheduling horizon.
//
// Habit (non-accumulating) semantics: at most one open occurrence exists per
// series at any time; an open occurrence whose window has passed flips to
// missed, and exactly the next upcoming occurrence is created. Idempotent:
// re-running within the same horizon creates nothing new.
type Materializer struct {
	series SeriesStore
	tasks  OccurrenceStore
	ids    model.IDGenerator
}

// NewMaterializer wires a materializer over the repository slices.
func NewMaterializer(series SeriesStore, tasks OccurrenceStore, ids model.IDGenerator) *Materializer {
	return &Materializer{series: series, tasks: tasks, ids: ids}
}

// Run materializes occurrences for every active series of the user inside
// [windowStart, windowEnd). Occurrence starts are local midnights in loc.
// Returns the number of tasks created.
func (m *Materializer) Run(ctx context.Context, userID, rebuildID string, windowStart, windowEnd time.Time, loc *time.Location) (int, error) {
	// Habit roll-forward: open occurrences whose window closed before the
	// horizon flip to missed before anything new is created.
	past, err := m.tasks.OpenOccurrencesEndedBefore(ctx, userID, windowStart)
	if err != nil {
		return 0, fmt.Errorf("materialize: list past occurrences: %w", err)
	}
	for _, t := range past {
		if err := m.tasks.MarkOccurrenceMissed(ctx, userID, t.ID, rebuildID, windowStart); err != nil {
			slog.Warn("mark occurrence missed failed",
				"user_id", userID, "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("occurrence missed",
			"user_id", userID, "task_id", t.ID, "series_id", t.RecurrenceSeriesID)
	}

	seriesRows, err := m.series.ListActiveSeries(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("materialize: list series: %w", err)
	}

	startDay := model.DateOf(windowStart.In(loc))
	endDay := model.DateOf(windowEnd.In(loc))

	created := 0
	for _, s := range seriesRows {
		preset, err := Decode(s.Preset)
		if err != nil {
			slog.Warn("skipping series with invalid preset",
				"user_id", userID, "series_id", s.ID, "error", err)
			continue
		}

		// At most one open occurrence per series.
		open, err := m.tasks.OpenSeriesOccurrences(ctx, userID, s.ID)
		if err != nil {
			return created, fmt.Errorf("materialize: open occurrences for series %s: %w", s.ID, err)
		}
		if len(open) > 0 {
			continue
		}

		day, ok := m.nextOccurrenceDay(preset, startDay, endDay)
		if !ok {
			// No window in horizon: nothing materialized, nothing missed.
			continue
		}

		task := m.occurrenceTask(&s, preset, day, loc, windowStart)
		wasCreated, err := m.tasks.CreateOccurrence(ctx, task)
		if err != nil {
			return created, fmt.Errorf("materialize: create occurrence for series %s: %w", s.ID, err)
		}
		if wasCreated {
			created++
			slog.Info("occurrence materialized",
				"user_id", userID, "series_id", s.ID, "task_id", task.ID,
				"occurrence_start", task.RecurrenceOccurrenceStart)
		}
	}
	return created, nil
}

// nextOccurrenceDay finds the first day in [startDay, endDay) the preset
// fires on. For "N times per week" presets the days of the first active week
// are spread evenly and the earliest eligible pick wins.
func (m *Materializer) nextOccurrenceDay(p Preset, startDay, endDay model.Date) (model.Date, bool) {
	if p.Frequency == Weekly && p.CountPerPeriod > 0 {
		return m.nextCountPerWeekDay(p, startDay, endDay)
	}
	for day := startDay; day.Before(endDay); day = day.AddDays(1) {
		if p.OccursOn(day) {
			return day, true
		}
	}
	return model.Date{}, false
}

// nextCountPerWeekDay groups horizon days by ISO week, filters to the
// preset's active weeks, spreads N picks across the first active week and
// returns the earliest pick.
func (m *Materializer) nextCountPerWeekDay(p Preset, startDay, endDay model.Date) (model.Date, bool) {
	anchor := p.StartDate
	if anchor.IsZero() {
		anchor = startDay
	}
	anchorT := anchor.In(time.UTC)

	var week []model.Date
	var weekKey [2]int
	for day := startDay; day.Before(endDay); day = day.AddDays(1) {
		if !p.StartDate.IsZero() && day.Before(p.StartDate) {
			continue
		}
		if !p.UntilDate.IsZero() && p.UntilDate.Before(day) {
			continue
		}
		dayT := day.In(time.UTC)
		weekDelta := int(dayT.Sub(anchorT).Hours()/24) / 7
		if weekDelta < 0 || weekDelta%p.Interval != 0 {
			continue
		}
		year, isoWeek := dayT.ISOWeek()
		key := [2]int{year, isoWeek}
		if len(week) == 0 {
			weekKey = key
		}
		if key != weekKey {
			break // only the first active week matters for the next pick
		}
		week = append(week, day)
	}
	if len(week) == 0 {
		return model.Date{}, false
	}
	picks := spreadDays(week, p.CountPerPeriod)
	if len(picks) == 0 {
		return model.Date{}, false
	}
	return picks[0], true
}

// spreadDays picks n days from a sorted list at evenly spaced indices,
// resolving collisions by scanning for the nearest unused day. Deterministic
// for a given input.
func spreadDays(days []model.Date, n int) []model.Date {
	if n <= 0 {
		return nil
	}
	if len(days) <= n {
		return days
	}
	step := 0.0
	if n > 1 {
		step = float64(len(days)-1) / float64(n-1)
	}
	used := make(map[model.Date]bool, n)
	picks := make([]model.Date, 0, n)
	for i := 0; i < n; i++ {
		idx := 0
		if n > 1 {
			idx = int(float64(i)*step + 0.5)
		}
		if idx > len(days)-1 {
			idx = len(days) - 1
		}
		d := days[idx]
		if used[d] {
			j := idx
			for j < len(days) && used[days[j]] {
				j++
			}
			if j >= len(days) {
				j = idx
				for j >= 0 && used[days[j]] {
					j--
				}
			}
			if j >= 0 && j < len(days) {
				d = days[j]
			}
		}
		used[d] = true
		picks = append(picks, d)
	}
	// Re-sort: collision resolution can pick out of order.
	for i := 1; i < len(picks); i++ {
		for j := i; j > 0 && picks[j].Before(picks[j-1]); j-- {
			picks[j], picks[j-1] = picks[j-1], picks[j]
		}
	}
	return picks
}

// occurrenceTask builds the concrete task for one occurrence day.
func (m *Materializer) occurrenceTask(s *model.RecurringTaskSeries, p Preset, day model.Date, loc *time.Location, now time.Time) model.Task {
	task := model.NewTask(m.ids.NewID(), s.UserID, "recurrence", s.ID, s.TitleTemplate, now)
	task.Notes = s.NotesTemplate
	if s.EstimatedDurationMinDefault > 0 {
		task.EstimatedDurationMin = s.EstimatedDurationMinDefault
	}
	if s.CategoryDefault != "" {
		task.Category = s.CategoryDefault
	}
	// Exclusion is inherited from the series, on top of any title-derived
	// exclusion NewTask already applied.
	if s.AIExcluded {
		task.AIExcluded = true
	}
	task.RecurrenceSeriesID = s.ID
	task.RecurrenceOccurrenceStart = day.In(loc)
	if p.Window != "" {
		if w, ok := WindowOn(p.Window, day, loc); ok {
			task.FlexibilityWindow = w
		}
	}
	return task
}
