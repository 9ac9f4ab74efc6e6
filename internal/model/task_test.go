package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("t-1", "u-1", "api", "", "Write report", now)

	assert.Equal(t, StatusOpen, task.Status)
	assert.Equal(t, DefaultDurationMin, task.EstimatedDurationMin)
	assert.Equal(t, DefaultDurationConfidence, task.DurationConfidence)
	assert.Equal(t, CategoryUnknown, task.Category)
	assert.Equal(t, EnergyMedium, task.EnergyIntensity)
	assert.Equal(t, DefaultRiskScore, task.RiskScore)
	assert.Equal(t, DefaultImpactScore, task.ImpactScore)
	assert.False(t, task.AIExcluded)
	assert.Equal(t, now, task.CreatedAt)
}

func TestNewTask_DotTitleExcluded(t *testing.T) {
	now := time.Now()
	task := NewTask("t-1", "u-1", "api", "", ".meds", now)
	assert.True(t, task.AIExcluded)
}

func TestTitleExcluded(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  bool
	}{
		{"dot prefix", ".private", true},
		{"dot after space", "  .private", true},
		{"plain title", "buy milk", false},
		{"dot mid-title", "read ch.3", false},
		{"empty", "", false},
		{"lone dot", ".", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleExcluded(tt.title))
		})
	}
}

func TestTaskValidate_DurationBounds(t *testing.T) {
	now := time.Now()
	task := NewTask("t-1", "u-1", "api", "", "x", now)

	task.EstimatedDurationMin = MinDurationMin
	require.NoError(t, task.Validate(time.UTC))

	task.EstimatedDurationMin = MinDurationMin - 1
	require.Error(t, task.Validate(time.UTC))

	task.EstimatedDurationMin = MaxDurationMin
	require.NoError(t, task.Validate(time.UTC))

	task.EstimatedDurationMin = MaxDurationMin + 1
	require.Error(t, task.Validate(time.UTC))
}

func TestTaskValidate_StartAfterVsDeadline(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("t-1", "u-1", "api", "", "x", now)
	task.StartAfter = Date{Year: 2025, Month: time.June, Day: 10}
	task.Deadline = time.Date(2025, 6, 12, 17, 0, 0, 0, loc)
	require.NoError(t, task.Validate(loc))

	// Deadline before the start_after midnight is inconsistent.
	task.Deadline = time.Date(2025, 6, 9, 17, 0, 0, 0, loc)
	require.Error(t, task.Validate(loc))
}

func TestTaskValidate_FlexibilityWindowContainment(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("t-1", "u-1", "api", "", "x", now)
	task.FlexibilityWindow = Window{
		Start: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
	}
	require.NoError(t, task.Validate(time.UTC))

	// Deadline past the window end breaks containment.
	task.Deadline = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	require.Error(t, task.Validate(time.UTC))

	// Deadline inside the window is fine.
	task.Deadline = time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)
	require.NoError(t, task.Validate(time.UTC))
}

func TestWindow_Overlaps(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	w := Window{Start: base, End: base.Add(time.Hour)}

	// Half-open: touching intervals do not overlap.
	assert.False(t, w.Overlaps(Window{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}))
	assert.False(t, w.Overlaps(Window{Start: base.Add(-time.Hour), End: base}))
	assert.True(t, w.Overlaps(Window{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}))
	assert.True(t, w.Overlaps(Window{Start: base.Add(-time.Minute), End: base.Add(time.Minute)}))
}

func TestDate_Resolution(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := Date{Year: 2025, Month: time.June, Day: 10}
	midnight := d.In(loc)
	assert.Equal(t, "2025-06-10T00:00:00-04:00", midnight.Format(time.RFC3339))

	end := d.EndOfDayIn(loc)
	assert.Equal(t, "2025-06-11T00:00:00-04:00", end.Format(time.RFC3339))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.June, Day: 10}, d)

	_, err = ParseDate("June 10")
	require.Error(t, err)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.NewID()
	b := gen.NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
