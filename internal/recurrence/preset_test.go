package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

func date(y int, m time.Month, d int) model.Date {
	return model.Date{Year: y, Month: m, Day: d}
}

func TestPreset_EncodeDecodeRoundTrip(t *testing.T) {
	start := ClockTime{Hour: 23}
	end := ClockTime{Hour: 7}
	p := Preset{
		Frequency: Weekly,
		Interval:  2,
		ByWeekday: []Weekday{Monday, Thursday},
		TimeStart: &start,
		TimeEnd:   &end,
		StartDate: date(2025, time.June, 1),
	}
	raw, err := p.Encode()
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPreset_DecodeDefaultsInterval(t *testing.T) {
	got, err := Decode([]byte(`{"frequency":"daily"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Interval)
}

func TestPreset_Validate(t *testing.T) {
	tests := []struct {
		name    string
		preset  Preset
		wantErr bool
	}{
		{"valid daily", Preset{Frequency: Daily, Interval: 1}, false},
		{"zero interval", Preset{Frequency: Daily, Interval: 0}, true},
		{"bad frequency", Preset{Frequency: "hourly", Interval: 1}, true},
		{"until before start", Preset{
			Frequency: Daily, Interval: 1,
			StartDate: date(2025, time.June, 10),
			UntilDate: date(2025, time.June, 1),
		}, true},
		{"duplicate weekday", Preset{
			Frequency: Weekly, Interval: 1,
			ByWeekday: []Weekday{Monday, Monday},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.preset.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPreset_OccursOn(t *testing.T) {
	anchor := date(2025, time.June, 2) // a Monday

	tests := []struct {
		name   string
		preset Preset
		day    model.Date
		want   bool
	}{
		{"daily on anchor", Preset{Frequency: Daily, Interval: 1, StartDate: anchor}, anchor, true},
		{"daily next day", Preset{Frequency: Daily, Interval: 1, StartDate: anchor}, anchor.AddDays(1), true},
		{"every 3 days hit", Preset{Frequency: Daily, Interval: 3, StartDate: anchor}, anchor.AddDays(6), true},
		{"every 3 days miss", Preset{Frequency: Daily, Interval: 3, StartDate: anchor}, anchor.AddDays(4), false},
		{"before start", Preset{Frequency: Daily, Interval: 1, StartDate: anchor}, anchor.AddDays(-1), false},
		{"past until", Preset{
			Frequency: Daily, Interval: 1, StartDate: anchor,
			UntilDate: anchor.AddDays(3),
		}, anchor.AddDays(4), false},
		{"weekly by weekday hit", Preset{
			Frequency: Weekly, Interval: 1, StartDate: anchor,
			ByWeekday: []Weekday{Wednesday},
		}, anchor.AddDays(2), true},
		{"weekly by weekday miss", Preset{
			Frequency: Weekly, Interval: 1, StartDate: anchor,
			ByWeekday: []Weekday{Wednesday},
		}, anchor.AddDays(3), false},
		{"biweekly off week", Preset{
			Frequency: Weekly, Interval: 2, StartDate: anchor,
			ByWeekday: []Weekday{Monday},
		}, anchor.AddDays(7), false},
		{"biweekly on week", Preset{
			Frequency: Weekly, Interval: 2, StartDate: anchor,
			ByWeekday: []Weekday{Monday},
		}, anchor.AddDays(14), true},
		{"monthly same dom", Preset{Frequency: Monthly, Interval: 1, StartDate: anchor}, date(2025, time.July, 2), true},
		{"monthly other dom", Preset{Frequency: Monthly, Interval: 1, StartDate: anchor}, date(2025, time.July, 3), false},
		{"quarterly hit", Preset{Frequency: Monthly, Interval: 3, StartDate: anchor}, date(2025, time.September, 2), true},
		{"quarterly miss", Preset{Frequency: Monthly, Interval: 3, StartDate: anchor}, date(2025, time.August, 2), false},
		{"yearly hit", Preset{Frequency: Yearly, Interval: 1, StartDate: anchor}, date(2026, time.June, 2), true},
		{"yearly miss", Preset{Frequency: Yearly, Interval: 1, StartDate: anchor}, date(2026, time.June, 3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.preset.OccursOn(tt.day))
		})
	}
}

func TestWindowOn_Night_SpansMidnight(t *testing.T) {
	w, ok := WindowOn(Night, date(2025, time.June, 2), time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC), w.End)
}

func TestWindowOn_Morning(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	w, ok := WindowOn(Morning, date(2025, time.June, 2), loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 2, 6, 30, 0, 0, loc), w.Start)
	assert.Equal(t, time.Date(2025, 6, 2, 11, 0, 0, 0, loc), w.End)
}

func TestRRule(t *testing.T) {
	tests := []struct {
		name   string
		preset Preset
		want   string
	}{
		{"daily", Preset{Frequency: Daily, Interval: 1}, "FREQ=DAILY"},
		{"every 3 months", Preset{Frequency: Monthly, Interval: 3}, "FREQ=MONTHLY;INTERVAL=3"},
		{"weekly mwf", Preset{
			Frequency: Weekly, Interval: 1,
			ByWeekday: []Weekday{Monday, Wednesday, Friday},
		}, "FREQ=WEEKLY;BYDAY=MO,WE,FR"},
		{"with until", Preset{
			Frequency: Daily, Interval: 1,
			UntilDate: date(2025, time.December, 31),
		}, "FREQ=DAILY;UNTIL=20251231T235959Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RRule(tt.preset))
		})
	}
}
