package recurrence

import (
	"fmt"
	"strings"
)

var rruleWeekday = map[Weekday]string{
	Monday:    "MO",
	Tuesday:   "TU",
	Wednesday: "WE",
	Thursday:  "TH",
	Friday:    "FR",
	Saturday:  "SA",
	Sunday:    "SU",
}

var rruleFreq = map[Frequency]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

// RRule renders the preset as an iCalendar RRULE value (without the leading
// "RRULE:" prefix). Export-only: presets are never parsed back from RRULE.
func RRule(p Preset) string {
	parts := []string{"FREQ=" + rruleFreq[p.Frequency]}
	if p.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", p.Interval))
	}
	if len(p.ByWeekday) > 0 {
		days := make([]string, len(p.ByWeekday))
		for i, d := range p.ByWeekday {
			days[i] = rruleWeekday[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	// UNTIL is rendered as the last second of the until date in UTC
	// (YYYYMMDDT235959Z).
	if !p.UntilDate.IsZero() {
		parts = append(parts, fmt.Sprintf("UNTIL=%04d%02d%02dT235959Z",
			p.UntilDate.Year, int(p.UntilDate.Month), p.UntilDate.Day))
	}
	return strings.Join(parts, ";")
}
