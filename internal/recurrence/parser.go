package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// ParseError is a structured parse failure. Missing names the pieces of
// information the instruction lacked, so callers can surface a precise
// prompt instead of prose.
type ParseError struct {
	Message string
	Missing []string
}

func (e *ParseError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s (missing: %s)", e.Message, strings.Join(e.Missing, ", "))
	}
	return e.Message
}

// EntityKind distinguishes what a capture instruction creates.
type EntityKind string

const (
	// KindTaskSeries produces a recurring task series (schedulable work).
	KindTaskSeries EntityKind = "task_series"
	// KindTimeBlock produces a recurring reserved interval (never a task).
	KindTimeBlock EntityKind = "time_block"
)

// ParsedCapture is the structured result of parsing a capture instruction.
type ParsedCapture struct {
	Kind        EntityKind
	Title       string
	Preset      Preset
	DurationMin int
	AIExcluded  bool
}

var weekdayAliases = []struct {
	re  *regexp.Regexp
	day Weekday
}{
	{regexp.MustCompile(`(?i)\b(mon|monday)\b`), Monday},
	{regexp.MustCompile(`(?i)\b(tue|tues|tuesday)\b`), Tuesday},
	{regexp.MustCompile(`(?i)\b(wed|weds|wednesday)\b`), Wednesday},
	{regexp.MustCompile(`(?i)\b(thu|thur|thurs|thursday)\b`), Thursday},
	{regexp.MustCompile(`(?i)\b(fri|friday)\b`), Friday},
	{regexp.MustCompile(`(?i)\b(sat|saturday)\b`), Saturday},
	{regexp.MustCompile(`(?i)\b(sun|sunday)\b`), Sunday},
}

var (
	timeRe      = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	rangeRe     = regexp.MustCompile(`(?i)(.+?)\s*(?:to|-|\x{2013}|\x{2014})\s*(.+)`)
	atRe        = regexp.MustCompile(`(?i)\bat\s+(.+)$`)
	everyNRe    = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+(day|days|week|weeks|month|months|year|years)\b`)
	dailyRe     = regexp.MustCompile(`(?i)\bevery\s+day\b|\bdaily\b`)
	weeklyRe    = regexp.MustCompile(`(?i)\bevery\s+week\b|\bweekly\b|\bper\s+week\b`)
	monthlyRe   = regexp.MustCompile(`(?i)\bevery\s+month\b|\bmonthly\b`)
	yearlyRe    = regexp.MustCompile(`(?i)\bevery\s+year\b|\byearly\b|\bper\s+year\b|\bonce\s+per\s+year\b`)
	countWeekRe = regexp.MustCompile(`(?i)\b(\d+)\s*(?:x|times)\s*(?:per\s*)?week\b`)
	durMinRe    = regexp.MustCompile(`(?i)\bfor\s+(\d+(?:\.\d+)?)\s*(?:min|mins|minute|minutes)\b`)
	durHourRe   = regexp.MustCompile(`(?i)\bfor\s+(\d+(?:\.\d+)?)\s*(?:hr|hrs|hour|hours)\b`)
)

func extractWeekdays(text string) []Weekday {
	var out []Weekday
	for _, alias := range weekdayAliases {
		if alias.re.MatchString(text) {
			out = append(out, alias.day)
		}
	}
	return out
}

// timeContext steers the interpretation of ambiguous hour tokens.
type timeContext int

const (
	ctxRange timeContext = iota
	// ctxWeekdayTime interprets bare 1..7 as PM ("kids practice tue 4:30").
	ctxWeekdayTime
)

func parseTimeToken(token string, ctx timeContext) (ClockTime, error) {
	m := timeRe.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return ClockTime{}, &ParseError{Message: "could not parse time"}
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return ClockTime{}, &ParseError{Message: "invalid time"}
	}
	ampm := strings.ToLower(m[3])
	switch {
	case ampm != "":
		if hour == 12 {
			hour = 0
		}
		if ampm == "pm" {
			hour += 12
		}
	case ctx == ctxWeekdayTime && hour >= 1 && hour <= 7:
		hour += 12
	}
	if hour > 23 {
		return ClockTime{}, &ParseError{Message: "invalid time"}
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func extractTimeRange(text string) (start, end ClockTime, ok bool) {
	m := rangeRe.FindStringSubmatch(text)
	if m == nil {
		return ClockTime{}, ClockTime{}, false
	}
	t1, err := parseTimeToken(m[1], ctxRange)
	if err != nil {
		return ClockTime{}, ClockTime{}, false
	}
	t2, err := parseTimeToken(m[2], ctxRange)
	if err != nil {
		return ClockTime{}, ClockTime{}, false
	}
	return t1, t2, true
}

func extractDurationMin(text string) int {
	if m := durMinRe.FindStringSubmatch(text); m != nil {
		minutes, _ := strconv.ParseFloat(m[1], 64)
		if minutes < 1 {
			return 1
		}
		return int(minutes + 0.5)
	}
	if m := durHourRe.FindStringSubmatch(text); m != nil {
		hours, _ := strconv.ParseFloat(m[1], 64)
		minutes := int(hours*60 + 0.5)
		if minutes < 1 {
			return 1
		}
		return minutes
	}
	return 0
}

func detectWindow(text string) TimeOfDayWindow {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "wake up"), strings.Contains(t, "wakeup"), strings.Contains(t, "wake-up"):
		return WakeUp
	case strings.Contains(t, "morning"):
		return Morning
	case strings.Contains(t, "afternoon"):
		return Afternoon
	case strings.Contains(t, "evening"):
		return Evening
	case strings.Contains(t, "night"):
		return Night
	}
	return ""
}

// ParseCapture converts a casual instruction into a structured capture.
// It is fully deterministic: same input, same output or same structured
// error. No inference call is ever involved - this parser is the stable
// baseline even for users who allow AI.
//
// Supported shapes:
//
//	"bed time every day from 11pm to 7am"     -> daily time block
//	"kids practice tues at 4:30"              -> weekly time block
//	"take my vitamins every morning"          -> daily series, morning window
//	"go to the gym 3 times per week"          -> weekly series, count 3
//	"replace air filters every 3 months"      -> monthly series, interval 3
//	"flush water heater once per year"        -> yearly series
func ParseCapture(text string, today model.Date) (ParsedCapture, error) {
	raw := strings.TrimSpace(model.NormalizeText(text))
	if raw == "" {
		return ParsedCapture{}, &ParseError{Message: "instruction is required", Missing: []string{"instruction"}}
	}

	excluded := strings.HasPrefix(raw, ".")
	normalized := strings.TrimSpace(strings.TrimLeft(raw, "."))
	title := normalized

	weekdays := extractWeekdays(normalized)
	rangeStart, rangeEnd, hasRange := extractTimeRange(normalized)
	durationMin := extractDurationMin(normalized)

	// A weekday plus a bare time ("tues at 4:30", "tues and thurs 2:30pm")
	// means a reserved slot rather than flexible work.
	var weekdayTime *ClockTime
	if len(weekdays) > 0 {
		if m := atRe.FindStringSubmatch(normalized); m != nil {
			if t, err := parseTimeToken(m[1], ctxWeekdayTime); err == nil {
				weekdayTime = &t
			}
		}
		if weekdayTime == nil && !hasRange {
			if matches := timeRe.FindAllString(normalized, -1); len(matches) > 0 {
				if t, err := parseTimeToken(matches[len(matches)-1], ctxWeekdayTime); err == nil {
					weekdayTime = &t
				}
			}
		}
	}

	kind := KindTaskSeries
	if hasRange || (len(weekdays) > 0 && weekdayTime != nil) {
		kind = KindTimeBlock
	}

	var freq Frequency
	interval := 1
	if m := everyNRe.FindStringSubmatch(normalized); m != nil {
		interval, _ = strconv.Atoi(m[1])
		unit := strings.ToLower(m[2])
		switch {
		case strings.Contains(unit, "day"):
			freq = Daily
		case strings.Contains(unit, "week"):
			freq = Weekly
		case strings.Contains(unit, "month"):
			freq = Monthly
		case strings.Contains(unit, "year"):
			freq = Yearly
		}
	}
	if freq == "" {
		switch {
		case dailyRe.MatchString(normalized):
			freq = Daily
		case weeklyRe.MatchString(normalized):
			freq = Weekly
		case monthlyRe.MatchString(normalized):
			freq = Monthly
		case yearlyRe.MatchString(normalized):
			freq = Yearly
		}
	}
	if freq == "" {
		if len(weekdays) > 0 {
			freq = Weekly
		} else {
			freq = Daily
		}
	}

	countPerPeriod := 0
	if m := countWeekRe.FindStringSubmatch(normalized); m != nil {
		countPerPeriod, _ = strconv.Atoi(m[1])
		freq = Weekly
	}

	var window TimeOfDayWindow
	if kind == KindTaskSeries {
		window = detectWindow(normalized)
	}

	preset := Preset{
		Frequency:      freq,
		Interval:       interval,
		CountPerPeriod: countPerPeriod,
		Window:         window,
		StartDate:      today,
	}
	if freq == Weekly && len(weekdays) > 0 && countPerPeriod == 0 {
		preset.ByWeekday = weekdays
	}

	if kind == KindTimeBlock {
		switch {
		case hasRange:
			preset.TimeStart = &rangeStart
			preset.TimeEnd = &rangeEnd
		case weekdayTime != nil:
			preset.TimeStart = weekdayTime
			end := *weekdayTime
			if durationMin > 0 {
				end.Hour += durationMin / 60
				end.Minute += durationMin % 60
				if end.Minute >= 60 {
					end.Hour++
					end.Minute -= 60
				}
			} else {
				end.Hour++ // default one-hour slot
			}
			end.Hour %= 24
			preset.TimeEnd = &end
		default:
			return ParsedCapture{}, &ParseError{Message: "time block needs a start time", Missing: []string{"time_start"}}
		}
		if freq == Weekly && len(preset.ByWeekday) == 0 {
			if len(weekdays) == 0 {
				return ParsedCapture{}, &ParseError{Message: "weekly time block needs a weekday", Missing: []string{"by_weekday"}}
			}
			preset.ByWeekday = weekdays
		}
	}

	if err := preset.Validate(); err != nil {
		return ParsedCapture{}, err
	}

	return ParsedCapture{
		Kind:        kind,
		Title:       title,
		Preset:      preset,
		DurationMin: durationMin,
		AIExcluded:  excluded,
	}, nil
}
