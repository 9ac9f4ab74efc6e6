package engine

import (
	"sort"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// buildFreeList subtracts every busy interval from the horizon and returns
// the free time as a normalized list: half-open, ordered by start,
// non-overlapping, non-empty.
//
// Busy input may be unordered and overlapping; external calendars routinely
// hand back both.
func buildFreeList(horizon model.Window, busy []model.Window) []model.Window {
	free := []model.Window{horizon}
	for _, b := range normalizeBusy(busy) {
		free = subtractInterval(free, b)
	}
	return free
}

// normalizeBusy sorts busy intervals and merges overlapping or touching
// ones.
func normalizeBusy(busy []model.Window) []model.Window {
	var in []model.Window
	for _, b := range busy {
		if b.Start.Before(b.End) {
			in = append(in, b)
		}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	var out []model.Window
	for _, b := range in {
		if len(out) > 0 && !b.Start.After(out[len(out)-1].End) {
			if b.End.After(out[len(out)-1].End) {
				out[len(out)-1].End = b.End
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

// subtractInterval removes one busy interval from an already-normalized
// free list.
func subtractInterval(free []model.Window, busy model.Window) []model.Window {
	var out []model.Window
	for _, f := range free {
		if !f.Overlaps(busy) {
			out = append(out, f)
			continue
		}
		if f.Start.Before(busy.Start) {
			out = append(out, model.Window{Start: f.Start, End: busy.Start})
		}
		if busy.End.Before(f.End) {
			out = append(out, model.Window{Start: busy.End, End: f.End})
		}
	}
	return out
}

// clipFree restricts the free list to [earliest, latest), dropping slivers
// shorter than minSpan. The placer never looks at intervals it could not
// put at least one chunk in.
func clipFree(free []model.Window, earliest, latest time.Time, minSpan time.Duration) []model.Window {
	var out []model.Window
	for _, f := range free {
		start, end := f.Start, f.End
		if start.Before(earliest) {
			start = earliest
		}
		if end.After(latest) {
			end = latest
		}
		if start.Before(end) && end.Sub(start) >= minSpan {
			out = append(out, model.Window{Start: start, End: end})
		}
	}
	return out
}

// totalSpan sums interval lengths.
func totalSpan(intervals []model.Window) time.Duration {
	var sum time.Duration
	for _, iv := range intervals {
		sum += iv.Duration()
	}
	return sum
}
