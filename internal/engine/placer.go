package engine

import (
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// OverflowReason is the structured reason a task could not be placed.
type OverflowReason string

const (
	// OverflowNoCapacity: not enough free time in the horizon.
	OverflowNoCapacity OverflowReason = "no_capacity"
	// OverflowDeadlineUnreachable: free time exists, but not before the
	// deadline.
	OverflowDeadlineUnreachable OverflowReason = "deadline_unreachable"
	// OverflowFlexWindowEmpty: the flexibility window holds no usable free
	// time.
	OverflowFlexWindowEmpty OverflowReason = "flex_window_empty"
	// OverflowDepUnplaced: a dependency is itself overflow or unplaced.
	OverflowDepUnplaced OverflowReason = "dep_unplaced"
)

// Overflow is the per-task outcome when no feasible placement exists. An
// ordinary result variant, not an error: overflow records are first-class
// output of every rebuild.
type Overflow struct {
	TaskID string
	Reason OverflowReason
}

// placement is a successful placer outcome: one or more intervals whose
// durations sum to the task duration, plus the fit reason token.
type placement struct {
	intervals []model.Window
	fitReason string
}

// placer walks tasks in rank order and carves their time out of the free
// list. It tracks where each task ends so dependents start no earlier.
type placer struct {
	free        []model.Window
	granularity time.Duration
	horizonEnd  time.Time

	// endOf maps task ID -> placement end, seeded with locked and
	// user-scheduled block ends so dependents of pinned work order
	// correctly.
	endOf map[string]time.Time

	// unplaced holds IDs of open tasks that have not (yet) been placed.
	// Tasks are removed as they place; whatever a dependent finds here is
	// overflow or later in rank order - either way dep_unplaced.
	unplaced map[string]bool
}

func newPlacer(free []model.Window, granularity time.Duration, horizonEnd time.Time) *placer {
	return &placer{
		free:        free,
		granularity: granularity,
		horizonEnd:  horizonEnd,
		endOf:       map[string]time.Time{},
		unplaced:    map[string]bool{},
	}
}

// place computes the earliest feasible placement for one task, or the
// overflow reason when none exists. On success the placed intervals are
// subtracted from the free list.
func (p *placer) place(t *model.Task, now time.Time, loc *time.Location) (placement, *Overflow) {
	// Dependencies force order: every dependency must already have an end.
	earliest := now
	var depEnds []time.Time
	for _, dep := range t.Dependencies {
		if p.unplaced[dep] {
			return placement{}, &Overflow{TaskID: t.ID, Reason: OverflowDepUnplaced}
		}
		if end, ok := p.endOf[dep]; ok {
			depEnds = append(depEnds, end)
			if end.After(earliest) {
				earliest = end
			}
		}
	}

	if !t.StartAfter.IsZero() {
		if sa := t.StartAfter.In(loc); sa.After(earliest) {
			earliest = sa
		}
	}
	if !t.FlexibilityWindow.IsZero() && t.FlexibilityWindow.Start.After(earliest) {
		earliest = t.FlexibilityWindow.Start
	}

	latest := p.horizonEnd
	deadlineClipped := false
	if !t.Deadline.IsZero() && t.Deadline.Before(latest) {
		latest = t.Deadline
		deadlineClipped = true
	}
	if !t.FlexibilityWindow.IsZero() && t.FlexibilityWindow.End.Before(latest) {
		latest = t.FlexibilityWindow.End
		deadlineClipped = false
	}

	duration := t.Duration()
	if !earliest.Before(latest) || latest.Sub(earliest) < duration {
		return placement{}, &Overflow{TaskID: t.ID, Reason: p.overflowReason(t, deadlineClipped)}
	}

	// Every candidate interval must hold at least one whole slot. A
	// sub-slot task occupies a slot-worthy interval but consumes only its
	// duration - the remainder stays reservable.
	candidates := clipFree(p.free, earliest, latest, p.granularity)

	// A dependent never starts in the sliver its dependency just vacated:
	// it takes the next interval instead. Intervals beginning exactly at a
	// dependency's end are the vacated slivers.
	if len(depEnds) > 0 {
		kept := candidates[:0]
		for _, c := range candidates {
			vacated := false
			for _, end := range depEnds {
				if c.Start.Equal(end) {
					vacated = true
					break
				}
			}
			if !vacated {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	if len(candidates) == 0 || totalSpan(candidates) < duration {
		return placement{}, &Overflow{TaskID: t.ID, Reason: p.overflowReason(t, deadlineClipped)}
	}

	// Contiguous first: the earliest single interval that fits whole.
	for _, c := range candidates {
		if c.Duration() >= duration {
			pl := placement{
				intervals: []model.Window{{Start: c.Start, End: c.Start.Add(duration)}},
				fitReason: "earliest_fit",
			}
			p.commit(t.ID, pl.intervals)
			return pl, nil
		}
	}

	// Split across intervals: chunks of at least one slot each, summing to
	// the task duration. A chunk never strands a sub-slot remainder - it
	// shrinks so the tail stays placeable.
	var chunks []model.Window
	remaining := duration
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		chunk := remaining
		if span := c.Duration(); chunk > span {
			chunk = span
		}
		if tail := remaining - chunk; tail > 0 && tail < p.granularity {
			chunk = remaining - p.granularity
		}
		if chunk < p.granularity {
			continue
		}
		chunks = append(chunks, model.Window{Start: c.Start, End: c.Start.Add(chunk)})
		remaining -= chunk
	}
	if remaining > 0 {
		return placement{}, &Overflow{TaskID: t.ID, Reason: p.overflowReason(t, deadlineClipped)}
	}
	pl := placement{intervals: chunks, fitReason: "split_fit"}
	p.commit(t.ID, pl.intervals)
	return pl, nil
}

// commit subtracts placed intervals from the free list and records the
// task's end for dependents.
func (p *placer) commit(taskID string, intervals []model.Window) {
	end := intervals[0].End
	for _, iv := range intervals {
		p.free = subtractInterval(p.free, iv)
		if iv.End.After(end) {
			end = iv.End
		}
	}
	p.endOf[taskID] = end
	delete(p.unplaced, taskID)
}

// overflowReason picks the structured reason for a failed placement.
// Deterministic: flexibility window trouble outranks deadline trouble
// outranks plain capacity.
func (p *placer) overflowReason(t *model.Task, deadlineClipped bool) OverflowReason {
	if !t.FlexibilityWindow.IsZero() {
		inWindow := clipFree(p.free, t.FlexibilityWindow.Start, t.FlexibilityWindow.End, 0)
		if totalSpan(inWindow) < t.Duration() {
			return OverflowFlexWindowEmpty
		}
	}
	if deadlineClipped {
		return OverflowDeadlineUnreachable
	}
	return OverflowNoCapacity
}
