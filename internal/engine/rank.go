package engine

import (
	"sort"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// rankedTask pairs a task with its governing tier and reason token for the
// rest of the pipeline.
type rankedTask struct {
	task       model.Task
	tier       int
	tierReason string
}

// rankTasks orders tasks for placement: by tier first, then within each
// tier ascending by the tuple
//
//	(deadline, due_by end-of-day, -impact, -risk, created_at, id)
//
// Absent deadline/due_by sort last. The final ID key makes the order total,
// which is what makes rebuilds reproducible.
func rankTasks(tasks []rankedTask, loc *time.Location) []rankedTask {
	out := make([]rankedTask, len(tasks))
	copy(out, tasks)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		ad, bd := rankInstant(a.task.Deadline), rankInstant(b.task.Deadline)
		if !ad.Equal(bd) {
			return ad.Before(bd)
		}
		au, bu := dueByInstant(&a.task, loc), dueByInstant(&b.task, loc)
		if !au.Equal(bu) {
			return au.Before(bu)
		}
		if a.task.ImpactScore != b.task.ImpactScore {
			return a.task.ImpactScore > b.task.ImpactScore
		}
		if a.task.RiskScore != b.task.RiskScore {
			return a.task.RiskScore > b.task.RiskScore
		}
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.task.ID < b.task.ID
	})
	return out
}

// farFuture stands in for +infinity in the sort tuple.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func rankInstant(t time.Time) time.Time {
	if t.IsZero() {
		return farFuture
	}
	return t
}

// dueByInstant resolves the soft due date to end-of-day in the user's
// calendar timezone.
func dueByInstant(t *model.Task, loc *time.Location) time.Time {
	if t.DueBy.IsZero() {
		return farFuture
	}
	return t.DueBy.EndOfDayIn(loc)
}

// adjustForSlotFit swaps adjacent same-tier tasks when the leader cannot
// fit the first free slot but its follower can. A contextual nudge only:
// tasks never move across tiers, and at most one swap happens per pair, so
// the adjustment stays deterministic.
func adjustForSlotFit(ranked []rankedTask, firstSlot time.Duration) []rankedTask {
	if firstSlot <= 0 {
		return ranked
	}
	out := make([]rankedTask, len(ranked))
	copy(out, ranked)
	for i := 0; i+1 < len(out); i++ {
		a, b := &out[i], &out[i+1]
		if a.tier != b.tier {
			continue
		}
		// Leader misses the slot, follower fits, and the leader has no
		// deadline pressure that a delay would threaten.
		if a.task.Duration() > firstSlot && b.task.Duration() <= firstSlot && a.task.Deadline.IsZero() {
			out[i], out[i+1] = out[i+1], out[i]
			i++ // do not cascade the same task downward
		}
	}
	return out
}
