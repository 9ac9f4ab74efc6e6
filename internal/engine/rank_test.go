package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

func ranked(id string, tier int, mutate func(*model.Task)) rankedTask {
	t := model.NewTask(id, "u-1", "api", "", id, tierNow)
	if mutate != nil {
		mutate(&t)
	}
	return rankedTask{task: t, tier: tier}
}

func rankIDs(rts []rankedTask) []string {
	out := make([]string, len(rts))
	for i, rt := range rts {
		out[i] = rt.task.ID
	}
	return out
}

func TestRankTasks_TierDominates(t *testing.T) {
	got := rankTasks([]rankedTask{
		ranked("low", 9, nil),
		ranked("high", 1, nil),
		ranked("mid", 6, nil),
	}, time.UTC)
	assert.Equal(t, []string{"high", "mid", "low"}, rankIDs(got))
}

func TestRankTasks_DeadlineWithinTier(t *testing.T) {
	got := rankTasks([]rankedTask{
		ranked("later", 6, func(t *model.Task) { t.Deadline = tierNow.Add(10 * time.Hour) }),
		ranked("sooner", 6, func(t *model.Task) { t.Deadline = tierNow.Add(2 * time.Hour) }),
		ranked("none", 6, nil),
	}, time.UTC)
	assert.Equal(t, []string{"sooner", "later", "none"}, rankIDs(got))
}

func TestRankTasks_DueByEndOfDayInUserTZ(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := rankTasks([]rankedTask{
		ranked("due-later", 6, func(t *model.Task) { t.DueBy = model.Date{Year: 2025, Month: time.June, Day: 5} }),
		ranked("due-sooner", 6, func(t *model.Task) { t.DueBy = model.Date{Year: 2025, Month: time.June, Day: 3} }),
	}, loc)
	assert.Equal(t, []string{"due-sooner", "due-later"}, rankIDs(got))
}

func TestRankTasks_ImpactThenRisk(t *testing.T) {
	got := rankTasks([]rankedTask{
		ranked("low-impact", 6, func(t *model.Task) { t.ImpactScore = 0.2 }),
		ranked("high-impact", 6, func(t *model.Task) { t.ImpactScore = 0.6 }),
		ranked("high-risk", 6, func(t *model.Task) { t.ImpactScore = 0.2; t.RiskScore = 0.6 }),
	}, time.UTC)
	assert.Equal(t, []string{"high-impact", "high-risk", "low-impact"}, rankIDs(got))
}

func TestRankTasks_CreatedAtThenID(t *testing.T) {
	got := rankTasks([]rankedTask{
		ranked("b", 6, nil),
		ranked("a", 6, nil),
		ranked("older", 6, func(t *model.Task) { t.CreatedAt = tierNow.Add(-time.Hour) }),
	}, time.UTC)
	assert.Equal(t, []string{"older", "a", "b"}, rankIDs(got))
}

func TestRankTasks_Stable(t *testing.T) {
	in := []rankedTask{
		ranked("x", 6, nil), ranked("y", 3, nil), ranked("z", 6, nil),
	}
	a := rankTasks(in, time.UTC)
	b := rankTasks(in, time.UTC)
	assert.Equal(t, rankIDs(a), rankIDs(b))
}

func TestAdjustForSlotFit_SwapsWithinTier(t *testing.T) {
	// 60-minute leader cannot fit a 30-minute first slot; its 30-minute
	// same-tier follower can.
	in := []rankedTask{
		ranked("big", 6, func(t *model.Task) { t.EstimatedDurationMin = 60 }),
		ranked("small", 6, func(t *model.Task) { t.EstimatedDurationMin = 30 }),
	}
	got := adjustForSlotFit(in, 30*time.Minute)
	assert.Equal(t, []string{"small", "big"}, rankIDs(got))
}

func TestAdjustForSlotFit_NeverCrossesTiers(t *testing.T) {
	in := []rankedTask{
		ranked("big-high", 1, func(t *model.Task) { t.EstimatedDurationMin = 60 }),
		ranked("small-low", 6, func(t *model.Task) { t.EstimatedDurationMin = 30 }),
	}
	got := adjustForSlotFit(in, 30*time.Minute)
	assert.Equal(t, []string{"big-high", "small-low"}, rankIDs(got))
}

func TestAdjustForSlotFit_DeadlineHolds(t *testing.T) {
	// A leader with a deadline is never delayed by the nudge.
	in := []rankedTask{
		ranked("big-deadline", 6, func(t *model.Task) {
			t.EstimatedDurationMin = 60
			t.Deadline = tierNow.Add(3 * time.Hour)
		}),
		ranked("small", 6, func(t *model.Task) { t.EstimatedDurationMin = 30 }),
	}
	got := adjustForSlotFit(in, 30*time.Minute)
	assert.Equal(t, []string{"big-deadline", "small"}, rankIDs(got))
}
