// Package harness provides a conformance framework for the scheduling
// engine: YAML scenarios run one full rebuild against a fresh in-memory
// store, a scripted calendar and a scripted inference adapter, with the
// clock and ID generation pinned. The resulting snapshot - placements,
// overflows, adapter calls and the audit trace - is fully deterministic
// and compared against golden files.
package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/calendar"
	"github.com/qzwhatnext/qzwhatnext/internal/config"
	"github.com/qzwhatnext/qzwhatnext/internal/engine"
	"github.com/qzwhatnext/qzwhatnext/internal/infer"
	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
	"github.com/qzwhatnext/qzwhatnext/internal/testutil"
)

// Snapshot is the deterministic record of one scenario run. Field order is
// the golden file's serialization order.
type Snapshot struct {
	Scenario   string           `json:"scenario"`
	AdapterSaw []string         `json:"adapter_saw"`
	Placements []Placement      `json:"placements"`
	Overflows  []OverflowRecord `json:"overflows"`
	Trace      []TraceEvent     `json:"trace"`
}

// Placement is one placed interval.
type Placement struct {
	Task  string `json:"task"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// OverflowRecord is one overflow outcome.
type OverflowRecord struct {
	Task   string `json:"task"`
	Reason string `json:"reason"`
}

// TraceEvent is one audit event of the rebuild.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Details map[string]any `json:"details"`
}

// Run executes a scenario: fresh in-memory store, scripted calendar and
// adapter, pinned clock and IDs, one rebuild.
func Run(scenario *Scenario) (*Snapshot, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()
	ctx := context.Background()

	horizon := scenario.User.HorizonDays
	if horizon == 0 {
		horizon = 7
	}
	if err := st.CreateUser(ctx, model.User{
		ID:          scenario.User.ID,
		Timezone:    scenario.User.Timezone,
		HorizonDays: horizon,
		CreatedAt:   scenario.Now,
		UpdatedAt:   scenario.Now,
	}); err != nil {
		return nil, err
	}

	fake := calendar.NewFake()
	for _, b := range scenario.Busy {
		fake.AddBusy(scenario.User.ID, b.Start, b.End)
	}

	adapter := infer.NewFixed()
	for taskID, sp := range scenario.Proposals {
		adapter.Set(taskID, buildProposals(sp))
	}

	for _, td := range scenario.Tasks {
		task, err := buildTask(scenario, td)
		if err != nil {
			return nil, err
		}
		if err := st.CreateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("seed task %s: %w", td.ID, err)
		}
	}

	cfg := config.Default()
	cfg.InferenceTimeout = time.Second
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond

	eng := engine.New(st, fake, adapter, cfg,
		engine.WithNow(testutil.NewFixedNow(scenario.Now).Now),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("blk")))

	result, err := eng.Rebuild(ctx, scenario.User.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	return buildSnapshot(ctx, st, scenario, adapter, result)
}

func buildTask(scenario *Scenario, td ScenarioTask) (model.Task, error) {
	task := model.NewTask(td.ID, scenario.User.ID, "api", "", td.Title, scenario.Now)
	task.Notes = td.Notes
	if td.Category != "" {
		task.Category = model.Category(td.Category)
	}
	if td.DurationMin > 0 {
		task.EstimatedDurationMin = td.DurationMin
	}
	if td.DurationConfidence > 0 {
		task.DurationConfidence = td.DurationConfidence
	}
	if !td.Deadline.IsZero() {
		task.Deadline = td.Deadline
	}
	if td.StartAfter != "" {
		date, err := model.ParseDate(td.StartAfter)
		if err != nil {
			return model.Task{}, fmt.Errorf("task %s: %w", td.ID, err)
		}
		task.StartAfter = date
	}
	if td.DueBy != "" {
		date, err := model.ParseDate(td.DueBy)
		if err != nil {
			return model.Task{}, fmt.Errorf("task %s: %w", td.ID, err)
		}
		task.DueBy = date
	}
	if td.RiskScore > 0 {
		task.RiskScore = td.RiskScore
	}
	if td.ImpactScore > 0 {
		task.ImpactScore = td.ImpactScore
	}
	task.Dependencies = td.Dependencies
	if td.AIExcluded {
		task.AIExcluded = true
	}
	return task, nil
}

func buildProposals(sp ScenarioProposals) infer.Proposals {
	var p infer.Proposals
	if sp.Category != nil {
		p.Category = &infer.CategoryProposal{
			Value:      model.Category(sp.Category.Value),
			Confidence: sp.Category.Confidence,
		}
	}
	if sp.Duration != nil {
		p.Duration = &infer.DurationProposal{
			Minutes:    sp.Duration.Minutes,
			Confidence: sp.Duration.Confidence,
		}
	}
	if sp.Risk != nil {
		p.Risk = &infer.ScoreProposal{Value: sp.Risk.Score, Confidence: sp.Risk.Confidence}
	}
	if sp.Impact != nil {
		p.Impact = &infer.ScoreProposal{Value: sp.Impact.Score, Confidence: sp.Impact.Confidence}
	}
	return p
}

func buildSnapshot(ctx context.Context, st *store.Store, scenario *Scenario, adapter *infer.Fixed, result *engine.Result) (*Snapshot, error) {
	snap := &Snapshot{
		Scenario:   scenario.Name,
		AdapterSaw: []string{},
		Placements: []Placement{},
		Overflows:  []OverflowRecord{},
		Trace:      []TraceEvent{},
	}
	snap.AdapterSaw = append(snap.AdapterSaw, adapter.Calls()...)

	for _, b := range result.Blocks {
		snap.Placements = append(snap.Placements, Placement{
			Task:  b.EntityID,
			Start: b.StartTime.UTC().Format(time.RFC3339),
			End:   b.EndTime.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(snap.Placements, func(i, j int) bool {
		if snap.Placements[i].Start != snap.Placements[j].Start {
			return snap.Placements[i].Start < snap.Placements[j].Start
		}
		return snap.Placements[i].Task < snap.Placements[j].Task
	})

	for _, o := range result.Overflows {
		snap.Overflows = append(snap.Overflows, OverflowRecord{Task: o.TaskID, Reason: string(o.Reason)})
	}

	events, err := st.ListAudit(ctx, scenario.User.ID, store.AuditFilter{RebuildID: result.RebuildID})
	if err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}
	for _, ev := range events {
		details := ev.Details
		if details == nil {
			details = map[string]any{}
		}
		snap.Trace = append(snap.Trace, TraceEvent{
			Seq:     ev.Seq,
			Type:    string(ev.EventType),
			Entity:  ev.EntityID,
			Details: details,
		})
	}
	return snap, nil
}
