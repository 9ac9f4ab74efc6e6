package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/calendar"
	"github.com/qzwhatnext/qzwhatnext/internal/config"
	"github.com/qzwhatnext/qzwhatnext/internal/infer"
	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/recurrence"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// ErrRebuildInProgress means another rebuild holds the user's advisory
// lock. Callers going through TriggerRebuild never see this - triggers
// coalesce instead.
var ErrRebuildInProgress = errors.New("engine: rebuild already in progress for user")

// Engine runs the per-user scheduling pipeline.
//
// Construction wires the immutable configuration and collaborators; there
// is no process-wide mutable engine state. All rebuild-local state lives in
// the rebuild invocation.
type Engine struct {
	store   *store.Store
	avail   calendar.AvailabilityProvider
	adapter infer.Adapter
	sync    *calendar.Synchronizer
	cfg     config.Config
	ids     model.IDGenerator
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	pending  map[string]bool
	snaps    map[string]availabilitySnapshot
}

// availabilitySnapshot caches the last successful availability read so a
// short provider outage does not abort rebuilds.
type availabilitySnapshot struct {
	at        time.Time
	intervals []calendar.Interval
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the time source (tests pin it for determinism).
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides ID generation (tests use sequential IDs).
func WithIDGenerator(ids model.IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithSynchronizer attaches the managed calendar synchronizer, which then
// runs after every rebuild.
func WithSynchronizer(s *calendar.Synchronizer) Option {
	return func(e *Engine) { e.sync = s }
}

// New creates an Engine. adapter may be nil, in which case the inference
// stage is skipped entirely and tasks keep their defaults.
func New(st *store.Store, avail calendar.AvailabilityProvider, adapter infer.Adapter, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		avail:    avail,
		adapter:  adapter,
		cfg:      cfg,
		ids:      model.UUIDv7Generator{},
		now:      time.Now,
		inFlight: map[string]bool{},
		pending:  map[string]bool{},
		snaps:    map[string]availabilitySnapshot{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one rebuild. Every open task that passes the
// constraint check appears in exactly one of Blocks (via EntityID),
// Overflows, or Pinned (kept in place); a task that fails it appears in
// none and is recorded only by an overflow_flagged audit event.
type Result struct {
	RebuildID    string
	Blocks       []model.ScheduledBlock
	Overflows    []Overflow
	Pinned       []string // task IDs kept at locked/user-scheduled blocks
	ExcludedIDs  []string // AI-excluded tasks (still scheduled)
	Materialized int
	SyncStats    calendar.Stats
}

// TriggerRebuild requests a rebuild for the user, coalescing concurrent
// triggers: an in-flight rebuild completes first, then exactly one
// follow-up runs no matter how many triggers arrived meanwhile.
//
// Runs asynchronously; errors are logged, not returned. Use Rebuild
// directly when the caller needs the result.
func (e *Engine) TriggerRebuild(ctx context.Context, userID string) {
	e.mu.Lock()
	if e.inFlight[userID] {
		e.pending[userID] = true
		e.mu.Unlock()
		return
	}
	e.inFlight[userID] = true
	e.mu.Unlock()

	go func() {
		for {
			if _, err := e.Rebuild(ctx, userID); err != nil {
				slog.Error("rebuild failed", "user_id", userID, "error", err)
			}
			e.mu.Lock()
			if e.pending[userID] && ctx.Err() == nil {
				e.pending[userID] = false
				e.mu.Unlock()
				continue
			}
			delete(e.inFlight, userID)
			delete(e.pending, userID)
			e.mu.Unlock()
			return
		}
	}()
}

// Rebuild runs the ten-stage pipeline for one user synchronously.
//
// The per-user advisory lock is held for the full rebuild; a second rebuild
// for the same user fails fast with ErrRebuildInProgress. Rebuilds for
// distinct users run freely in parallel.
func (e *Engine) Rebuild(ctx context.Context, userID string) (*Result, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	loc := user.Location()
	now := e.now()
	horizon := model.Window{Start: now, End: now.Add(e.cfg.Horizon(user.HorizonDays))}
	rebuildID := e.ids.NewID()
	clock := NewClock()

	locked, err := e.store.AcquireRebuildLock(ctx, userID, rebuildID, now)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if !locked {
		return nil, ErrRebuildInProgress
	}
	defer func() {
		if err := e.store.ReleaseRebuildLock(context.WithoutCancel(ctx), userID, rebuildID); err != nil {
			slog.Error("release rebuild lock failed", "user_id", userID, "error", err)
		}
	}()

	slog.Info("rebuild starting",
		"user_id", userID, "rebuild_id", rebuildID,
		"horizon_end", horizon.End, "tz", user.Timezone)

	result := &Result{RebuildID: rebuildID}

	// Stage 1: materialize recurring series.
	mat := recurrence.NewMaterializer(e.store, e.store, e.ids)
	created, err := mat.Run(ctx, userID, rebuildID, horizon.Start, horizon.End, loc)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: materialize: %w", rebuildID, err)
	}
	result.Materialized = created

	// Stage 2: load active tasks.
	tasks, err := e.store.ActiveTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: load tasks: %w", rebuildID, err)
	}

	// Stage 3: exclusion gate. Runs before anything touches the adapter.
	allowed, excluded := partitionExcluded(tasks)
	for _, t := range excluded {
		result.ExcludedIDs = append(result.ExcludedIDs, t.ID)
	}

	// Stage 4: inference for non-excluded tasks missing attributes.
	inferredLowConfidence := map[string]bool{}
	if e.adapter != nil {
		allowed, err = e.inferStage(ctx, userID, rebuildID, now, clock, allowed, inferredLowConfidence)
		if err != nil {
			return nil, err
		}
	}

	// Stage 5: constraint validation. Writes are validated at the
	// repository, so a violation here means drifted state; the task is
	// flagged and skipped rather than crashing the rebuild.
	all := append(append([]model.Task(nil), allowed...), excluded...)
	var valid []model.Task
	for _, t := range all {
		if verr := t.Validate(loc); verr != nil {
			slog.Warn("task fails constraints, skipped this rebuild",
				"user_id", userID, "task_id", t.ID, "error", verr)
			if aerr := e.store.AppendAudit(ctx, model.AuditEvent{
				ID:        fmt.Sprintf("%s-%04d", rebuildID, clock.Next()),
				UserID:    userID,
				RebuildID: rebuildID,
				Seq:       clock.Current(),
				Timestamp: now,
				EventType: model.AuditOverflowFlagged,
				EntityID:  t.ID,
				Details:   map[string]any{"reason": "constraint_violation", "error": verr.Error()},
			}); aerr != nil {
				return nil, fmt.Errorf("rebuild %s: audit constraint flag: %w", rebuildID, aerr)
			}
			continue
		}
		valid = append(valid, t)
	}

	// Stage 6: tier assignment.
	ranked, err := e.tierStage(ctx, userID, rebuildID, now, clock, valid, inferredLowConfidence)
	if err != nil {
		return nil, err
	}

	// Stage 7: intra-tier ranking.
	ranked = rankTasks(ranked, loc)

	// Stage 8: availability.
	free, pinnedBlocks, err := e.availabilityStage(ctx, userID, horizon, loc)
	if err != nil {
		return nil, err
	}

	// Contextual slot-fit nudge: adjacent same-tier swaps only, after the
	// first free slot is known.
	if len(free) > 0 {
		ranked = adjustForSlotFit(ranked, free[0].Duration())
	}

	// Stage 9: placement.
	blocks, overflows, auditEvents := e.placeStage(ranked, pinnedBlocks, free, horizon, now, loc, rebuildID, clock, result)

	// Persist the new schedule and its audit trail atomically.
	removed, err := e.store.ReplaceSchedule(ctx, userID, blocks, auditEvents...)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: persist schedule: %w", rebuildID, err)
	}
	result.Blocks = blocks
	result.Overflows = overflows

	slog.Info("rebuild complete",
		"user_id", userID, "rebuild_id", rebuildID,
		"placed", len(blocks), "overflow", len(overflows),
		"excluded", len(result.ExcludedIDs), "materialized", created)

	// Stage 10 ran throughout: every decision carried its audit record.
	// Reconcile the external calendar last.
	if e.sync != nil {
		stats, err := e.sync.Sync(ctx, userID, removed)
		result.SyncStats = stats
		if errors.Is(err, calendar.ErrUnauthorized) {
			return result, &Error{Code: ErrCodeUnauthorized, UserID: userID,
				Message: "calendar access revoked during sync", Err: err}
		}
		if err != nil {
			return result, fmt.Errorf("rebuild %s: sync: %w", rebuildID, err)
		}
	}
	return result, nil
}

// inferStage calls the adapter for each allowed task missing attributes,
// applies the acceptance policy and persists changes. Failures degrade to
// defaults with an audit record; they never abort the rebuild.
func (e *Engine) inferStage(ctx context.Context, userID, rebuildID string, now time.Time, clock *Clock, allowed []model.Task, lowConfidence map[string]bool) ([]model.Task, error) {
	out := make([]model.Task, 0, len(allowed))
	for _, t := range allowed {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rebuild %s: cancelled at inference: %w", rebuildID, err)
		}
		if !needsInference(&t, e.cfg.ConfidenceThreshold) {
			out = append(out, t)
			continue
		}

		proposals, err := e.propose(ctx, &t)
		seq := clock.Next()
		eventID := fmt.Sprintf("%s-%04d", rebuildID, seq)

		if err != nil {
			// Non-fatal: the task proceeds with defaults.
			slog.Warn("inference failed, defaults applied",
				"user_id", userID, "task_id", t.ID, "error", err)
			if aerr := e.store.AppendAudit(ctx, model.AuditEvent{
				ID: eventID, UserID: userID, RebuildID: rebuildID, Seq: seq,
				Timestamp: now, EventType: model.AuditAttributeInferred, EntityID: t.ID,
				Details: map[string]any{
					"outcome": "fallback_defaults",
					"reason":  string(ErrCodeInferenceFailed),
					"error":   err.Error(),
				},
			}); aerr != nil {
				return nil, fmt.Errorf("rebuild %s: audit inference fallback: %w", rebuildID, aerr)
			}
			out = append(out, t)
			continue
		}
		if proposals.Empty() {
			out = append(out, t)
			continue
		}

		changed, details := applyProposals(&t, proposals, e.cfg.ConfidenceThreshold)
		details["outcome"] = "proposals_evaluated"
		if minConf, ok := minAppliedConfidence(proposals, e.cfg.ConfidenceThreshold); ok && minConf < e.cfg.TierChangeConfirmThreshold {
			lowConfidence[t.ID] = true
		}

		audit := model.AuditEvent{
			ID: eventID, UserID: userID, RebuildID: rebuildID, Seq: seq,
			Timestamp: now, EventType: model.AuditAttributeInferred, EntityID: t.ID,
			Details: details,
		}
		if changed {
			t.UpdatedAt = now
			if err := e.store.UpdateTask(ctx, t, audit); err != nil {
				if store.IsConstraintViolation(err) {
					// Inference proposed something the graph rejects (e.g.
					// a dependency cycle). Drop the proposals, keep going.
					slog.Warn("inferred attributes rejected by constraints",
						"user_id", userID, "task_id", t.ID, "error", err)
					fresh, gerr := e.store.GetTask(ctx, userID, t.ID, false)
					if gerr != nil {
						return nil, fmt.Errorf("rebuild %s: reload task %s: %w", rebuildID, t.ID, gerr)
					}
					out = append(out, fresh)
					continue
				}
				return nil, fmt.Errorf("rebuild %s: apply inference to %s: %w", rebuildID, t.ID, err)
			}
		} else if err := e.store.AppendAudit(ctx, audit); err != nil {
			return nil, fmt.Errorf("rebuild %s: audit inference: %w", rebuildID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// propose bounds one adapter call with the configured timeout and retry
// budget. Cancellation is cooperative here - this is a suspension point.
func (e *Engine) propose(ctx context.Context, t *model.Task) (infer.Proposals, error) {
	in := infer.TaskInput{
		ID:                   t.ID,
		Title:                t.Title,
		Notes:                t.Notes,
		Category:             t.Category,
		EstimatedDurationMin: t.EstimatedDurationMin,
		EnergyIntensity:      t.EnergyIntensity,
		RiskScore:            t.RiskScore,
		ImpactScore:          t.ImpactScore,
	}
	var proposals infer.Proposals
	var err error
	delay := e.cfg.RetryBaseDelay
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.InferenceTimeout)
		proposals, err = e.adapter.Propose(callCtx, in)
		cancel()
		if err == nil || ctx.Err() != nil {
			return proposals, err
		}
		if attempt < e.cfg.RetryMaxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return infer.Proposals{}, ctx.Err()
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}
	return infer.Proposals{}, &Error{Code: ErrCodeInferenceFailed,
		Message: "adapter failed after retries", Err: err}
}

// minAppliedConfidence returns the lowest confidence among proposals that
// met the acceptance threshold.
func minAppliedConfidence(p infer.Proposals, threshold float64) (float64, bool) {
	lowest := 2.0
	consider := func(c float64) {
		if c >= threshold && c < lowest {
			lowest = c
		}
	}
	if p.Category != nil {
		consider(p.Category.Confidence)
	}
	if p.Title != nil {
		consider(p.Title.Confidence)
	}
	if p.Duration != nil {
		consider(p.Duration.Confidence)
	}
	if p.Energy != nil {
		consider(p.Energy.Confidence)
	}
	if p.Risk != nil {
		consider(p.Risk.Confidence)
	}
	if p.Impact != nil {
		consider(p.Impact.Confidence)
	}
	if p.Dependencies != nil {
		consider(p.Dependencies.Confidence)
	}
	return lowest, lowest <= 1.0
}

// tierStage assigns every valid task its governing tier. Inference-driven
// changes below the confirm threshold are staged (recorded, not applied);
// excluded tasks only ever change tier deterministically.
func (e *Engine) tierStage(ctx context.Context, userID, rebuildID string, now time.Time, clock *Clock, tasks []model.Task, lowConfidence map[string]bool) ([]rankedTask, error) {
	unlocks := dependents(tasks)
	excludedSet := map[string]bool{}
	for i := range tasks {
		if Excluded(&tasks[i]) {
			excludedSet[tasks[i].ID] = true
		}
	}

	var ranked []rankedTask
	for _, t := range tasks {
		tier, reason := AssignTier(&t, now, e.cfg.ImpactTierThreshold, unlocks[t.ID])

		if t.ManualPriorityLocked && t.Tier != 0 {
			// Frozen at its last value; the computed tier is advisory only.
			ranked = append(ranked, rankedTask{task: t, tier: t.Tier, tierReason: "manual_priority_lock"})
			continue
		}

		if tier != t.Tier && t.Tier == 0 {
			// First assignment, not a change: persist silently.
			t.Tier = tier
			t.UpdatedAt = now
			if err := e.store.UpdateTask(ctx, t); err != nil {
				return nil, fmt.Errorf("rebuild %s: persist tier of %s: %w", rebuildID, t.ID, err)
			}
		} else if tier != t.Tier {
			driver := "deterministic"
			if lowConfidence[t.ID] && !excludedSet[t.ID] {
				driver = "inference"
			}
			seq := clock.Next()
			audit := model.AuditEvent{
				ID: fmt.Sprintf("%s-%04d", rebuildID, seq), UserID: userID,
				RebuildID: rebuildID, Seq: seq, Timestamp: now,
				EventType: model.AuditTierChanged, EntityID: t.ID,
				Details: map[string]any{
					"from": t.Tier, "to": tier, "reason": reason, "driver": driver,
				},
			}
			if driver == "inference" {
				// Below the confirm threshold: staged pending user
				// confirmation, not applied.
				audit.Details["staged"] = true
				if err := e.store.AppendAudit(ctx, audit); err != nil {
					return nil, fmt.Errorf("rebuild %s: audit staged tier change: %w", rebuildID, err)
				}
				tier = t.Tier
			} else {
				t.Tier = tier
				t.UpdatedAt = now
				if err := e.store.UpdateTask(ctx, t, audit); err != nil {
					return nil, fmt.Errorf("rebuild %s: persist tier of %s: %w", rebuildID, t.ID, err)
				}
			}
		}
		ranked = append(ranked, rankedTask{task: t, tier: tier, tierReason: reason})
	}
	return ranked, nil
}

// availabilityStage builds the free-interval list: the horizon minus locked
// blocks, user-scheduled blocks, recurring time block occurrences and
// non-managed external events. Returns the pinned blocks so the placer can
// seed dependency ends and skip pinned tasks.
func (e *Engine) availabilityStage(ctx context.Context, userID string, horizon model.Window, loc *time.Location) ([]model.Window, []model.ScheduledBlock, error) {
	existing, err := e.store.ListBlocks(ctx, userID, store.BlockFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("availability: list blocks: %w", err)
	}
	var busy []model.Window
	var pinned []model.ScheduledBlock
	for _, b := range existing {
		if b.Locked || b.ScheduledBy == model.ScheduledByUser {
			busy = append(busy, b.Interval())
			pinned = append(pinned, b)
		}
	}

	timeBlocks, err := e.store.ListActiveTimeBlocks(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("availability: list time blocks: %w", err)
	}
	busy = append(busy, timeBlockOccurrences(timeBlocks, horizon, loc)...)

	external, err := e.fetchAvailability(ctx, userID, horizon)
	if err != nil {
		return nil, nil, err
	}
	for _, iv := range external {
		if iv.Managed {
			// The engine's own events are not obstacles; the schedule they
			// mirror is being rebuilt right now.
			continue
		}
		busy = append(busy, model.Window{Start: iv.Start, End: iv.End})
	}

	return buildFreeList(horizon, busy), pinned, nil
}

// timeBlockOccurrences expands recurring time blocks into concrete busy
// intervals inside the horizon.
func timeBlockOccurrences(blocks []model.RecurringTimeBlock, horizon model.Window, loc *time.Location) []model.Window {
	var busy []model.Window
	startDay := model.DateOf(horizon.Start.In(loc)).AddDays(-1) // midnight-spanning blocks reach into day one
	endDay := model.DateOf(horizon.End.In(loc)).AddDays(1)
	for _, tb := range blocks {
		preset, err := recurrence.Decode(tb.Preset)
		if err != nil || preset.TimeStart == nil || preset.TimeEnd == nil {
			if err != nil {
				slog.Warn("skipping time block with invalid preset",
					"time_block_id", tb.ID, "error", err)
			}
			continue
		}
		for day := startDay; day.Before(endDay); day = day.AddDays(1) {
			if !preset.OccursOn(day) {
				continue
			}
			start := preset.TimeStart.On(day, loc)
			end := preset.TimeEnd.On(day, loc)
			if !end.After(start) {
				end = end.AddDate(0, 0, 1)
			}
			if start.Before(horizon.End) && horizon.Start.Before(end) {
				busy = append(busy, model.Window{Start: start, End: end})
			}
		}
	}
	return busy
}

// fetchAvailability reads external busy intervals with retry, falling back
// to a recent snapshot on outage. Beyond the staleness tolerance the
// rebuild aborts and the last good schedule stands.
func (e *Engine) fetchAvailability(ctx context.Context, userID string, window model.Window) ([]calendar.Interval, error) {
	var intervals []calendar.Interval
	var err error
	delay := e.cfg.RetryBaseDelay
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.InferenceTimeout)
		intervals, err = e.avail.BusyIntervals(callCtx, userID, window)
		cancel()
		if err == nil {
			e.mu.Lock()
			e.snaps[userID] = availabilitySnapshot{at: e.now(), intervals: intervals}
			e.mu.Unlock()
			return intervals, nil
		}
		if errors.Is(err, calendar.ErrUnauthorized) {
			return nil, &Error{Code: ErrCodeUnauthorized, UserID: userID,
				Message: "availability provider rejected credentials", Err: err}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("availability: cancelled: %w", ctx.Err())
		}
		if attempt < e.cfg.RetryMaxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}

	e.mu.Lock()
	snap, ok := e.snaps[userID]
	e.mu.Unlock()
	if ok && e.now().Sub(snap.at) <= e.cfg.AvailabilitySnapshotMaxAge {
		slog.Warn("availability provider down, using snapshot",
			"user_id", userID, "snapshot_age", e.now().Sub(snap.at), "error", err)
		return snap.intervals, nil
	}
	return nil, &Error{Code: ErrCodeAvailabilityUnavailable, UserID: userID,
		Message: "availability read failed beyond snapshot tolerance", Err: err}
}

// placeStage walks ranked tasks and produces blocks, overflow records and
// the audit events describing both.
func (e *Engine) placeStage(ranked []rankedTask, pinnedBlocks []model.ScheduledBlock, free []model.Window, horizon model.Window, now time.Time, loc *time.Location, rebuildID string, clock *Clock, result *Result) ([]model.ScheduledBlock, []Overflow, []model.AuditEvent) {
	p := newPlacer(free, time.Duration(e.cfg.GranularityMin)*time.Minute, horizon.End)

	pinnedTasks := map[string]bool{}
	for _, b := range pinnedBlocks {
		pinnedTasks[b.EntityID] = true
		if end, ok := p.endOf[b.EntityID]; !ok || b.EndTime.After(end) {
			p.endOf[b.EntityID] = b.EndTime
		}
	}
	for _, rt := range ranked {
		if !pinnedTasks[rt.task.ID] && !rt.task.ManuallyScheduled {
			p.unplaced[rt.task.ID] = true
		}
	}

	var blocks []model.ScheduledBlock
	var overflows []Overflow
	var events []model.AuditEvent

	for _, rt := range ranked {
		t := rt.task
		if pinnedTasks[t.ID] || t.ManuallyScheduled {
			// Locked and user-scheduled placements survive rebuilds.
			result.Pinned = append(result.Pinned, t.ID)
			continue
		}

		pl, overflow := p.place(&t, now, loc)
		if overflow != nil {
			overflows = append(overflows, *overflow)
			seq := clock.Next()
			events = append(events, model.AuditEvent{
				ID: fmt.Sprintf("%s-%04d", rebuildID, seq), UserID: t.UserID,
				RebuildID: rebuildID, Seq: seq, Timestamp: now,
				EventType: model.AuditOverflowFlagged, EntityID: t.ID,
				Details: map[string]any{
					"reason": string(overflow.Reason),
					"tier":   rt.tier,
				},
			})
			continue
		}

		for _, iv := range pl.intervals {
			blocks = append(blocks, model.ScheduledBlock{
				ID:          e.ids.NewID(),
				UserID:      t.UserID,
				EntityID:    t.ID,
				StartTime:   iv.Start,
				EndTime:     iv.End,
				ScheduledBy: model.ScheduledBySystem,
				SyncState:   model.SyncUnsynced,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		seq := clock.Next()
		events = append(events, model.AuditEvent{
			ID: fmt.Sprintf("%s-%04d", rebuildID, seq), UserID: t.UserID,
			RebuildID: rebuildID, Seq: seq, Timestamp: now,
			EventType: model.AuditScheduleBuilt, EntityID: t.ID,
			Details: map[string]any{
				"reasons": []any{rt.tierReason, pl.fitReason},
				"tier":    rt.tier,
				"start":   pl.intervals[0].Start.UTC().Format(time.RFC3339),
				"chunks":  len(pl.intervals),
			},
		})
	}
	return blocks, overflows, events
}
