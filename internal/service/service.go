// Package service runs the long-lived daemon: a cron-driven sweep that
// materializes, rebuilds and syncs every user's schedule on a cadence, plus
// the coalescing entry point for event-driven triggers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qzwhatnext/qzwhatnext/internal/engine"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// Service owns the periodic sweep schedule.
type Service struct {
	store    *store.Store
	engine   *engine.Engine
	schedule string
	cron     *cron.Cron
}

// New creates a service sweeping on the given cron schedule (standard
// five-field spec, e.g. "*/15 * * * *").
func New(st *store.Store, eng *engine.Engine, schedule string) *Service {
	return &Service{
		store:    st,
		engine:   eng,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Run starts the cron schedule and blocks until the context is cancelled.
// An immediate sweep runs at startup so a restarted daemon does not wait a
// full period to catch up.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("service: invalid sweep schedule %q: %w", s.schedule, err)
	}

	slog.Info("service starting", "sweep_schedule", s.schedule)
	s.Sweep(ctx)
	s.cron.Start()

	<-ctx.Done()
	slog.Info("service stopping")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("service stop timed out waiting for running jobs")
	}
	return ctx.Err()
}

// Sweep rebuilds every user once, synchronously, in stable order. Per-user
// failures are logged and do not stop the sweep; an aborted rebuild leaves
// that user's last good schedule standing.
func (s *Service) Sweep(ctx context.Context) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		slog.Error("sweep: list users failed", "error", err)
		return
	}
	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		result, err := s.engine.Rebuild(ctx, u.ID)
		switch {
		case errors.Is(err, engine.ErrRebuildInProgress):
			slog.Info("sweep: rebuild already running, skipped", "user_id", u.ID)
		case err != nil:
			slog.Error("sweep: rebuild failed", "user_id", u.ID, "error", err)
		default:
			slog.Info("sweep: user rebuilt",
				"user_id", u.ID, "rebuild_id", result.RebuildID,
				"placed", len(result.Blocks), "overflow", len(result.Overflows))
		}
	}
}

// Trigger requests an event-driven rebuild for one user (task added,
// completion, reschedule). Triggers coalesce: at most one follow-up rebuild
// queues behind an in-flight one.
func (s *Service) Trigger(ctx context.Context, userID string) {
	s.engine.TriggerRebuild(ctx, userID)
}
