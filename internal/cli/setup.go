package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/qzwhatnext/qzwhatnext/internal/calendar"
	"github.com/qzwhatnext/qzwhatnext/internal/config"
	"github.com/qzwhatnext/qzwhatnext/internal/engine"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// app bundles the wired collaborators a command needs.
type app struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	fmt    *OutputFormatter
}

// setup loads config, configures logging, opens the database and wires the
// engine. The in-process fake calendar stands in until a real provider is
// connected; it satisfies both boundaries, so the whole pipeline runs
// end-to-end locally.
func setup(opts *RootOptions, dbOverride string) (*app, error) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if dbOverride != "" {
		cfg.Database = dbOverride
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	cal := calendar.NewFake()
	sync := calendar.NewSynchronizer(st, cal,
		calendar.WithCallTimeout(cfg.InferenceTimeout),
		calendar.WithRetry(cfg.RetryMaxAttempts, cfg.RetryBaseDelay))
	eng := engine.New(st, cal, nil, cfg, engine.WithSynchronizer(sync))

	return &app{
		cfg:    cfg,
		store:  st,
		engine: eng,
		fmt:    &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose},
	}, nil
}

// close releases the app's resources.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// rebuildNow runs a synchronous rebuild after a task write. One-shot CLI
// invocations cannot use the async coalescing trigger - the process would
// exit under the rebuild. Failure is logged, not fatal: the write itself
// already landed and the daemon's next sweep will pick it up.
func (a *app) rebuildNow(ctx context.Context, userID string) {
	if _, err := a.engine.Rebuild(ctx, userID); err != nil {
		slog.Warn("rebuild after write failed; next sweep will retry",
			"user_id", userID, "error", err)
	}
}
