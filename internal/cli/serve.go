package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qzwhatnext/qzwhatnext/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
}

// NewServeCommand creates the serve command: the long-running daemon.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling daemon",
		Long: `Run the qzWhatNext daemon: a periodic sweep materializes recurring
series, rebuilds every user's schedule and reconciles the managed calendar.

Example:
  qzwhatnext serve --db ./qzwhatnext.db
  qzwhatnext serve --config ./config.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := setup(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := service.New(a.store, a.engine, a.cfg.SweepSchedule)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "daemon failed", err)
	}
	return nil
}
