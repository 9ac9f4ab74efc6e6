package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewRebuildCommand creates the rebuild command: one synchronous pipeline
// run for one user.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild one user's schedule",
		Long: `Run the full scheduling pipeline for one user and print the outcome:
placed blocks, overflow records with reasons, and pinned placements.

Example:
  qzwhatnext rebuild --db ./qzwhatnext.db --user u-123`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runRebuild(opts *RebuildOptions) error {
	a, err := setup(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.Rebuild(context.Background(), opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "rebuild failed", err)
	}

	if opts.Format == "json" {
		return a.fmt.Success(result)
	}
	fmt.Fprintf(a.fmt.Writer, "rebuild %s\n", result.RebuildID)
	fmt.Fprintf(a.fmt.Writer, "  placed:       %d block(s)\n", len(result.Blocks))
	for _, b := range result.Blocks {
		fmt.Fprintf(a.fmt.Writer, "    %s  %s - %s\n", b.EntityID,
			b.StartTime.Format("Mon 15:04"), b.EndTime.Format("15:04"))
	}
	fmt.Fprintf(a.fmt.Writer, "  overflow:     %d task(s)\n", len(result.Overflows))
	for _, o := range result.Overflows {
		fmt.Fprintf(a.fmt.Writer, "    %s  (%s)\n", o.TaskID, o.Reason)
	}
	fmt.Fprintf(a.fmt.Writer, "  pinned:       %d task(s)\n", len(result.Pinned))
	fmt.Fprintf(a.fmt.Writer, "  excluded:     %d task(s)\n", len(result.ExcludedIDs))
	fmt.Fprintf(a.fmt.Writer, "  materialized: %d occurrence(s)\n", result.Materialized)
	return nil
}
