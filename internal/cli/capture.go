package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/recurrence"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewCaptureCommand creates the capture command: casual text in, a
// recurring series or reserved time block out. Parsing is deterministic -
// no inference call is involved, so a leading "." exclusion is honored by
// construction.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture <instruction>",
		Short: "Capture a recurring task series or time block from casual text",
		Long: `Parse a casual instruction into a recurring task series or a reserved
time block.

Examples:
  qzwhatnext capture --user u-123 "take my vitamins every morning"
  qzwhatnext capture --user u-123 "kids practice tues at 4:30"
  qzwhatnext capture --user u-123 "go to the gym 3 times per week"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runCapture(opts *CaptureOptions, instruction string) error {
	a, err := setup(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	user, err := a.store.GetUser(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown user", err)
	}
	now := time.Now()
	today := model.DateOf(now.In(user.Location()))

	parsed, err := recurrence.ParseCapture(instruction, today)
	if err != nil {
		var pe *recurrence.ParseError
		if errors.As(err, &pe) {
			return WrapExitError(ExitFailure, "could not parse instruction", pe)
		}
		return WrapExitError(ExitFailure, "capture failed", err)
	}

	raw, err := parsed.Preset.Encode()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid recurrence preset", err)
	}
	ids := model.UUIDv7Generator{}

	switch parsed.Kind {
	case recurrence.KindTimeBlock:
		block := model.RecurringTimeBlock{
			ID: ids.NewID(), UserID: opts.User, Title: parsed.Title,
			Preset: raw, CreatedAt: now, UpdatedAt: now,
		}
		if err := a.store.CreateTimeBlock(ctx, block); err != nil {
			return WrapExitError(ExitFailure, "create time block failed", err)
		}
		a.rebuildNow(ctx, opts.User)
		return a.fmt.Successf(block, "reserved time block %s  %q (%s)",
			block.ID, parsed.Title, recurrence.RRule(parsed.Preset))

	default:
		series := model.RecurringTaskSeries{
			ID: ids.NewID(), UserID: opts.User,
			TitleTemplate: parsed.Title,
			Preset:        raw,
			AIExcluded:    parsed.AIExcluded,
			CreatedAt:     now, UpdatedAt: now,
		}
		if parsed.DurationMin > 0 {
			series.EstimatedDurationMinDefault = parsed.DurationMin
		}
		if err := a.store.CreateSeries(ctx, series); err != nil {
			return WrapExitError(ExitFailure, "create series failed", err)
		}
		a.rebuildNow(ctx, opts.User)
		excluded := ""
		if parsed.AIExcluded {
			excluded = " [ai-excluded]"
		}
		return a.fmt.Successf(series, "recurring series %s  %q (%s)%s",
			series.ID, parsed.Title, recurrence.RRule(parsed.Preset), excluded)
	}
}
