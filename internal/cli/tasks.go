package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qzwhatnext/qzwhatnext/internal/engine"
	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// TasksOptions holds flags shared by the task subcommands.
type TasksOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TasksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newTasksAddCommand(opts))
	cmd.AddCommand(newTasksAddSmartCommand(opts))
	cmd.AddCommand(newTasksListCommand(opts))
	cmd.AddCommand(newTasksCompleteCommand(opts))
	cmd.AddCommand(newTasksDeleteCommand(opts))
	cmd.AddCommand(newTasksRestoreCommand(opts))
	cmd.AddCommand(newTasksPurgeCommand(opts))
	return cmd
}

func newTasksAddCommand(opts *TasksOptions) *cobra.Command {
	var (
		notes       string
		category    string
		durationMin int
		deadline    string
		startAfter  string
		dueBy       string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Long: `Add a task. A title starting with "." opts the task out of AI
processing; it is still scheduled deterministically.

Example:
  qzwhatnext tasks add --user u-123 "file insurance claim" --category admin --deadline 2025-07-01T17:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			now := time.Now()
			task := model.NewTask(model.UUIDv7Generator{}.NewID(), opts.User, "api", "", args[0], now)
			task.Notes = notes
			if category != "" {
				task.Category = model.Category(category)
			}
			if durationMin > 0 {
				task.EstimatedDurationMin = durationMin
			}
			if deadline != "" {
				if task.Deadline, err = time.Parse(time.RFC3339, deadline); err != nil {
					return WrapExitError(ExitCommandError, "invalid --deadline", err)
				}
			}
			if startAfter != "" {
				if task.StartAfter, err = model.ParseDate(startAfter); err != nil {
					return WrapExitError(ExitCommandError, "invalid --start-after", err)
				}
			}
			if dueBy != "" {
				if task.DueBy, err = model.ParseDate(dueBy); err != nil {
					return WrapExitError(ExitCommandError, "invalid --due-by", err)
				}
			}

			audit := model.AuditEvent{
				ID: task.ID + "-imported", UserID: opts.User, Timestamp: now,
				EventType: model.AuditTaskImported, EntityID: task.ID,
				Details: map[string]any{"source_type": "api"},
			}
			if err := a.store.CreateTask(ctx, task, audit); err != nil {
				return WrapExitError(ExitFailure, "create task failed", err)
			}
			a.rebuildNow(ctx, opts.User)
			return a.fmt.Successf(task, "created %s  %q", task.ID, task.Title)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "task notes")
	cmd.Flags().StringVar(&category, "category", "", "category (work|child|family|health|personal|ideas|home|admin)")
	cmd.Flags().IntVar(&durationMin, "duration", 0, "estimated duration in minutes")
	cmd.Flags().StringVar(&deadline, "deadline", "", "hard deadline (RFC 3339)")
	cmd.Flags().StringVar(&startAfter, "start-after", "", "earliest schedulable date (YYYY-MM-DD, user timezone)")
	cmd.Flags().StringVar(&dueBy, "due-by", "", "soft due date (YYYY-MM-DD, user timezone)")
	return cmd
}

func newTasksAddSmartCommand(opts *TasksOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-smart <notes>",
		Short: "Add a task from free-form notes; title and attributes are inferred later",
		Long: `Add a task from free-form notes. The title starts as the first line of
the notes and may be replaced by inference on the next rebuild. Notes
starting with "." opt the task out of AI processing entirely.

Example:
  qzwhatnext tasks add-smart --user u-123 "call the plumber about the leak under the sink"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			now := time.Now()
			notes := args[0]
			task := model.NewTask(model.UUIDv7Generator{}.NewID(), opts.User, "capture", "",
				smartTitle(notes), now)
			task.Notes = notes
			if model.NotesExcluded(notes) {
				task.AIExcluded = true
			}

			audit := model.AuditEvent{
				ID: task.ID + "-imported", UserID: opts.User, Timestamp: now,
				EventType: model.AuditTaskImported, EntityID: task.ID,
				Details: map[string]any{"source_type": "capture"},
			}
			if err := a.store.CreateTask(ctx, task, audit); err != nil {
				return WrapExitError(ExitFailure, "create task failed", err)
			}
			a.rebuildNow(ctx, opts.User)
			return a.fmt.Successf(task, "created %s  %q", task.ID, task.Title)
		},
	}
}

// smartTitle derives a provisional title from free-form notes: the first
// line, stripped of the exclusion dot, capped at 80 runes. Inference may
// replace it later; excluded tasks keep it as-is.
func smartTitle(notes string) string {
	title := strings.TrimSpace(model.NormalizeText(notes))
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, "."))
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	if title == "" {
		title = "untitled"
	}
	return title
}

func newTasksListCommand(opts *TasksOptions) *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()

			tasks, err := a.store.ListTasks(context.Background(), opts.User,
				store.TaskFilter{IncludeDeleted: includeDeleted})
			if err != nil {
				return WrapExitError(ExitFailure, "list tasks failed", err)
			}
			if opts.Format == "json" {
				return a.fmt.Success(tasks)
			}
			for _, t := range tasks {
				marker := " "
				switch {
				case t.Deleted():
					marker = "D"
				case t.Status == model.StatusCompleted:
					marker = "x"
				case t.Status == model.StatusMissed:
					marker = "!"
				}
				tier := ""
				if t.Tier != 0 {
					tier = fmt.Sprintf("  [T%d %s]", t.Tier, engine.TierName(t.Tier))
				}
				fmt.Fprintf(a.fmt.Writer, "[%s] %s  %s (%dm, %s)%s\n",
					marker, t.ID, t.Title, t.EstimatedDurationMin, t.Category, tier)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted tasks")
	return cmd
}

func newTasksCompleteCommand(opts *TasksOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "complete <task-id>",
		Short:         "Mark a task completed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			task, err := a.store.GetTask(ctx, opts.User, args[0], false)
			if err != nil {
				return WrapExitError(ExitFailure, "task not found", err)
			}
			now := time.Now()
			task.Status = model.StatusCompleted
			task.UpdatedAt = now
			audit := model.AuditEvent{
				ID: task.ID + "-completed", UserID: opts.User, Timestamp: now,
				EventType: model.AuditCompleted, EntityID: task.ID,
			}
			if err := a.store.UpdateTask(ctx, task, audit); err != nil {
				return WrapExitError(ExitFailure, "complete task failed", err)
			}
			a.rebuildNow(ctx, opts.User)
			return a.fmt.Successf(task, "completed %s", task.ID)
		},
	}
}

func newTasksDeleteCommand(opts *TasksOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <task-id>",
		Short:         "Soft-delete a task (restorable)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			now := time.Now()
			audit := model.AuditEvent{
				ID: args[0] + "-deleted", UserID: opts.User, Timestamp: now,
				EventType: model.AuditTaskUpdated, EntityID: args[0],
				Details: map[string]any{"change": "soft_deleted"},
			}
			if err := a.store.SoftDeleteTask(ctx, opts.User, args[0], now, audit); err != nil {
				return WrapExitError(ExitFailure, "delete task failed", err)
			}
			a.rebuildNow(ctx, opts.User)
			return a.fmt.Successf(args[0], "deleted %s (restore with: tasks restore)", args[0])
		},
	}
}

func newTasksRestoreCommand(opts *TasksOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "restore <task-id>",
		Short:         "Restore a soft-deleted task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			now := time.Now()
			audit := model.AuditEvent{
				ID: args[0] + "-restored", UserID: opts.User, Timestamp: now,
				EventType: model.AuditTaskUpdated, EntityID: args[0],
				Details: map[string]any{"change": "restored"},
			}
			if err := a.store.RestoreTask(ctx, opts.User, args[0], now, audit); err != nil {
				return WrapExitError(ExitFailure, "restore task failed", err)
			}
			a.rebuildNow(ctx, opts.User)
			return a.fmt.Successf(args[0], "restored %s", args[0])
		},
	}
}

func newTasksPurgeCommand(opts *TasksOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "purge <task-id>",
		Short:         "Irreversibly remove a task and its scheduled blocks",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.PurgeTask(context.Background(), opts.User, args[0]); err != nil {
				return WrapExitError(ExitFailure, "purge task failed", err)
			}
			return a.fmt.Successf(args[0], "purged %s", args[0])
		},
	}
}
