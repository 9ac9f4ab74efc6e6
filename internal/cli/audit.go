package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database  string
	User      string
	RebuildID string
	EntityID  string
	EventType string
}

// NewAuditCommand creates the audit command: read the append-only decision
// log. There is deliberately no write surface here.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long: `Show audit events: every tier change, inference application, placement
and overflow, with its structured reasons.

Example:
  qzwhatnext audit --user u-123 --rebuild rb-42
  qzwhatnext audit --user u-123 --entity t-17 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&opts.RebuildID, "rebuild", "", "filter by rebuild ID")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "filter by entity ID")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "filter by event type")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runAudit(opts *AuditOptions) error {
	a, err := setup(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	events, err := a.store.ListAudit(context.Background(), opts.User, store.AuditFilter{
		RebuildID: opts.RebuildID,
		EntityID:  opts.EntityID,
		EventType: model.AuditEventType(opts.EventType),
	})
	if err != nil {
		return WrapExitError(ExitFailure, "list audit failed", err)
	}
	if opts.Format == "json" {
		return a.fmt.Success(events)
	}
	for _, ev := range events {
		details, _ := json.Marshal(ev.Details)
		fmt.Fprintf(a.fmt.Writer, "%s  %-22s  %-12s  %s\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"), ev.EventType, ev.EntityID, details)
	}
	return nil
}
