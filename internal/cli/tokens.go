package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qzwhatnext/qzwhatnext/internal/auth"
)

// TokensOptions holds flags shared by the token subcommands.
type TokensOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewTokensCommand creates the tokens command group for automation tokens.
func NewTokensCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokensOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage automation tokens",
		Long: `Manage long-lived automation tokens for clients that cannot run an
interactive auth flow. The raw token is printed exactly once at creation;
only a hash is stored.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newTokensCreateCommand(opts))
	cmd.AddCommand(newTokensListCommand(opts))
	cmd.AddCommand(newTokensRevokeCommand(opts))
	return cmd
}

// tokenPepper reads the deployment pepper; the dev fallback keeps local
// setups working but must be overridden in any real deployment.
func tokenPepper() string {
	if p := os.Getenv("QZWHATNEXT_TOKEN_PEPPER"); p != "" {
		return p
	}
	return "dev-token-pepper-change-me"
}

func newTokensCreateCommand(opts *TokensOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a token (raw value printed once)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()

			tokens := auth.NewTokens(a.store, tokenPepper())
			raw, record, err := tokens.Issue(context.Background(), opts.User, label)
			if err != nil {
				return WrapExitError(ExitFailure, "create token failed", err)
			}
			payload := map[string]string{"id": record.ID, "token": raw, "prefix": record.Prefix}
			return a.fmt.Successf(payload,
				"token %s created\n  %s\nStore it now - it cannot be shown again.", record.ID, raw)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "display label")
	return cmd
}

func newTokensListCommand(opts *TokensOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List tokens (prefixes only)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()

			tokens, err := a.store.ListTokens(context.Background(), opts.User)
			if err != nil {
				return WrapExitError(ExitFailure, "list tokens failed", err)
			}
			if opts.Format == "json" {
				return a.fmt.Success(tokens)
			}
			for _, t := range tokens {
				state := "active"
				if t.Revoked() {
					state = "revoked"
				}
				fmt.Fprintf(a.fmt.Writer, "%s  %s...  %-8s  %s\n", t.ID, t.Prefix, state, t.Label)
			}
			return nil
		},
	}
}

func newTokensRevokeCommand(opts *TokensOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "revoke <token-id>",
		Short:         "Revoke a token",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer a.close()

			tokens := auth.NewTokens(a.store, tokenPepper())
			if err := tokens.Revoke(context.Background(), opts.User, args[0]); err != nil {
				return WrapExitError(ExitFailure, "revoke token failed", err)
			}
			return a.fmt.Successf(args[0], "revoked %s", args[0])
		},
	}
}
