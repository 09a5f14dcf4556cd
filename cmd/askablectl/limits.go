package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/app"
	"github.com/sahilchouksey/askable/services/quota"
)

var limitsCmd = &cobra.Command{
	Use:   "limits <identity>",
	Short: "Show the remaining daily messages for a client identity",
	Long: `Show the remaining daily messages for a client identity. The identity is
the first X-Forwarded-For hop the API saw for the client, usually its IP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(ctx context.Context, ledger *quota.Ledger) error {
			renderLimits(cmd.OutOrStdout(), args[0], ledger.Limit(), ledger.Remaining(ctx, args[0]))
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete quota counters of expired windows",
	Long: `Delete quota counters of expired windows. Redis counters expire on their
own; this is for QUOTA_STORE=postgres and QUOTA_STORE=sqlite.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(ctx context.Context, ledger *quota.Ledger) error {
			n, err := ledger.Prune(ctx)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s counters\n", countStyle.Render(fmt.Sprint(n)))
			return nil
		})
	},
}

func withLedger(parent context.Context, fn func(ctx context.Context, ledger *quota.Ledger) error) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ledger, closeStore := app.NewLedger(ctx, env)
	defer closeStore()
	return fn(ctx, ledger)
}

func renderLimits(w io.Writer, identity string, limit int, st quota.Status) {
	fmt.Fprintln(w, headerStyle.Render(identity))
	fmt.Fprintf(w, "Remaining: %s of %d\n", countStyle.Render(fmt.Sprint(st.Remaining)), limit)
	fmt.Fprintf(w, "Resets:    %s\n", dateStyle.Render(st.ResetAt.UTC().Format(time.RFC3339)))
}
