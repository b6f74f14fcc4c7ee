package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aistatus/aistatus/internal/app"
)

var drainIdentity string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Probe every active provider once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Monitor.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweeping providers: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Send one batch of pending notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			summary, err := a.Monitor.Drain(ctx, drainIdentity)
			if err != nil {
				return fmt.Errorf("draining queue: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

var housekeepingCmd = &cobra.Command{
	Use:   "housekeeping",
	Short: "Prune old history, finished notifications and stale subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Housekeeper.Run(ctx)
			if err != nil {
				return fmt.Errorf("running housekeeping: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <providerId>",
	Short: "Probe one provider and print the result",
	Long: `Probe one configured provider without recording the result or touching
incidents. Inactive providers can be probed too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			prov, ok := a.Providers.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			return printJSON(cmd.OutOrStdout(), a.Prober.Probe(ctx, prov))
		})
	},
}

func init() {
	drainCmd.Flags().StringVar(&drainIdentity, "identity", "cli", "Caller identity for the drain rate limit")
}
