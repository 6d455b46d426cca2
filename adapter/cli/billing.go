package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/queuecast/queuecast/internal/app"
	"github.com/queuecast/queuecast/internal/billing/application/services"
	"github.com/queuecast/queuecast/pkg/config"
)

// newBillingCmd groups one-off invocations of the billing jobs, useful for
// external cron schedulers and for operators re-running a pass by hand.
func newBillingCmd() *cobra.Command {
	billingCmd := &cobra.Command{
		Use:   "billing",
		Short: "Run billing jobs once",
	}

	billingCmd.AddCommand(&cobra.Command{
		Use:   "run-renewals",
		Short: "Enact due cancellations, then charge subscriptions past their billing date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				cancellations, err := c.Runner.EnactCancellations(ctx)
				if err != nil {
					return err
				}
				renewals, err := c.Runner.RunRenewals(ctx)
				if err != nil {
					return err
				}
				return printResults(map[string]*services.BatchResult{
					"cancellations": cancellations,
					"renewals":      renewals,
				})
			})
		},
	})

	billingCmd.AddCommand(&cobra.Command{
		Use:   "run-trial-conversions",
		Short: "Charge subscriptions whose trial has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				result, err := c.Runner.RunTrialConversions(ctx)
				if err != nil {
					return err
				}
				return printResults(map[string]*services.BatchResult{"trial_conversions": result})
			})
		},
	})

	billingCmd.AddCommand(&cobra.Command{
		Use:   "run-reminders",
		Short: "Send trial-expiry reminder notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *app.Container) error {
				result, err := c.Reminders.Run(ctx)
				if err != nil {
					return err
				}
				return printResults(map[string]*services.BatchResult{"reminders": result})
			})
		},
	})

	return billingCmd
}

func init() {
	AddCommand(newBillingCmd())
}

func withContainer(ctx context.Context, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	return fn(ctx, container)
}

func printResults(results map[string]*services.BatchResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
