package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/queuecast/queuecast/internal/app"
	"github.com/queuecast/queuecast/internal/billing/application/services"
	"github.com/queuecast/queuecast/pkg/config"
	"github.com/queuecast/queuecast/pkg/observability"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the billing job worker",
		Long: `Runs the recurring billing jobs on tickers: deferred cancellations,
trial conversions, renewals, and trial-expiry reminders. A Redis lock
suppresses overlapping runs across replicas when configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			container, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer container.Close()

			return RunWorker(cmd.Context(), container)
		},
	}
}

func init() {
	AddCommand(newWorkerCmd())
}

// RunWorker drives the billing jobs until the context is cancelled. An
// immediate pass runs at startup so a worker restarted after downtime does
// not wait out a full interval with charges overdue.
func RunWorker(ctx context.Context, c *app.Container) error {
	log := c.Logger

	stopHealth := startWorkerHealthServer(ctx, c)
	defer stopHealth()

	billingTicker := time.NewTicker(c.Config.RenewalInterval)
	defer billingTicker.Stop()
	reminderTicker := time.NewTicker(c.Config.ReminderInterval)
	defer reminderTicker.Stop()

	log.Info("worker started",
		"billing_interval", c.Config.RenewalInterval,
		"reminder_interval", c.Config.ReminderInterval,
	)

	runBillingCycle(ctx, c)
	runReminderPass(ctx, c)

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-billingTicker.C:
			runBillingCycle(ctx, c)
		case <-reminderTicker.C:
			runReminderPass(ctx, c)
		}
	}
}

// runBillingCycle enacts deferred cancellations first so a lapsed period is
// never charged, then converts expired trials and renews due subscriptions.
func runBillingCycle(ctx context.Context, c *app.Container) {
	runLocked(ctx, c, "billing-cycle", func(ctx context.Context) {
		if result, err := c.Runner.EnactCancellations(ctx); err != nil {
			c.Logger.Error("cancellation pass failed", "error", err)
		} else {
			logBatch(c.Logger, "cancellations", result)
		}

		if result, err := c.Runner.RunTrialConversions(ctx); err != nil {
			c.Logger.Error("trial conversion pass failed", "error", err)
		} else {
			logBatch(c.Logger, "trial_conversions", result)
		}

		if result, err := c.Runner.RunRenewals(ctx); err != nil {
			c.Logger.Error("renewal pass failed", "error", err)
		} else {
			logBatch(c.Logger, "renewals", result)
		}
	})
}

func runReminderPass(ctx context.Context, c *app.Container) {
	runLocked(ctx, c, "trial-reminders", func(ctx context.Context) {
		if result, err := c.Reminders.Run(ctx); err != nil {
			c.Logger.Error("reminder pass failed", "error", err)
		} else {
			logBatch(c.Logger, "reminders", result)
		}
	})
}

// runLocked takes the named cron lease before running fn. Without Redis the
// job runs unlocked; payment idempotency still prevents double charges, the
// lock only saves wasted work.
func runLocked(ctx context.Context, c *app.Container, name string, fn func(ctx context.Context)) {
	ctx = observability.WithOperation(ctx, name)

	if c.JobLock == nil {
		fn(ctx)
		return
	}

	lease, ok, err := c.JobLock.Acquire(ctx, name)
	if err != nil {
		c.Logger.Warn("cron lock unavailable, running unlocked", "job", name, "error", err)
		fn(ctx)
		return
	}
	if !ok {
		c.Logger.Info("job held by another instance, skipping", "job", name)
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			c.Logger.Warn("failed to release cron lock", "job", name, "error", err)
		}
	}()

	fn(ctx)
}

func logBatch(log *slog.Logger, job string, result *services.BatchResult) {
	if result.Processed == 0 {
		log.Debug("job pass complete, nothing due", "job", job)
		return
	}
	log.Info("job pass complete",
		"job", job,
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
	)
	for _, item := range result.Errors {
		log.Warn("job item failed", "job", job, "user_id", item.UserID, "error", item.Err)
	}
}

// startWorkerHealthServer exposes liveness and readiness for the worker
// process. Returns a stop function.
func startWorkerHealthServer(ctx context.Context, c *app.Container) func() {
	if c.Config.WorkerHealthAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := c.Health.GetOverallHealth(checkCtx)
		status := http.StatusOK
		if health.Status == observability.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{
		Addr:              c.Config.WorkerHealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.Logger.Info("worker health server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.Logger.Error("worker health server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.Logger.Warn("worker health server shutdown error", "error", err)
		}
	}
}
