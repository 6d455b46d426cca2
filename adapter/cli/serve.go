package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/queuecast/queuecast/adapter/api"
	"github.com/queuecast/queuecast/internal/app"
	"github.com/queuecast/queuecast/pkg/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			container, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer container.Close()

			handler := api.NewBillingHandler(api.BillingHandlerConfig{
				StartTrial:             container.StartTrial,
				Cancel:                 container.Cancel,
				Reactivate:             container.Reactivate,
				InitiatePayment:        container.InitiatePayment,
				GetSubscription:        container.GetSubscription,
				Verifier:               container.Verifier,
				HostedVerifier:         container.HostedVerifier,
				Runner:                 container.Runner,
				Reminders:              container.Reminders,
				HostedEvents:           container.HostedEvents,
				Notifications:          container.Notifications,
				CronSecret:             cfg.CronSecret,
				CardAuthWebhookSecret:  cfg.CardAuthWebhookSecret,
				HostedPayWebhookSecret: cfg.HostedPayWebhookSecret,
				Logger:                 logger,
			})

			serverCfg := api.DefaultServerConfig()
			serverCfg.Addr = cfg.HTTPAddr
			server := api.NewServer(serverCfg, handler, container.Health, logger)

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}
}

func init() {
	AddCommand(newServeCmd())
}
