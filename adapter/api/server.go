// Package api provides the HTTP transport for the QueueCast billing engine.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/queuecast/queuecast/pkg/observability"
)

// Server is the billing HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *BillingHandler
	health  *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new billing API server.
func NewServer(cfg ServerConfig, handler *BillingHandler, health *observability.HealthRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = observability.NewHealthRegistry()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		handler: handler,
		health:  health,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      withRequestContext(logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	h := s.handler

	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Subscription lifecycle
	s.mux.HandleFunc("POST /api/v1/subscription/trial", h.StartTrial)
	s.mux.HandleFunc("GET /api/v1/subscription", h.GetSubscription)
	s.mux.HandleFunc("POST /api/v1/subscription/cancel", h.RequestCancellation)
	s.mux.HandleFunc("POST /api/v1/subscription/reactivate", h.Reactivate)

	// Payments
	s.mux.HandleFunc("POST /api/v1/payments", h.InitiatePayment)
	s.mux.HandleFunc("GET /api/v1/payments/verify/{reference}", h.VerifyPayment)

	// Cron triggers, bearer-secret guarded. External schedulers hit these;
	// the worker binary drives the same jobs on tickers.
	s.mux.HandleFunc("GET /api/v1/cron/renewals", h.requireCronSecret(h.RunRenewals))
	s.mux.HandleFunc("GET /api/v1/cron/trial-conversions", h.requireCronSecret(h.RunTrialConversions))
	s.mux.HandleFunc("GET /api/v1/cron/reminders", h.requireCronSecret(h.RunReminders))

	// Gateway webhooks
	s.mux.HandleFunc("POST /api/v1/webhooks/cardauth", h.CardAuthWebhook)
	s.mux.HandleFunc("POST /api/v1/webhooks/hostedpay", h.HostedPayWebhook)

	// Notifications
	s.mux.HandleFunc("GET /api/v1/notifications", h.ListNotifications)
	s.mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.MarkNotificationRead)
}

// handleHealth reports aggregate component health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if health.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting billing API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down billing API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the server's root handler. Test hook.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// withRequestContext assigns every request a request ID, honors an inbound
// correlation header, and logs the request after completion.
func withRequestContext(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(ctx))

		logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
