package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/application/commands"
	"github.com/queuecast/queuecast/internal/billing/application/queries"
	"github.com/queuecast/queuecast/internal/billing/application/services"
	"github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/queuecast/queuecast/internal/billing/infrastructure/gateway"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// BillingHandler exposes the billing application layer over HTTP. Caller
// identity arrives in X-User-ID / X-User-Email headers, resolved upstream by
// the identity layer; this service never sees credentials.
type BillingHandler struct {
	startTrial      *commands.StartTrialHandler
	cancel          *commands.RequestCancellationHandler
	reactivate      *commands.ReactivateHandler
	initiatePayment *commands.InitiatePaymentHandler
	getSubscription *queries.GetSubscriptionHandler

	verifier *services.PaymentVerifier
	// hostedVerifier reconciles references opened on the hosted-checkout
	// provider; it shares every repository with verifier and differs only in
	// the gateway it asks for truth.
	hostedVerifier *services.PaymentVerifier
	runner         *services.ChargeRunner
	reminders      *services.ReminderNotifier
	hostedEvents   *services.HostedEventProcessor

	notifications notifdomain.Repository

	cronSecret             string
	cardAuthWebhookSecret  string
	hostedPayWebhookSecret string

	validate *validator.Validate
	logger   *slog.Logger
}

// BillingHandlerConfig wires a BillingHandler.
type BillingHandlerConfig struct {
	StartTrial      *commands.StartTrialHandler
	Cancel          *commands.RequestCancellationHandler
	Reactivate      *commands.ReactivateHandler
	InitiatePayment *commands.InitiatePaymentHandler
	GetSubscription *queries.GetSubscriptionHandler

	Verifier       *services.PaymentVerifier
	HostedVerifier *services.PaymentVerifier
	Runner         *services.ChargeRunner
	Reminders      *services.ReminderNotifier
	HostedEvents   *services.HostedEventProcessor

	Notifications notifdomain.Repository

	CronSecret             string
	CardAuthWebhookSecret  string
	HostedPayWebhookSecret string

	Logger *slog.Logger
}

// NewBillingHandler creates the handler set.
func NewBillingHandler(cfg BillingHandlerConfig) *BillingHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		startTrial:             cfg.StartTrial,
		cancel:                 cfg.Cancel,
		reactivate:             cfg.Reactivate,
		initiatePayment:        cfg.InitiatePayment,
		getSubscription:        cfg.GetSubscription,
		verifier:               cfg.Verifier,
		hostedVerifier:         cfg.HostedVerifier,
		runner:                 cfg.Runner,
		reminders:              cfg.Reminders,
		hostedEvents:           cfg.HostedEvents,
		notifications:          cfg.Notifications,
		cronSecret:             cfg.CronSecret,
		cardAuthWebhookSecret:  cfg.CardAuthWebhookSecret,
		hostedPayWebhookSecret: cfg.HostedPayWebhookSecret,
		validate:               validator.New(),
		logger:                 logger,
	}
}

// callerFromRequest resolves the caller identity from trusted headers.
func callerFromRequest(r *http.Request) sharedApplication.CallerIdentity {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return sharedApplication.CallerIdentity{}
	}
	return sharedApplication.CallerIdentity{
		UserID: id,
		Email:  r.Header.Get("X-User-Email"),
	}
}

type cardPayload struct {
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type startTrialRequest struct {
	Plan          string      `json:"plan" validate:"required"`
	InstrumentRef string      `json:"instrument_ref"`
	Card          cardPayload `json:"card"`
}

// StartTrial handles POST /api/v1/subscription/trial.
func (h *BillingHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	var req startTrialRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.startTrial.Handle(r.Context(), commands.StartTrialCommand{
		UserID:        caller.UserID,
		PlanName:      req.Plan,
		InstrumentRef: req.InstrumentRef,
		Card: domain.CardDetails{
			Last4:    req.Card.Last4,
			Brand:    req.Card.Brand,
			ExpMonth: req.Card.ExpMonth,
			ExpYear:  req.Card.ExpYear,
		},
	})
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, queries.Snapshot(sub))
}

// GetSubscription handles GET /api/v1/subscription.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	snapshot, err := h.getSubscription.Handle(r.Context(), caller.UserID)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "no subscription")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// RequestCancellation handles POST /api/v1/subscription/cancel. Idempotent;
// the subscription keeps its status and access until the period ends.
func (h *BillingHandler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	sub, err := h.cancel.Handle(r.Context(), caller)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.Snapshot(sub))
}

// Reactivate handles POST /api/v1/subscription/reactivate.
func (h *BillingHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	sub, err := h.reactivate.Handle(r.Context(), caller)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.Snapshot(sub))
}

type initiatePaymentRequest struct {
	Plan     string `json:"plan" validate:"required"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Purpose  string `json:"purpose" validate:"omitempty,oneof=activation trial_conversion renewal upgrade"`
}

// InitiatePayment handles POST /api/v1/payments.
func (h *BillingHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	var req initiatePaymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.initiatePayment.Handle(r.Context(), commands.InitiatePaymentCommand{
		Caller:   caller,
		PlanName: req.Plan,
		Currency: strings.ToUpper(req.Currency),
		Purpose:  domain.PaymentPurpose(req.Purpose),
	})
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reference":         result.Reference,
		"session_id":        result.Session.SessionID,
		"authorization_url": result.Session.URL,
	})
}

// VerifyPayment handles GET /api/v1/payments/verify/{reference}. Safe to hit
// repeatedly; terminal payments return their stored outcome.
func (h *BillingHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		writeError(w, http.StatusBadRequest, "missing reference")
		return
	}

	outcome, err := h.verifier.Verify(r.Context(), reference)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "unknown payment reference")
			return
		}
		h.logger.ErrorContext(r.Context(), "payment verification failed",
			"reference", reference,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "verification is temporarily unavailable, try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": outcome.Status == domain.PaymentSuccess,
		"message": outcome.Message,
		"data": map[string]any{
			"reference": outcome.Payment.Reference(),
			"status":    string(outcome.Status),
			"amount":    outcome.Payment.Amount(),
			"currency":  outcome.Payment.Currency(),
		},
	})
}

// requireCronSecret guards the cron trigger routes with a shared bearer
// secret. An unset secret is a deployment fault and reads as such, not as an
// open door.
func (h *BillingHandler) requireCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cronSecret == "" {
			h.logger.ErrorContext(r.Context(), "cron endpoint hit with no CRON_SECRET configured")
			writeError(w, http.StatusInternalServerError, "cron secret not configured")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != h.cronSecret {
			writeError(w, http.StatusUnauthorized, "invalid cron token")
			return
		}
		next(w, r)
	}
}

// RunRenewals handles GET /api/v1/cron/renewals. Deferred cancellations are
// enacted in the same pass so a period that just lapsed cannot be charged.
func (h *BillingHandler) RunRenewals(w http.ResponseWriter, r *http.Request) {
	cancellations, err := h.runner.EnactCancellations(r.Context())
	if err != nil {
		h.writeCronError(w, r, "enact cancellations", err)
		return
	}
	renewals, err := h.runner.RunRenewals(r.Context())
	if err != nil {
		h.writeCronError(w, r, "run renewals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancellations": cancellations,
		"renewals":      renewals,
	})
}

// RunTrialConversions handles GET /api/v1/cron/trial-conversions.
func (h *BillingHandler) RunTrialConversions(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunTrialConversions(r.Context())
	if err != nil {
		h.writeCronError(w, r, "run trial conversions", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunReminders handles GET /api/v1/cron/reminders.
func (h *BillingHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.reminders.Run(r.Context())
	if err != nil {
		h.writeCronError(w, r, "run reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// cardAuthEvent is the card provider's webhook envelope.
type cardAuthEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// CardAuthWebhook handles POST /api/v1/webhooks/cardauth. The signature is
// checked against the raw body before any parsing. The event payload is never
// trusted for amounts; it only names a reference, which is re-verified
// against the gateway.
func (h *BillingHandler) CardAuthWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !gateway.ValidCardAuthSignature(body, r.Header.Get("X-Cardauth-Signature"), h.cardAuthWebhookSecret) {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event cardAuthEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	switch event.Event {
	case "charge.success", "charge.failed":
		if event.Data.Reference == "" {
			writeError(w, http.StatusBadRequest, "event without reference")
			return
		}
		if _, err := h.verifier.Verify(r.Context(), event.Data.Reference); err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				// Not ours (for example a payment made through another
				// product on the same gateway account). Acknowledge so the
				// provider stops retrying.
				writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
				return
			}
			h.logger.ErrorContext(r.Context(), "webhook verification failed",
				"provider", "cardauth",
				"reference", event.Data.Reference,
				"error", err,
			)
			// Non-2xx so the provider redelivers once the outage passes.
			writeError(w, http.StatusInternalServerError, "verification failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// hostedPayEvent is the hosted-checkout provider's webhook envelope.
type hostedPayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference      string `json:"client_reference_id"`
		SubscriptionID string `json:"subscription_id"`
		Amount         int64  `json:"amount_total"`
		Currency       string `json:"currency"`
	} `json:"data"`
}

// HostedPayWebhook handles POST /api/v1/webhooks/hostedpay. Order events are
// reconciled through the hosted-provider verifier; subscription events drive
// the hosted renewal/cancellation processor.
func (h *BillingHandler) HostedPayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !gateway.ValidHostedPaySignature(body, r.Header.Get("X-Hostedpay-Signature"), h.hostedPayWebhookSecret) {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event hostedPayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	switch event.Event {
	case "order.paid":
		if event.Data.Reference == "" {
			writeError(w, http.StatusBadRequest, "event without reference")
			return
		}
		if _, err := h.hostedVerifier.Verify(r.Context(), event.Data.Reference); err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
				return
			}
			h.logger.ErrorContext(r.Context(), "webhook verification failed",
				"provider", "hostedpay",
				"reference", event.Data.Reference,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "verification failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})

	case "subscription.renewed":
		err := h.hostedEvents.ProcessRenewal(r.Context(),
			event.Data.SubscriptionID, event.Data.Reference,
			event.Data.Amount, strings.ToUpper(event.Data.Currency), body)
		h.writeHostedEventResult(w, r, event.Event, err)

	case "subscription.cancelled":
		err := h.hostedEvents.ProcessCancellation(r.Context(), event.Data.SubscriptionID)
		h.writeHostedEventResult(w, r, event.Event, err)

	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *BillingHandler) writeHostedEventResult(w http.ResponseWriter, r *http.Request, event string, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.logger.ErrorContext(r.Context(), "hosted event processing failed",
			"event", event,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// ListNotifications handles GET /api/v1/notifications.
func (h *BillingHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.notifications.ListByUser(r.Context(), caller.UserID, unreadOnly)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notificationViews(list)})
}

// MarkNotificationRead handles POST /api/v1/notifications/{id}/read.
func (h *BillingHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if caller.IsZero() {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.notifications.MarkRead(r.Context(), caller.UserID, id); err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notificationView struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt string    `json:"created_at"`
}

func notificationViews(list []notifdomain.Notification) []notificationView {
	views := make([]notificationView, 0, len(list))
	for _, n := range list {
		views = append(views, notificationView{
			ID:        n.ID,
			Kind:      string(n.Kind),
			Title:     n.Title,
			Body:      n.Body,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return views
}

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation, writing a 400 and returning false on any problem.
func (h *BillingHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// writeBillingError maps domain errors onto HTTP statuses.
func (h *BillingHandler) writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSubscriptionExists),
		errors.Is(err, domain.ErrSubscriptionCancelled),
		errors.Is(err, domain.ErrNotPendingCancellation),
		errors.Is(err, domain.ErrDuplicateReference):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPlanInactive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *BillingHandler) writeCronError(w http.ResponseWriter, r *http.Request, job string, err error) {
	h.logger.ErrorContext(r.Context(), "cron job failed", "job", job, "error", err)
	writeError(w, http.StatusInternalServerError, job+" failed")
}
