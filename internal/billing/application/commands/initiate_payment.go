package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
)

// InitiatePaymentCommand contains the data needed to open a payment attempt.
type InitiatePaymentCommand struct {
	Caller   sharedApplication.CallerIdentity
	PlanName string
	Currency string
	Purpose  domain.PaymentPurpose
}

// InitiatePaymentResult is returned to the caller for redirection.
type InitiatePaymentResult struct {
	Reference string
	Session   *domain.HostedSession
}

// InitiatePaymentHandler creates a pending payment under a fresh reference
// and opens a gateway session for the caller to complete it.
type InitiatePaymentHandler struct {
	payments domain.PaymentRepository
	plans    domain.PlanRepository
	gateway  domain.Gateway
	logger   *slog.Logger
	now      func() time.Time
}

// NewInitiatePaymentHandler creates a new InitiatePaymentHandler.
func NewInitiatePaymentHandler(payments domain.PaymentRepository, plans domain.PlanRepository, gateway domain.Gateway, logger *slog.Logger) *InitiatePaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InitiatePaymentHandler{
		payments: payments,
		plans:    plans,
		gateway:  gateway,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle opens a payment attempt. Upgrades charge the new plan's full price
// immediately; there is no proration.
func (h *InitiatePaymentHandler) Handle(ctx context.Context, cmd InitiatePaymentCommand) (*InitiatePaymentResult, error) {
	if cmd.Caller.IsZero() {
		return nil, fmt.Errorf("initiate payment: missing caller identity")
	}

	plan, err := h.plans.FindByName(ctx, cmd.PlanName)
	if err != nil {
		return nil, fmt.Errorf("load plan %q: %w", cmd.PlanName, err)
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	if !plan.IsActive() {
		return nil, domain.ErrPlanInactive
	}

	currency := cmd.Currency
	if currency == "" {
		currency = plan.Currency()
	}
	purpose := cmd.Purpose
	if purpose == "" {
		purpose = domain.PurposeActivation
	}

	reference := domain.NewReference()
	payment := domain.NewPayment(cmd.Caller.UserID, plan.ID(), reference, plan.Price(currency), currency, purpose)
	if err := h.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment %s: %w", reference, err)
	}

	session, err := h.gateway.CreateHostedSession(ctx, domain.HostedSessionRequest{
		Reference:  reference,
		PlanType:   plan.Name(),
		Amount:     payment.Amount(),
		Currency:   currency,
		PayerEmail: cmd.Caller.Email,
		Metadata: map[string]string{
			"purpose": string(purpose),
			"user_id": cmd.Caller.UserID.String(),
		},
	})
	if err != nil {
		// Settle the attempt so the reference never lingers pending; the
		// caller simply initiates again.
		if mErr := payment.MarkFailed(nil, "failed to open checkout session", h.now()); mErr == nil {
			if _, fErr := h.payments.FinalizeIfPending(ctx, payment); fErr != nil {
				h.logger.Error("failed to settle abandoned payment", "reference", reference, "error", fErr)
			}
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &InitiatePaymentResult{Reference: reference, Session: session}, nil
}
