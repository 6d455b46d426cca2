package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
)

// VerifyOutcome is what the caller of Verify sees: the payment's terminal (or
// still-pending) status and a user-presentable message.
type VerifyOutcome struct {
	Status  domain.PaymentStatus
	Message string
	Payment *domain.Payment
}

// PaymentVerifier reconciles a single payment attempt against gateway truth.
// The same instance serves the interactive redirect callback and the
// asynchronous provider webhook; its idempotency fast-path is what makes the
// race between the two safe.
type PaymentVerifier struct {
	payments      domain.PaymentRepository
	subscriptions domain.SubscriptionRepository
	plans         domain.PlanRepository
	notifications notifdomain.Repository
	gateway       domain.Gateway
	publisher     eventbus.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewPaymentVerifier creates a verifier.
func NewPaymentVerifier(
	payments domain.PaymentRepository,
	subscriptions domain.SubscriptionRepository,
	plans domain.PlanRepository,
	notifications notifdomain.Repository,
	gateway domain.Gateway,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *PaymentVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentVerifier{
		payments:      payments,
		subscriptions: subscriptions,
		plans:         plans,
		notifications: notifications,
		gateway:       gateway,
		publisher:     publisher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the verifier's clock. Test hook.
func (v *PaymentVerifier) WithClock(now func() time.Time) *PaymentVerifier {
	v.now = now
	return v
}

// Verify reconciles the payment identified by reference. Safe to call any
// number of times: once the payment is terminal, the stored result is
// returned without another gateway call or state mutation.
//
// A returned error means the outcome is still unknown (gateway unreachable,
// ledger write failed); the payment stays pending and the caller's transport
// layer should surface a retryable error.
func (v *PaymentVerifier) Verify(ctx context.Context, reference string) (*VerifyOutcome, error) {
	payment, err := v.payments.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", reference, err)
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}

	// Idempotency fast-path: terminal rows are settled truth.
	if payment.IsTerminal() {
		return outcomeOf(payment), nil
	}

	result, err := v.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("gateway verify %s: %w", reference, err)
	}

	switch {
	case result.Succeeded():
		return v.settleSuccess(ctx, payment, result)
	case result.Status == domain.VerificationPending:
		// The provider has not settled the charge yet (e.g. an open hosted
		// session). Nothing is written; a later call decides.
		return &VerifyOutcome{
			Status:  domain.PaymentPending,
			Message: "payment is still being processed",
			Payment: payment,
		}, nil
	default:
		return v.settleFailure(ctx, payment, result)
	}
}

// settleSuccess writes the terminal success state and drives the
// purpose-matched subscription transition. Only the caller that wins the
// finalize race mutates the subscription.
func (v *PaymentVerifier) settleSuccess(ctx context.Context, payment *domain.Payment, result *domain.VerificationResult) (*VerifyOutcome, error) {
	now := v.now()
	if err := payment.MarkSucceeded(result.RawPayload, now); err != nil {
		return nil, err
	}
	won, err := v.payments.FinalizeIfPending(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("finalize payment %s: %w", payment.Reference(), err)
	}
	if !won {
		// Another caller (webhook vs. callback) finalized first. Re-read and
		// report the settled state; the subscription was already transitioned.
		settled, err := v.payments.FindByReference(ctx, payment.Reference())
		if err != nil {
			return nil, err
		}
		return outcomeOf(settled), nil
	}

	if err := v.applyTransition(ctx, payment, result, now); err != nil {
		// The payment row is settled; the subscription write failed. Loud log:
		// the next cron reconciliation pass picks the subscription up again.
		v.logger.Error("payment settled but subscription transition failed",
			"reference", payment.Reference(),
			"purpose", string(payment.Purpose()),
			"error", err,
		)
		return nil, err
	}

	return outcomeOf(payment), nil
}

func (v *PaymentVerifier) settleFailure(ctx context.Context, payment *domain.Payment, result *domain.VerificationResult) (*VerifyOutcome, error) {
	reason := result.FailureReason
	if reason == "" {
		reason = "payment verification failed"
	}
	if err := payment.MarkFailed(result.RawPayload, reason, v.now()); err != nil {
		return nil, err
	}
	won, err := v.payments.FinalizeIfPending(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("finalize payment %s: %w", payment.Reference(), err)
	}
	if !won {
		settled, err := v.payments.FindByReference(ctx, payment.Reference())
		if err != nil {
			return nil, err
		}
		return outcomeOf(settled), nil
	}
	// The charge runner's own failure handler owns subscription degradation;
	// the verification path never mutates subscription state on failure.
	return outcomeOf(payment), nil
}

// applyTransition moves the subscription according to the payment's purpose.
func (v *PaymentVerifier) applyTransition(ctx context.Context, payment *domain.Payment, result *domain.VerificationResult, now time.Time) error {
	sub, err := v.subscriptions.FindByUserID(ctx, payment.UserID())
	if err != nil {
		return err
	}

	switch payment.Purpose() {
	case domain.PurposeActivation:
		if sub == nil || sub.IsCancelled() {
			plan, err := v.plans.FindByID(ctx, payment.PlanID())
			if err != nil {
				return err
			}
			if plan == nil {
				return domain.ErrPlanNotFound
			}
			sub = domain.NewPaidSubscription(payment.UserID(), plan, result.InstrumentRef, result.Card, now)
		} else {
			sub.UpdateInstrument(result.InstrumentRef, result.Card)
			if err := sub.RecordSuccessfulCharge(now); err != nil {
				return err
			}
		}
	case domain.PurposeUpgrade:
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		plan, err := v.plans.FindByID(ctx, payment.PlanID())
		if err != nil {
			return err
		}
		if plan == nil {
			return domain.ErrPlanNotFound
		}
		if err := sub.SwitchPlan(plan); err != nil {
			return err
		}
		sub.UpdateInstrument(result.InstrumentRef, result.Card)
		if err := sub.RecordSuccessfulCharge(now); err != nil {
			return err
		}
	default: // renewal, trial conversion
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		sub.UpdateInstrument(result.InstrumentRef, result.Card)
		if err := sub.RecordSuccessfulCharge(now); err != nil {
			return err
		}
	}

	if err := v.subscriptions.Save(ctx, sub); err != nil {
		return err
	}

	if v.notifications != nil {
		n := notifdomain.New(payment.UserID(), notifdomain.KindChargeSuccess,
			"Payment received",
			fmt.Sprintf("Your %s subscription is active until %s.", sub.PlanType(), sub.CurrentPeriodEnd().Format("Jan 2, 2006")),
		)
		if err := v.notifications.Save(ctx, n); err != nil {
			v.logger.Warn("failed to save payment notification", "user_id", payment.UserID(), "error", err)
		}
	}

	sharedApplication.PublishDomainEvents(ctx, v.publisher, v.logger, sub)
	return nil
}

func outcomeOf(payment *domain.Payment) *VerifyOutcome {
	msg := "payment verified"
	switch payment.Status() {
	case domain.PaymentFailed:
		msg = "payment failed"
		if payment.FailureReason() != "" {
			msg = payment.FailureReason()
		}
	case domain.PaymentPending:
		msg = "payment is still being processed"
	}
	return &VerifyOutcome{
		Status:  payment.Status(),
		Message: msg,
		Payment: payment,
	}
}
