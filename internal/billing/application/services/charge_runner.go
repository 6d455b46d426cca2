package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
)

// BatchError records one subscription that could not be processed.
type BatchError struct {
	UserID uuid.UUID `json:"user_id"`
	Err    string    `json:"error"`
}

// BatchResult is the contract every cron pass reports, failure or not. The
// job as a whole only errors on systemic problems (ledger unreachable); a
// single subscription's charge failure lands here instead.
type BatchResult struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors,omitempty"`
}

func (r *BatchResult) recordFailure(userID uuid.UUID, err error) {
	r.Failed++
	r.Errors = append(r.Errors, BatchError{UserID: userID, Err: err.Error()})
}

// chargePass parameterizes the two structurally identical cron passes: trial
// conversion and renewal differ only in the selection predicate, the payment
// purpose, and the notification wording.
type chargePass struct {
	name      string
	purpose   domain.PaymentPurpose
	selectDue func(ctx context.Context, now time.Time) ([]*domain.Subscription, error)
}

// ChargeRunner drives due subscriptions through the gateway and the state
// machine. All passes iterate items sequentially and isolate failures per
// item: one subscription's error never aborts its siblings.
type ChargeRunner struct {
	subscriptions domain.SubscriptionRepository
	payments      domain.PaymentRepository
	plans         domain.PlanRepository
	notifications notifdomain.Repository
	gateway       domain.Gateway
	publisher     eventbus.Publisher
	logger        *slog.Logger
	chargeTimeout time.Duration
	now           func() time.Time
}

// NewChargeRunner creates a charge runner.
func NewChargeRunner(
	subscriptions domain.SubscriptionRepository,
	payments domain.PaymentRepository,
	plans domain.PlanRepository,
	notifications notifdomain.Repository,
	gateway domain.Gateway,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *ChargeRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChargeRunner{
		subscriptions: subscriptions,
		payments:      payments,
		plans:         plans,
		notifications: notifications,
		gateway:       gateway,
		publisher:     publisher,
		logger:        logger,
		chargeTimeout: 30 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the runner's clock. Test hook.
func (r *ChargeRunner) WithClock(now func() time.Time) *ChargeRunner {
	r.now = now
	return r
}

// WithChargeTimeout overrides the per-charge gateway deadline.
func (r *ChargeRunner) WithChargeTimeout(d time.Duration) *ChargeRunner {
	if d > 0 {
		r.chargeTimeout = d
	}
	return r
}

// RunTrialConversions charges subscriptions whose trial has ended.
func (r *ChargeRunner) RunTrialConversions(ctx context.Context) (*BatchResult, error) {
	return r.run(ctx, chargePass{
		name:      "trial_conversion",
		purpose:   domain.PurposeTrialConversion,
		selectDue: r.subscriptions.FindDueForTrialConversion,
	})
}

// RunRenewals charges active subscriptions past their billing date.
// Hosted-provider subscriptions renew through that provider's webhooks and
// are excluded by the selection query to avoid double-charging.
func (r *ChargeRunner) RunRenewals(ctx context.Context) (*BatchResult, error) {
	return r.run(ctx, chargePass{
		name:      "renewal",
		purpose:   domain.PurposeRenewal,
		selectDue: r.subscriptions.FindDueForRenewal,
	})
}

func (r *ChargeRunner) run(ctx context.Context, pass chargePass) (*BatchResult, error) {
	now := r.now()
	due, err := pass.selectDue(ctx, now)
	if err != nil {
		// Systemic: the ledger itself is unreachable. This is the only class
		// of error that fails the job.
		return nil, fmt.Errorf("%s pass: select due subscriptions: %w", pass.name, err)
	}

	result := &BatchResult{}
	for _, sub := range due {
		result.Processed++
		if err := r.chargeOne(ctx, sub, pass.purpose, now); err != nil {
			result.recordFailure(sub.UserID(), err)
			continue
		}
		result.Successful++
	}

	r.logger.Info("charge pass complete",
		"pass", pass.name,
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
	)
	return result, nil
}

// chargeOne runs the charge-then-record sequence for a single subscription.
func (r *ChargeRunner) chargeOne(ctx context.Context, sub *domain.Subscription, purpose domain.PaymentPurpose, now time.Time) error {
	// A subscription that reached its billing date without a stored instrument
	// is a configuration error surfaced to the operator, never a silent skip.
	if !sub.HasStoredInstrument() {
		return domain.ErrNoStoredInstrument
	}

	amount, currency, err := r.dueAmount(ctx, sub)
	if err != nil {
		return err
	}

	reference := domain.NewReference()
	payment := domain.NewPayment(sub.UserID(), sub.PlanID(), reference, amount, currency, purpose)
	if err := r.payments.Create(ctx, payment); err != nil {
		return fmt.Errorf("create payment %s: %w", reference, err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, r.chargeTimeout)
	defer cancel()

	verification, err := r.gateway.ChargeStoredInstrument(chargeCtx, sub.StoredInstrumentRef(), amount, currency, reference, map[string]string{
		"purpose":   string(purpose),
		"plan_type": sub.PlanType(),
		"user_id":   sub.UserID().String(),
	})
	if err != nil {
		// A timeout or transport error is a failure for this attempt, never a
		// success: double-charging is worse than a delayed retry. The next
		// pass retries under a fresh reference.
		return r.settleFailedCharge(ctx, sub, payment, nil, err.Error(), now)
	}
	if !verification.Succeeded() {
		reason := verification.FailureReason
		if reason == "" {
			reason = "charge declined"
		}
		return r.settleFailedCharge(ctx, sub, payment, verification.RawPayload, reason, now)
	}

	return r.settleSuccessfulCharge(ctx, sub, payment, verification, now)
}

// dueAmount resolves what the subscription owes, falling back to the static
// plan table if the catalog row was deleted.
func (r *ChargeRunner) dueAmount(ctx context.Context, sub *domain.Subscription) (int64, string, error) {
	plan, err := r.plans.FindByID(ctx, sub.PlanID())
	if err != nil {
		return 0, "", fmt.Errorf("load plan: %w", err)
	}
	if plan != nil {
		return plan.PriceMonthly(), plan.Currency(), nil
	}
	amount, currency, ok := domain.FallbackPrice(sub.PlanType())
	if !ok {
		return 0, "", fmt.Errorf("no pricing for plan %q", sub.PlanType())
	}
	return amount, currency, nil
}

func (r *ChargeRunner) settleSuccessfulCharge(ctx context.Context, sub *domain.Subscription, payment *domain.Payment, verification *domain.VerificationResult, now time.Time) error {
	if err := payment.MarkSucceeded(verification.RawPayload, now); err != nil {
		return err
	}
	if _, err := r.payments.FinalizeIfPending(ctx, payment); err != nil {
		return fmt.Errorf("finalize payment %s: %w", payment.Reference(), err)
	}

	sub.UpdateInstrument(verification.InstrumentRef, verification.Card)
	if err := sub.RecordSuccessfulCharge(now); err != nil {
		return err
	}
	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	r.notify(ctx, sub.UserID(), notifdomain.KindChargeSuccess,
		"Payment received",
		fmt.Sprintf("Your %s subscription has renewed. Next billing date: %s.", sub.PlanType(), sub.NextBillingDate().Format("Jan 2, 2006")),
	)
	sharedApplication.PublishDomainEvents(ctx, r.publisher, r.logger, sub)
	return nil
}

// settleFailedCharge records the terminal payment failure, degrades the
// subscription to past due, and reports the reason back for the batch
// summary. The returned error is the per-item record, not an abort signal.
func (r *ChargeRunner) settleFailedCharge(ctx context.Context, sub *domain.Subscription, payment *domain.Payment, payload []byte, reason string, now time.Time) error {
	if err := payment.MarkFailed(payload, reason, now); err != nil {
		return err
	}
	if _, err := r.payments.FinalizeIfPending(ctx, payment); err != nil {
		return fmt.Errorf("finalize payment %s: %w", payment.Reference(), err)
	}

	if err := sub.RecordFailedCharge(reason, now); err != nil {
		return err
	}
	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	r.notify(ctx, sub.UserID(), notifdomain.KindChargeFailed,
		"Payment failed",
		fmt.Sprintf("We couldn't process your payment for the %s plan. Please update your payment method; we'll retry in 3 days.", sub.PlanType()),
	)
	sharedApplication.PublishDomainEvents(ctx, r.publisher, r.logger, sub)

	return fmt.Errorf("charge failed: %s", reason)
}

// EnactCancellations honors cancel-at-period-end flags whose access window
// has elapsed. Kept as its own reconciliation pass so a cancelled-but-paid
// user retains access until the period actually ends.
func (r *ChargeRunner) EnactCancellations(ctx context.Context) (*BatchResult, error) {
	now := r.now()
	due, err := r.subscriptions.FindPendingCancellation(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("cancellation pass: select subscriptions: %w", err)
	}

	result := &BatchResult{}
	for _, sub := range due {
		result.Processed++
		accessEnded := sub.AccessEndsAt()
		if err := sub.Cancel(now); err != nil {
			result.recordFailure(sub.UserID(), err)
			continue
		}
		if err := r.subscriptions.Save(ctx, sub); err != nil {
			result.recordFailure(sub.UserID(), fmt.Errorf("save subscription: %w", err))
			continue
		}
		r.notify(ctx, sub.UserID(), notifdomain.KindSubscriptionEnded,
			"Subscription ended",
			fmt.Sprintf("Your %s subscription ended on %s, as requested.", sub.PlanType(), accessEnded.Format("Jan 2, 2006")),
		)
		sharedApplication.PublishDomainEvents(ctx, r.publisher, r.logger, sub)
		result.Successful++
	}

	r.logger.Info("cancellation pass complete",
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
	)
	return result, nil
}

func (r *ChargeRunner) notify(ctx context.Context, userID uuid.UUID, kind notifdomain.Kind, title, body string) {
	if r.notifications == nil {
		return
	}
	if err := r.notifications.Save(ctx, notifdomain.New(userID, kind, title, body)); err != nil {
		r.logger.Warn("failed to save notification", "user_id", userID, "kind", string(kind), "error", err)
	}
}
