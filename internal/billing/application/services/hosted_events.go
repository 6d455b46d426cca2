package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
)

// HostedEventProcessor applies hosted-checkout provider lifecycle events to
// local state. Linked subscriptions renew and cancel through these webhooks
// rather than the cron passes, so the two paths never race over one row.
type HostedEventProcessor struct {
	subscriptions domain.SubscriptionRepository
	payments      domain.PaymentRepository
	notifications notifdomain.Repository
	publisher     eventbus.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewHostedEventProcessor creates a processor for hosted provider events.
func NewHostedEventProcessor(
	subscriptions domain.SubscriptionRepository,
	payments domain.PaymentRepository,
	notifications notifdomain.Repository,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *HostedEventProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostedEventProcessor{
		subscriptions: subscriptions,
		payments:      payments,
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the processor's clock. Test hook.
func (p *HostedEventProcessor) WithClock(now func() time.Time) *HostedEventProcessor {
	p.now = now
	return p
}

// ProcessRenewal records a provider-driven renewal: a success payment row
// under the provider's reference and a rolled billing period. Replayed
// webhooks are no-ops thanks to the reference's unique constraint.
func (p *HostedEventProcessor) ProcessRenewal(ctx context.Context, providerSubID, reference string, amount int64, currency string, payload []byte) error {
	sub, err := p.subscriptions.FindByHostedProviderSubID(ctx, providerSubID)
	if err != nil {
		return fmt.Errorf("load subscription for provider sub %s: %w", providerSubID, err)
	}
	if sub == nil {
		return domain.ErrSubscriptionNotFound
	}

	now := p.now()
	payment := domain.NewPayment(sub.UserID(), sub.PlanID(), reference, amount, currency, domain.PurposeRenewal)
	if err := payment.MarkSucceeded(payload, now); err != nil {
		return err
	}
	if err := p.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			p.logger.Info("hosted renewal already recorded", "reference", reference)
			return nil
		}
		return fmt.Errorf("record renewal payment %s: %w", reference, err)
	}

	if err := sub.RecordSuccessfulCharge(now); err != nil {
		return err
	}
	if err := p.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if p.notifications != nil {
		n := notifdomain.New(sub.UserID(), notifdomain.KindChargeSuccess,
			"Payment received",
			fmt.Sprintf("Your %s subscription has renewed. Next billing date: %s.", sub.PlanType(), sub.NextBillingDate().Format("Jan 2, 2006")),
		)
		if err := p.notifications.Save(ctx, n); err != nil {
			p.logger.Warn("failed to save renewal notification", "user_id", sub.UserID(), "error", err)
		}
	}
	sharedApplication.PublishDomainEvents(ctx, p.publisher, p.logger, sub)
	return nil
}

// ProcessCancellation applies a provider-side cancellation immediately: the
// provider has already stopped billing, so there is no period left to honor
// locally.
func (p *HostedEventProcessor) ProcessCancellation(ctx context.Context, providerSubID string) error {
	sub, err := p.subscriptions.FindByHostedProviderSubID(ctx, providerSubID)
	if err != nil {
		return fmt.Errorf("load subscription for provider sub %s: %w", providerSubID, err)
	}
	if sub == nil {
		return domain.ErrSubscriptionNotFound
	}

	if err := sub.Cancel(p.now()); err != nil {
		return err
	}
	if err := p.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if p.notifications != nil {
		n := notifdomain.New(sub.UserID(), notifdomain.KindCancellation,
			"Subscription cancelled",
			fmt.Sprintf("Your %s subscription has been cancelled.", sub.PlanType()),
		)
		if err := p.notifications.Save(ctx, n); err != nil {
			p.logger.Warn("failed to save cancellation notification", "user_id", sub.UserID(), "error", err)
		}
	}
	sharedApplication.PublishDomainEvents(ctx, p.publisher, p.logger, sub)
	return nil
}
