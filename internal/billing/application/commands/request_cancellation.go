package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	sharedApplication "github.com/queuecast/queuecast/internal/shared/application"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
)

// RequestCancellationHandler flags a subscription for cancellation at period
// end. Idempotent: a repeat request changes nothing and raises no second
// notification.
type RequestCancellationHandler struct {
	subscriptions domain.SubscriptionRepository
	notifications notifdomain.Repository
	publisher     eventbus.Publisher
	logger        *slog.Logger
}

// NewRequestCancellationHandler creates a new RequestCancellationHandler.
func NewRequestCancellationHandler(
	subscriptions domain.SubscriptionRepository,
	notifications notifdomain.Repository,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *RequestCancellationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestCancellationHandler{
		subscriptions: subscriptions,
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
	}
}

// Handle marks the caller's subscription for deferred cancellation and
// returns it with the computed access-end date. Access is never silently
// revoked: the user keeps what they paid for until that date.
func (h *RequestCancellationHandler) Handle(ctx context.Context, caller sharedApplication.CallerIdentity) (*domain.Subscription, error) {
	sub, err := h.subscriptions.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	accessEndsAt, changed, err := sub.RequestCancellation()
	if err != nil {
		return nil, err
	}
	if !changed {
		return sub, nil
	}

	if err := h.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	if h.notifications != nil {
		n := notifdomain.New(caller.UserID, notifdomain.KindCancellation,
			"Cancellation scheduled",
			fmt.Sprintf("Your %s subscription will end on %s. You keep full access until then.", sub.PlanType(), accessEndsAt.Format("Jan 2, 2006")),
		)
		if err := h.notifications.Save(ctx, n); err != nil {
			h.logger.Warn("failed to save cancellation notification", "user_id", caller.UserID, "error", err)
		}
	}

	sharedApplication.PublishDomainEvents(ctx, h.publisher, h.logger, sub)
	return sub, nil
}
