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

// ReactivateHandler clears a pending cancellation.
type ReactivateHandler struct {
	subscriptions domain.SubscriptionRepository
	notifications notifdomain.Repository
	publisher     eventbus.Publisher
	logger        *slog.Logger
}

// NewReactivateHandler creates a new ReactivateHandler.
func NewReactivateHandler(
	subscriptions domain.SubscriptionRepository,
	notifications notifdomain.Repository,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *ReactivateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReactivateHandler{
		subscriptions: subscriptions,
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
	}
}

// Handle clears the caller's pending cancellation. Only legal while the
// cancel-at-period-end flag is set.
func (h *ReactivateHandler) Handle(ctx context.Context, caller sharedApplication.CallerIdentity) (*domain.Subscription, error) {
	sub, err := h.subscriptions.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	if err := sub.Reactivate(); err != nil {
		return nil, err
	}
	if err := h.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	if h.notifications != nil {
		n := notifdomain.New(caller.UserID, notifdomain.KindReactivation,
			"Subscription reactivated",
			fmt.Sprintf("Your %s subscription will continue. Next billing date: %s.", sub.PlanType(), sub.NextBillingDate().Format("Jan 2, 2006")),
		)
		if err := h.notifications.Save(ctx, n); err != nil {
			h.logger.Warn("failed to save reactivation notification", "user_id", caller.UserID, "error", err)
		}
	}

	sharedApplication.PublishDomainEvents(ctx, h.publisher, h.logger, sub)
	return sub, nil
}
