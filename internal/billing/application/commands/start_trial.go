package commands

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

// StartTrialCommand contains the data needed to start a trial.
type StartTrialCommand struct {
	UserID        uuid.UUID
	PlanName      string
	InstrumentRef string
	Card          domain.CardDetails
}

// StartTrialHandler handles the StartTrialCommand.
type StartTrialHandler struct {
	subscriptions domain.SubscriptionRepository
	plans         domain.PlanRepository
	notifications notifdomain.Repository
	publisher     eventbus.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewStartTrialHandler creates a new StartTrialHandler.
func NewStartTrialHandler(
	subscriptions domain.SubscriptionRepository,
	plans domain.PlanRepository,
	notifications notifdomain.Repository,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *StartTrialHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StartTrialHandler{
		subscriptions: subscriptions,
		plans:         plans,
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the handler's clock. Test hook.
func (h *StartTrialHandler) WithClock(now func() time.Time) *StartTrialHandler {
	h.now = now
	return h
}

// Handle starts a trial for the user. A user may hold at most one
// subscription; a prior cancelled one is replaced, anything else conflicts.
func (h *StartTrialHandler) Handle(ctx context.Context, cmd StartTrialCommand) (*domain.Subscription, error) {
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

	existing, err := h.subscriptions.FindByUserID(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if existing != nil && !existing.IsCancelled() {
		return nil, domain.ErrSubscriptionExists
	}

	sub := domain.NewTrialSubscription(cmd.UserID, plan, cmd.InstrumentRef, cmd.Card, h.now())
	if err := h.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	if h.notifications != nil {
		n := notifdomain.New(cmd.UserID, notifdomain.KindTrialStarted,
			"Trial started",
			fmt.Sprintf("Your %d-day %s trial has started. It ends on %s.", plan.TrialDays(), plan.Name(), sub.TrialEndsAt().Format("Jan 2, 2006")),
		)
		if err := h.notifications.Save(ctx, n); err != nil {
			h.logger.Warn("failed to save trial notification", "user_id", cmd.UserID, "error", err)
		}
	}

	sharedApplication.PublishDomainEvents(ctx, h.publisher, h.logger, sub)
	return sub, nil
}
