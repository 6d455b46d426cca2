package queries

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
)

// SubscriptionSnapshot is the read model returned to transport callers.
type SubscriptionSnapshot struct {
	ID                 uuid.UUID  `json:"id"`
	PlanType           string     `json:"plan_type"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	NextBillingDate    time.Time  `json:"next_billing_date"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	AccessEndsAt       time.Time  `json:"access_ends_at"`
	CardLast4          string     `json:"card_last4,omitempty"`
	CardBrand          string     `json:"card_brand,omitempty"`
}

// Snapshot builds the read model for a subscription aggregate.
func Snapshot(sub *domain.Subscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	return &SubscriptionSnapshot{
		ID:                 sub.ID(),
		PlanType:           sub.PlanType(),
		Status:             string(sub.Status()),
		CurrentPeriodStart: sub.CurrentPeriodStart(),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd(),
		TrialEndsAt:        sub.TrialEndsAt(),
		NextBillingDate:    sub.NextBillingDate(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd(),
		AccessEndsAt:       sub.AccessEndsAt(),
		CardLast4:          sub.Card().Last4,
		CardBrand:          sub.Card().Brand,
	}
}

// GetSubscriptionHandler returns the caller's subscription snapshot.
type GetSubscriptionHandler struct {
	subscriptions domain.SubscriptionRepository
}

// NewGetSubscriptionHandler creates a new GetSubscriptionHandler.
func NewGetSubscriptionHandler(subscriptions domain.SubscriptionRepository) *GetSubscriptionHandler {
	return &GetSubscriptionHandler{subscriptions: subscriptions}
}

// Handle returns the subscription snapshot for the user, or nil if none.
func (h *GetSubscriptionHandler) Handle(ctx context.Context, userID uuid.UUID) (*SubscriptionSnapshot, error) {
	sub, err := h.subscriptions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Snapshot(sub), nil
}
