package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/shared/domain"
)

const aggregateTypeSubscription = "subscription"

// TrialStarted is raised when a user starts a trial.
type TrialStarted struct {
	domain.BaseEvent
	UserID      uuid.UUID
	PlanType    string
	TrialEndsAt time.Time
}

// NewTrialStarted creates a TrialStarted event.
func NewTrialStarted(subscriptionID, userID uuid.UUID, planType string, trialEndsAt time.Time) *TrialStarted {
	return &TrialStarted{
		BaseEvent:   domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.trial.started"),
		UserID:      userID,
		PlanType:    planType,
		TrialEndsAt: trialEndsAt,
	}
}

// ChargeSucceeded is raised when a charge lands and the period rolls forward.
type ChargeSucceeded struct {
	domain.BaseEvent
	UserID       uuid.UUID
	PlanType     string
	NewPeriodEnd time.Time
}

// NewChargeSucceeded creates a ChargeSucceeded event.
func NewChargeSucceeded(subscriptionID, userID uuid.UUID, planType string, newPeriodEnd time.Time) *ChargeSucceeded {
	return &ChargeSucceeded{
		BaseEvent:    domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.charge.succeeded"),
		UserID:       userID,
		PlanType:     planType,
		NewPeriodEnd: newPeriodEnd,
	}
}

// ChargeFailed is raised when a charge is declined or errors out.
type ChargeFailed struct {
	domain.BaseEvent
	UserID   uuid.UUID
	PlanType string
	Reason   string
}

// NewChargeFailed creates a ChargeFailed event.
func NewChargeFailed(subscriptionID, userID uuid.UUID, planType, reason string) *ChargeFailed {
	return &ChargeFailed{
		BaseEvent: domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.charge.failed"),
		UserID:    userID,
		PlanType:  planType,
		Reason:    reason,
	}
}

// CancellationRequested is raised when the cancel-at-period-end flag is set.
type CancellationRequested struct {
	domain.BaseEvent
	UserID       uuid.UUID
	AccessEndsAt time.Time
}

// NewCancellationRequested creates a CancellationRequested event.
func NewCancellationRequested(subscriptionID, userID uuid.UUID, accessEndsAt time.Time) *CancellationRequested {
	return &CancellationRequested{
		BaseEvent:    domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.subscription.cancel_requested"),
		UserID:       userID,
		AccessEndsAt: accessEndsAt,
	}
}

// SubscriptionReactivated is raised when a pending cancellation is cleared.
type SubscriptionReactivated struct {
	domain.BaseEvent
	UserID uuid.UUID
}

// NewSubscriptionReactivated creates a SubscriptionReactivated event.
func NewSubscriptionReactivated(subscriptionID, userID uuid.UUID) *SubscriptionReactivated {
	return &SubscriptionReactivated{
		BaseEvent: domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.subscription.reactivated"),
		UserID:    userID,
	}
}

// SubscriptionEnded is raised when a subscription is terminally cancelled.
type SubscriptionEnded struct {
	domain.BaseEvent
	UserID      uuid.UUID
	CancelledAt time.Time
}

// NewSubscriptionEnded creates a SubscriptionEnded event.
func NewSubscriptionEnded(subscriptionID, userID uuid.UUID, cancelledAt time.Time) *SubscriptionEnded {
	return &SubscriptionEnded{
		BaseEvent:   domain.NewBaseEvent(subscriptionID, aggregateTypeSubscription, "billing.subscription.cancelled"),
		UserID:      userID,
		CancelledAt: cancelledAt,
	}
}
