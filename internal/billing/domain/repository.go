package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository defines access for subscription persistence.
// Save has upsert-by-user semantics: at most one subscription row exists per
// user, enforced by a unique constraint on user_id.
type SubscriptionRepository interface {
	Save(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FindByHostedProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)

	// FindDueForTrialConversion selects trial subscriptions whose trial has
	// ended, excluding those renewed by the hosted provider's own webhooks.
	FindDueForTrialConversion(ctx context.Context, now time.Time) ([]*Subscription, error)

	// FindDueForRenewal selects active subscriptions past their billing date
	// with no pending cancellation and no hosted-provider link.
	FindDueForRenewal(ctx context.Context, now time.Time) ([]*Subscription, error)

	// FindPendingCancellation selects subscriptions flagged cancel-at-period-end
	// whose access window has elapsed.
	FindPendingCancellation(ctx context.Context, now time.Time) ([]*Subscription, error)

	// FindTrialsEndingBetween selects trial subscriptions ending inside the
	// window, excluding those flagged for cancellation.
	FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*Subscription, error)
}

// PaymentRepository defines access for payment persistence. The reference
// column carries a unique constraint; Create returns ErrDuplicateReference on
// collision.
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	FindByReference(ctx context.Context, reference string) (*Payment, error)

	// FinalizeIfPending writes the payment's terminal state only if the stored
	// row is still pending. The bool reports whether this caller won; a false
	// return means another caller already finalized the reference.
	FinalizeIfPending(ctx context.Context, payment *Payment) (bool, error)
}

// PlanRepository defines access for the plan catalog.
type PlanRepository interface {
	Save(ctx context.Context, plan *Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	FindByName(ctx context.Context, name string) (*Plan, error)
}
