package domain

import "errors"

var (
	// ErrSubscriptionExists is returned when a user already holds a
	// subscription in a non-cancelled state.
	ErrSubscriptionExists = errors.New("user already has an active subscription")

	// ErrSubscriptionNotFound is returned when no subscription exists for the user.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionCancelled is returned when an operation is attempted on a
	// terminally cancelled subscription.
	ErrSubscriptionCancelled = errors.New("subscription is cancelled")

	// ErrNotPendingCancellation is returned by Reactivate when no deferred
	// cancellation is pending.
	ErrNotPendingCancellation = errors.New("subscription is not pending cancellation")

	// ErrNoStoredInstrument marks a subscription that reached its billing date
	// without a stored payment instrument. It is aggregated per item by the
	// charge runner, never thrown across a batch.
	ErrNoStoredInstrument = errors.New("no stored payment instrument on file")

	ErrPlanNotFound = errors.New("plan not found")
	ErrPlanInactive = errors.New("plan is not active")

	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentAlreadyTerminal is returned when a terminal payment is asked to
	// transition again. Verification of terminal payments short-circuits before
	// reaching this, so seeing it usually means a lost idempotency race.
	ErrPaymentAlreadyTerminal = errors.New("payment already in a terminal state")

	// ErrDuplicateReference is returned when a payment reference collides with
	// an existing row. References are the system-wide idempotency key.
	ErrDuplicateReference = errors.New("payment reference already exists")

	// ErrNotSupported is returned by gateway providers for operations outside
	// their model (e.g. stored-instrument charges on a hosted-checkout provider).
	ErrNotSupported = errors.New("operation not supported by this provider")
)
