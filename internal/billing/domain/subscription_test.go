package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan(t *testing.T) *Plan {
	t.Helper()
	plan, err := NewPlan("pro", 2900, "USD", 14)
	require.NoError(t, err)
	return plan
}

func TestNewTrialSubscription(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plan := testPlan(t)
	userID := uuid.New()

	sub := NewTrialSubscription(userID, plan, "AUTH_abc", CardDetails{Last4: "4242", Brand: "visa"}, now)

	assert.Equal(t, SubscriptionTrial, sub.Status())
	require.NotNil(t, sub.TrialEndsAt())
	trialEnds := now.Add(14 * 24 * time.Hour)
	assert.Equal(t, trialEnds, *sub.TrialEndsAt())
	assert.Equal(t, trialEnds, sub.NextBillingDate())
	assert.Equal(t, trialEnds.Add(30*24*time.Hour), sub.CurrentPeriodEnd())
	assert.Equal(t, "pro", sub.PlanType())
	assert.True(t, sub.HasStoredInstrument())

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "billing.trial.started", events[0].RoutingKey())
}

func TestSubscription_RecordSuccessfulCharge(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, now.Add(-15*24*time.Hour))
	sub.ClearDomainEvents()

	require.NoError(t, sub.RecordSuccessfulCharge(now))

	assert.Equal(t, SubscriptionActive, sub.Status())
	assert.Nil(t, sub.TrialEndsAt(), "trial marker cleared after conversion")
	assert.Equal(t, now, sub.CurrentPeriodStart())
	assert.Equal(t, now.Add(30*24*time.Hour), sub.CurrentPeriodEnd())
	assert.Equal(t, now.Add(30*24*time.Hour), sub.NextBillingDate())

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "billing.charge.succeeded", events[0].RoutingKey())
}

func TestSubscription_RecordFailedCharge(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, start)
	require.NoError(t, sub.RecordSuccessfulCharge(start.Add(14*24*time.Hour)))
	periodEnd := sub.CurrentPeriodEnd()
	sub.ClearDomainEvents()

	now := periodEnd.Add(time.Hour)
	require.NoError(t, sub.RecordFailedCharge("insufficient funds", now))

	assert.Equal(t, SubscriptionPastDue, sub.Status())
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd(), "period dates survive a failed charge")
	assert.Equal(t, now.Add(3*24*time.Hour), sub.NextBillingDate(), "retry window is three days")

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "billing.charge.failed", events[0].RoutingKey())
}

func TestSubscription_PastDueRecovers(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, start)
	require.NoError(t, sub.RecordSuccessfulCharge(start))
	require.NoError(t, sub.RecordFailedCharge("declined", start.Add(30*24*time.Hour)))
	require.Equal(t, SubscriptionPastDue, sub.Status())

	recovered := start.Add(33 * 24 * time.Hour)
	require.NoError(t, sub.RecordSuccessfulCharge(recovered))
	assert.Equal(t, SubscriptionActive, sub.Status())
	assert.Equal(t, recovered.Add(30*24*time.Hour), sub.NextBillingDate())
}

func TestSubscription_RequestCancellation(t *testing.T) {
	t.Run("while trialing access ends at trial end", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, now)
		sub.ClearDomainEvents()

		accessEnds, changed, err := sub.RequestCancellation()
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, *sub.TrialEndsAt(), accessEnds)
		assert.Equal(t, SubscriptionTrial, sub.Status(), "status untouched by cancellation intent")
		assert.True(t, sub.CancelAtPeriodEnd())
	})

	t.Run("while active access ends at period end", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, now)
		require.NoError(t, sub.RecordSuccessfulCharge(now))

		accessEnds, changed, err := sub.RequestCancellation()
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, sub.CurrentPeriodEnd(), accessEnds)
		assert.Equal(t, SubscriptionActive, sub.Status())
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, time.Now())
		first, changed, err := sub.RequestCancellation()
		require.NoError(t, err)
		require.True(t, changed)
		sub.ClearDomainEvents()

		second, changed, err := sub.RequestCancellation()
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, first, second)
		assert.Empty(t, sub.DomainEvents(), "no duplicate event on repeat cancellation")
	})
}

func TestSubscription_Reactivate(t *testing.T) {
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, time.Now())

	err := sub.Reactivate()
	assert.ErrorIs(t, err, ErrNotPendingCancellation)

	_, _, err = sub.RequestCancellation()
	require.NoError(t, err)
	require.NoError(t, sub.Reactivate())
	assert.False(t, sub.CancelAtPeriodEnd())
}

func TestSubscription_Cancel(t *testing.T) {
	now := time.Now().UTC()
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, now)
	_, _, err := sub.RequestCancellation()
	require.NoError(t, err)

	require.NoError(t, sub.Cancel(now))
	assert.Equal(t, SubscriptionCancelled, sub.Status())
	assert.False(t, sub.CancelAtPeriodEnd(), "flag cleared once honored")

	events := sub.DomainEvents()
	require.NotEmpty(t, events)
	ended, ok := events[len(events)-1].(*SubscriptionEnded)
	require.True(t, ok, "terminal cancel raises SubscriptionEnded, got %T", events[len(events)-1])
	assert.Equal(t, sub.UserID(), ended.UserID)

	// Terminal: further transitions are rejected, repeat cancel is a no-op.
	require.NoError(t, sub.Cancel(now))
	assert.ErrorIs(t, sub.RecordSuccessfulCharge(now), ErrSubscriptionCancelled)
	assert.ErrorIs(t, sub.RecordFailedCharge("x", now), ErrSubscriptionCancelled)
	_, _, err = sub.RequestCancellation()
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)
	assert.ErrorIs(t, sub.Reactivate(), ErrSubscriptionCancelled)
}

func TestSubscription_SwitchPlan(t *testing.T) {
	sub := NewTrialSubscription(uuid.New(), testPlan(t), "AUTH_abc", CardDetails{}, time.Now())
	business, err := NewPlan("business", 7900, "USD", 14)
	require.NoError(t, err)

	require.NoError(t, sub.SwitchPlan(business))
	assert.Equal(t, "business", sub.PlanType())
	assert.Equal(t, business.ID(), sub.PlanID())
}
