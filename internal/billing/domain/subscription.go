package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/shared/domain"
)

// SubscriptionStatus represents the current billing state.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

const (
	// billingCycle is the length of one paid period.
	billingCycle = 30 * 24 * time.Hour
	// retryWindow is how long a past-due subscription waits before the next
	// charge attempt.
	retryWindow = 3 * 24 * time.Hour
)

// CardDetails is display-only instrument metadata. It never authorizes a
// charge by itself; only the stored instrument reference does.
type CardDetails struct {
	Last4    string
	Brand    string
	ExpMonth int
	ExpYear  int
}

// Subscription is the billing aggregate for one user. It owns the status
// field: all legal transitions go through methods on this type.
type Subscription struct {
	domain.BaseAggregateRoot
	userID              uuid.UUID
	planID              uuid.UUID
	planType            string
	status              SubscriptionStatus
	currentPeriodStart  time.Time
	currentPeriodEnd    time.Time
	trialEndsAt         *time.Time
	nextBillingDate     time.Time
	cancelAtPeriodEnd   bool
	storedInstrumentRef string
	card                CardDetails
	hostedProviderSubID string
}

// NewTrialSubscription starts a trial for a user on the given plan. The first
// post-trial billing period is laid out up front so the due amount and dates
// are stable regardless of when the conversion charge actually lands.
func NewTrialSubscription(userID uuid.UUID, plan *Plan, instrumentRef string, card CardDetails, now time.Time) *Subscription {
	now = now.UTC()
	trialEnds := now.Add(time.Duration(plan.TrialDays()) * 24 * time.Hour)

	s := &Subscription{
		BaseAggregateRoot:   domain.NewBaseAggregateRoot(),
		userID:              userID,
		planID:              plan.ID(),
		planType:            plan.Name(),
		status:              SubscriptionTrial,
		currentPeriodStart:  now,
		currentPeriodEnd:    trialEnds.Add(billingCycle),
		trialEndsAt:         &trialEnds,
		nextBillingDate:     trialEnds,
		storedInstrumentRef: instrumentRef,
		card:                card,
	}
	s.AddDomainEvent(NewTrialStarted(s.ID(), userID, plan.Name(), trialEnds))
	return s
}

// NewPaidSubscription starts a subscription directly in the active state,
// used when a first payment was verified without a preceding trial.
func NewPaidSubscription(userID uuid.UUID, plan *Plan, instrumentRef string, card CardDetails, now time.Time) *Subscription {
	now = now.UTC()
	s := &Subscription{
		BaseAggregateRoot:   domain.NewBaseAggregateRoot(),
		userID:              userID,
		planID:              plan.ID(),
		planType:            plan.Name(),
		status:              SubscriptionActive,
		currentPeriodStart:  now,
		currentPeriodEnd:    now.Add(billingCycle),
		nextBillingDate:     now.Add(billingCycle),
		storedInstrumentRef: instrumentRef,
		card:                card,
	}
	s.AddDomainEvent(NewChargeSucceeded(s.ID(), userID, plan.Name(), s.currentPeriodEnd))
	return s
}

// RehydrateSubscription recreates a subscription from persisted state.
func RehydrateSubscription(
	entity domain.BaseEntity,
	userID, planID uuid.UUID,
	planType string,
	status SubscriptionStatus,
	currentPeriodStart, currentPeriodEnd time.Time,
	trialEndsAt *time.Time,
	nextBillingDate time.Time,
	cancelAtPeriodEnd bool,
	storedInstrumentRef string,
	card CardDetails,
	hostedProviderSubID string,
) *Subscription {
	return &Subscription{
		BaseAggregateRoot:   domain.RehydrateBaseAggregateRoot(entity),
		userID:              userID,
		planID:              planID,
		planType:            planType,
		status:              status,
		currentPeriodStart:  currentPeriodStart,
		currentPeriodEnd:    currentPeriodEnd,
		trialEndsAt:         trialEndsAt,
		nextBillingDate:     nextBillingDate,
		cancelAtPeriodEnd:   cancelAtPeriodEnd,
		storedInstrumentRef: storedInstrumentRef,
		card:                card,
		hostedProviderSubID: hostedProviderSubID,
	}
}

func (s *Subscription) UserID() uuid.UUID             { return s.userID }
func (s *Subscription) PlanID() uuid.UUID             { return s.planID }
func (s *Subscription) PlanType() string              { return s.planType }
func (s *Subscription) Status() SubscriptionStatus    { return s.status }
func (s *Subscription) CurrentPeriodStart() time.Time { return s.currentPeriodStart }
func (s *Subscription) CurrentPeriodEnd() time.Time   { return s.currentPeriodEnd }
func (s *Subscription) TrialEndsAt() *time.Time       { return s.trialEndsAt }
func (s *Subscription) NextBillingDate() time.Time    { return s.nextBillingDate }
func (s *Subscription) CancelAtPeriodEnd() bool       { return s.cancelAtPeriodEnd }
func (s *Subscription) StoredInstrumentRef() string   { return s.storedInstrumentRef }
func (s *Subscription) Card() CardDetails             { return s.card }
func (s *Subscription) HostedProviderSubID() string   { return s.hostedProviderSubID }

func (s *Subscription) IsCancelled() bool { return s.status == SubscriptionCancelled }
func (s *Subscription) IsTrialing() bool  { return s.status == SubscriptionTrial }

// HasStoredInstrument reports whether a recurring charge can be attempted.
func (s *Subscription) HasStoredInstrument() bool { return s.storedInstrumentRef != "" }

// AccessEndsAt is the date through which the user keeps access: the trial end
// while trialing, otherwise the end of the paid period.
func (s *Subscription) AccessEndsAt() time.Time {
	if s.status == SubscriptionTrial && s.trialEndsAt != nil {
		return *s.trialEndsAt
	}
	return s.currentPeriodEnd
}

// RecordSuccessfulCharge moves the subscription to active and rolls the
// billing period forward one cycle from the charge time. The trial marker is
// cleared: a converted trial is indistinguishable from any other paid period.
func (s *Subscription) RecordSuccessfulCharge(now time.Time) error {
	if s.IsCancelled() {
		return ErrSubscriptionCancelled
	}
	now = now.UTC()
	s.status = SubscriptionActive
	s.currentPeriodStart = now
	s.currentPeriodEnd = now.Add(billingCycle)
	s.nextBillingDate = now.Add(billingCycle)
	s.trialEndsAt = nil
	s.Touch()
	s.AddDomainEvent(NewChargeSucceeded(s.ID(), s.userID, s.planType, s.currentPeriodEnd))
	return nil
}

// RecordFailedCharge marks the subscription past due. Period dates are left
// untouched so a retry computes the same due amount; only the next attempt is
// pushed out by the retry window.
func (s *Subscription) RecordFailedCharge(reason string, now time.Time) error {
	if s.IsCancelled() {
		return ErrSubscriptionCancelled
	}
	s.status = SubscriptionPastDue
	s.nextBillingDate = now.UTC().Add(retryWindow)
	s.Touch()
	s.AddDomainEvent(NewChargeFailed(s.ID(), s.userID, s.planType, reason))
	return nil
}

// RequestCancellation flags the subscription for cancellation at period end.
// Status is untouched: the user keeps the access already paid for. Calling it
// again is a no-op that returns the same access-end date.
func (s *Subscription) RequestCancellation() (accessEndsAt time.Time, changed bool, err error) {
	if s.IsCancelled() {
		return time.Time{}, false, ErrSubscriptionCancelled
	}
	if s.cancelAtPeriodEnd {
		return s.AccessEndsAt(), false, nil
	}
	s.cancelAtPeriodEnd = true
	s.Touch()
	s.AddDomainEvent(NewCancellationRequested(s.ID(), s.userID, s.AccessEndsAt()))
	return s.AccessEndsAt(), true, nil
}

// Reactivate clears a pending cancellation. It is only legal while the
// cancel-at-period-end flag is set.
func (s *Subscription) Reactivate() error {
	if s.IsCancelled() {
		return ErrSubscriptionCancelled
	}
	if !s.cancelAtPeriodEnd {
		return ErrNotPendingCancellation
	}
	s.cancelAtPeriodEnd = false
	s.Touch()
	s.AddDomainEvent(NewSubscriptionReactivated(s.ID(), s.userID))
	return nil
}

// Cancel terminates the subscription. Reached by honoring a deferred
// cancellation past the period end, by a trial ending with no way to charge,
// or by the hosted provider reporting its own cancellation.
func (s *Subscription) Cancel(now time.Time) error {
	if s.IsCancelled() {
		return nil // idempotent
	}
	s.status = SubscriptionCancelled
	s.cancelAtPeriodEnd = false
	s.Touch()
	s.AddDomainEvent(NewSubscriptionEnded(s.ID(), s.userID, now.UTC()))
	return nil
}

// SwitchPlan repoints the subscription at a new plan. Used by the upgrade
// path after the full-price charge for the new plan has been verified.
func (s *Subscription) SwitchPlan(plan *Plan) error {
	if s.IsCancelled() {
		return ErrSubscriptionCancelled
	}
	s.planID = plan.ID()
	s.planType = plan.Name()
	s.Touch()
	return nil
}

// UpdateInstrument stores a new charge authorization and its display metadata,
// typically captured from a verified gateway payload.
func (s *Subscription) UpdateInstrument(ref string, card CardDetails) {
	if ref == "" {
		return
	}
	s.storedInstrumentRef = ref
	s.card = card
	s.Touch()
}

// AttachHostedProviderSub links the subscription to a hosted-checkout provider
// subscription. Renewals for linked subscriptions are driven by that
// provider's webhooks, never by the recurring charge runner.
func (s *Subscription) AttachHostedProviderSub(providerSubID string) {
	s.hostedProviderSubID = providerSubID
	s.Touch()
}
