package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification for display and dedup purposes.
type Kind string

const (
	KindTrialStarted   Kind = "trial_started"
	KindTrialReminder  Kind = "trial_reminder"
	KindChargeSuccess  Kind = "charge_success"
	KindChargeFailed   Kind = "charge_failed"
	KindCancellation   Kind = "cancellation"
	KindReactivation   Kind = "reactivation"
	KindSubscriptionEnded Kind = "subscription_ended"
)

// Notification is an append-only in-app message raised as a side effect of a
// billing transition. It never feeds back into billing state.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Kind      Kind
	Title     string
	Body      string
	Read      bool
	CreatedAt time.Time
}

// New creates an unread notification.
func New(userID uuid.UUID, kind Kind, title, body string) Notification {
	return Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}
