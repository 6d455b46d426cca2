package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository handles persistence for notifications.
type Repository interface {
	Save(ctx context.Context, notification Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error

	// CountByKindSince counts the user's notifications of one kind created at
	// or after the cutoff. The reminder job uses it with local midnight to
	// cap reminders at one per day.
	CountByKindSince(ctx context.Context, userID uuid.UUID, kind Kind, since time.Time) (int, error)
}
