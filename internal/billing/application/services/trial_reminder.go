package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
)

const (
	reminderWindowStart = 24 * time.Hour
	reminderWindowEnd   = 72 * time.Hour
)

// ReminderNotifier raises in-app notifications ahead of trial expiry. It is
// read-only with respect to billing state, so its failures are non-fatal and
// individually retryable on the next run.
type ReminderNotifier struct {
	subscriptions domain.SubscriptionRepository
	notifications notifdomain.Repository
	logger        *slog.Logger
	now           func() time.Time
}

// NewReminderNotifier creates a reminder notifier.
func NewReminderNotifier(subscriptions domain.SubscriptionRepository, notifications notifdomain.Repository, logger *slog.Logger) *ReminderNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderNotifier{
		subscriptions: subscriptions,
		notifications: notifications,
		logger:        logger,
		now:           func() time.Time { return time.Now() },
	}
}

// WithClock overrides the notifier's clock. Test hook.
func (n *ReminderNotifier) WithClock(now func() time.Time) *ReminderNotifier {
	n.now = now
	return n
}

// Run notifies users whose trial ends one to three days out, at most once per
// subscription per day. Dedup is a count of reminders created since local
// midnight, so rerunning the job the same day creates nothing new.
func (n *ReminderNotifier) Run(ctx context.Context) (*BatchResult, error) {
	now := n.now()
	trials, err := n.subscriptions.FindTrialsEndingBetween(ctx, now.Add(reminderWindowStart), now.Add(reminderWindowEnd))
	if err != nil {
		return nil, fmt.Errorf("reminder pass: select trials: %w", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	result := &BatchResult{}
	for _, sub := range trials {
		// The store already excludes these; re-check so a stale row never
		// nags a user who cancelled.
		if sub.CancelAtPeriodEnd() {
			continue
		}
		result.Processed++

		count, err := n.notifications.CountByKindSince(ctx, sub.UserID(), notifdomain.KindTrialReminder, midnight)
		if err != nil {
			result.recordFailure(sub.UserID(), fmt.Errorf("reminder dedup check: %w", err))
			continue
		}
		if count > 0 {
			continue // already reminded today
		}

		trialEnds := sub.TrialEndsAt()
		if trialEnds == nil {
			// status=trial implies trialEndsAt; a row violating that is a data
			// bug worth surfacing, not skipping silently.
			result.recordFailure(sub.UserID(), fmt.Errorf("trial subscription %s has no trial end date", sub.ID()))
			continue
		}

		days := int(trialEnds.Sub(now).Hours()/24) + 1
		notification := notifdomain.New(sub.UserID(), notifdomain.KindTrialReminder,
			"Your trial is ending soon",
			fmt.Sprintf("Your %s trial ends in %d day(s). Add a payment method to keep your scheduled posts flowing.", sub.PlanType(), days),
		)
		if err := n.notifications.Save(ctx, notification); err != nil {
			result.recordFailure(sub.UserID(), fmt.Errorf("save reminder: %w", err))
			continue
		}
		result.Successful++
	}

	n.logger.Info("trial reminder pass complete",
		"processed", result.Processed,
		"created", result.Successful,
		"failed", result.Failed,
	)
	return result, nil
}
