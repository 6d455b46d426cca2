package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

// SQLiteSubscriptionRepository implements domain.SubscriptionRepository using
// SQLite. Used for local single-tenant deployments and tests.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

const sqliteSubscriptionColumns = `
	id, user_id, plan_id, plan_type, status,
	current_period_start, current_period_end, trial_ends_at, next_billing_date,
	cancel_at_period_end, stored_instrument_ref, card_last4, card_brand,
	card_exp_month, card_exp_year, hosted_provider_sub_id, created_at, updated_at`

// Save upserts a subscription keyed by user.
func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, plan_type, status,
			current_period_start, current_period_end, trial_ends_at, next_billing_date,
			cancel_at_period_end, stored_instrument_ref, card_last4, card_brand,
			card_exp_month, card_exp_year, hosted_provider_sub_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			id = excluded.id,
			plan_id = excluded.plan_id,
			plan_type = excluded.plan_type,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			trial_ends_at = excluded.trial_ends_at,
			next_billing_date = excluded.next_billing_date,
			cancel_at_period_end = excluded.cancel_at_period_end,
			stored_instrument_ref = excluded.stored_instrument_ref,
			card_last4 = excluded.card_last4,
			card_brand = excluded.card_brand,
			card_exp_month = excluded.card_exp_month,
			card_exp_year = excluded.card_exp_year,
			hosted_provider_sub_id = excluded.hosted_provider_sub_id,
			updated_at = excluded.updated_at
	`

	card := sub.Card()
	_, err := r.db.ExecContext(ctx, query,
		sub.ID().String(),
		sub.UserID().String(),
		sub.PlanID().String(),
		sub.PlanType(),
		string(sub.Status()),
		sub.CurrentPeriodStart().UTC().Format(time.RFC3339),
		sub.CurrentPeriodEnd().UTC().Format(time.RFC3339),
		timePtrToNullString(sub.TrialEndsAt()),
		sub.NextBillingDate().UTC().Format(time.RFC3339),
		boolToInt(sub.CancelAtPeriodEnd()),
		sub.StoredInstrumentRef(),
		card.Last4,
		card.Brand,
		card.ExpMonth,
		card.ExpYear,
		sub.HostedProviderSubID(),
		sub.CreatedAt().UTC().Format(time.RFC3339),
		sub.UpdatedAt().UTC().Format(time.RFC3339),
	)
	return err
}

// FindByID retrieves a subscription by its ID.
func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + ` FROM subscriptions WHERE id = ?`
	return r.queryOne(ctx, query, id.String())
}

// FindByUserID retrieves a user's subscription, or nil if they have none.
func (r *SQLiteSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + ` FROM subscriptions WHERE user_id = ?`
	return r.queryOne(ctx, query, userID.String())
}

// FindByHostedProviderSubID retrieves the subscription linked to a hosted
// provider subscription.
func (r *SQLiteSubscriptionRepository) FindByHostedProviderSubID(ctx context.Context, providerSubID string) (*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + ` FROM subscriptions WHERE hosted_provider_sub_id = ?`
	return r.queryOne(ctx, query, providerSubID)
}

// FindDueForTrialConversion selects trials whose end date has passed,
// excluding hosted-provider and cancelling rows.
func (r *SQLiteSubscriptionRepository) FindDueForTrialConversion(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?
		  AND cancel_at_period_end = 0
		  AND hosted_provider_sub_id = ''
		ORDER BY trial_ends_at ASC`
	return r.queryMany(ctx, query, asOf.UTC().Format(time.RFC3339))
}

// FindDueForRenewal selects active and past-due subscriptions due for a
// charge, excluding hosted-provider and cancelling rows.
func (r *SQLiteSubscriptionRepository) FindDueForRenewal(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('active', 'past_due')
		  AND next_billing_date <= ?
		  AND cancel_at_period_end = 0
		  AND hosted_provider_sub_id = ''
		ORDER BY next_billing_date ASC`
	return r.queryMany(ctx, query, asOf.UTC().Format(time.RFC3339))
}

// FindPendingCancellation selects flagged subscriptions whose paid access has
// run out.
func (r *SQLiteSubscriptionRepository) FindPendingCancellation(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + `
		FROM subscriptions
		WHERE cancel_at_period_end = 1
		  AND status != 'cancelled'
		  AND (CASE WHEN status = 'trial' AND trial_ends_at IS NOT NULL
		            THEN trial_ends_at ELSE current_period_end END) <= ?`
	return r.queryMany(ctx, query, asOf.UTC().Format(time.RFC3339))
}

// FindTrialsEndingBetween selects trials ending inside the window. Trials
// flagged for cancellation are excluded; those users opted out and get no
// reminder to add a payment method.
func (r *SQLiteSubscriptionRepository) FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + sqliteSubscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND cancel_at_period_end = 0
		  AND trial_ends_at IS NOT NULL
		  AND trial_ends_at >= ? AND trial_ends_at <= ?`
	return r.queryMany(ctx, query, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

func (r *SQLiteSubscriptionRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.Subscription, error) {
	sub, err := scanSQLiteSubscription(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (r *SQLiteSubscriptionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]*domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSQLiteSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

type sqliteRowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscription(row sqliteRowScanner) (*domain.Subscription, error) {
	var (
		idStr, userIDStr, planIDStr          string
		planType, status                     string
		periodStartStr, periodEndStr         string
		trialEndsAtStr                       sql.NullString
		nextBillingStr                       string
		cancelAtPeriodEnd                    int
		instrumentRef, cardLast4, cardBrand  string
		cardExpMonth, cardExpYear            int
		hostedProviderSubID                  string
		createdAtStr, updatedAtStr           string
	)
	err := row.Scan(
		&idStr, &userIDStr, &planIDStr, &planType, &status,
		&periodStartStr, &periodEndStr, &trialEndsAtStr, &nextBillingStr,
		&cancelAtPeriodEnd, &instrumentRef, &cardLast4, &cardBrand,
		&cardExpMonth, &cardExpYear, &hostedProviderSubID, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}
	planID, err := uuid.Parse(planIDStr)
	if err != nil {
		return nil, err
	}

	periodStart, err := time.Parse(time.RFC3339, periodStartStr)
	if err != nil {
		return nil, err
	}
	periodEnd, err := time.Parse(time.RFC3339, periodEndStr)
	if err != nil {
		return nil, err
	}
	nextBilling, err := time.Parse(time.RFC3339, nextBillingStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, err
	}

	var trialEndsAt *time.Time
	if trialEndsAtStr.Valid {
		t, err := time.Parse(time.RFC3339, trialEndsAtStr.String)
		if err != nil {
			return nil, err
		}
		trialEndsAt = &t
	}

	return domain.RehydrateSubscription(
		sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		userID,
		planID,
		planType,
		domain.SubscriptionStatus(status),
		periodStart,
		periodEnd,
		trialEndsAt,
		nextBilling,
		cancelAtPeriodEnd == 1,
		instrumentRef,
		domain.CardDetails{Last4: cardLast4, Brand: cardBrand, ExpMonth: cardExpMonth, ExpYear: cardExpYear},
		hostedProviderSubID,
	), nil
}

func timePtrToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
