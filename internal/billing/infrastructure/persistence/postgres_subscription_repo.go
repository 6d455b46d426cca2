// Package persistence provides database implementations for the billing
// repositories.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

// PostgresSubscriptionRepository implements domain.SubscriptionRepository
// using PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL subscription repository.
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

// subscriptionRow represents a database row for subscriptions.
type subscriptionRow struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	PlanID              uuid.UUID
	PlanType            string
	Status              string
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	TrialEndsAt         *time.Time
	NextBillingDate     time.Time
	CancelAtPeriodEnd   bool
	StoredInstrumentRef string
	CardLast4           string
	CardBrand           string
	CardExpMonth        int
	CardExpYear         int
	HostedProviderSubID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const subscriptionColumns = `
	id, user_id, plan_id, plan_type, status,
	current_period_start, current_period_end, trial_ends_at, next_billing_date,
	cancel_at_period_end, stored_instrument_ref, card_last4, card_brand,
	card_exp_month, card_exp_year, hosted_provider_sub_id, created_at, updated_at`

// Save upserts a subscription keyed by user. A user holds at most one
// subscription row; starting over after cancellation replaces it in place.
func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, plan_type, status,
			current_period_start, current_period_end, trial_ends_at, next_billing_date,
			cancel_at_period_end, stored_instrument_ref, card_last4, card_brand,
			card_exp_month, card_exp_year, hosted_provider_sub_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id,
			plan_id = EXCLUDED.plan_id,
			plan_type = EXCLUDED.plan_type,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_ends_at = EXCLUDED.trial_ends_at,
			next_billing_date = EXCLUDED.next_billing_date,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			stored_instrument_ref = EXCLUDED.stored_instrument_ref,
			card_last4 = EXCLUDED.card_last4,
			card_brand = EXCLUDED.card_brand,
			card_exp_month = EXCLUDED.card_exp_month,
			card_exp_year = EXCLUDED.card_exp_year,
			hosted_provider_sub_id = EXCLUDED.hosted_provider_sub_id,
			updated_at = EXCLUDED.updated_at
	`

	card := sub.Card()
	_, err := r.pool.Exec(ctx, query,
		sub.ID(),
		sub.UserID(),
		sub.PlanID(),
		sub.PlanType(),
		string(sub.Status()),
		sub.CurrentPeriodStart(),
		sub.CurrentPeriodEnd(),
		sub.TrialEndsAt(),
		sub.NextBillingDate(),
		sub.CancelAtPeriodEnd(),
		sub.StoredInstrumentRef(),
		card.Last4,
		card.Brand,
		card.ExpMonth,
		card.ExpYear,
		sub.HostedProviderSubID(),
		sub.CreatedAt(),
		sub.UpdatedAt(),
	)
	return err
}

// FindByID retrieves a subscription by its ID.
func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// FindByUserID retrieves a user's subscription, or nil if they have none.
func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	return r.queryOne(ctx, query, userID)
}

// FindByHostedProviderSubID retrieves the subscription linked to a hosted
// provider subscription.
func (r *PostgresSubscriptionRepository) FindByHostedProviderSubID(ctx context.Context, providerSubID string) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE hosted_provider_sub_id = $1`
	return r.queryOne(ctx, query, providerSubID)
}

// FindDueForTrialConversion selects trials whose end date has passed.
// Subscriptions billed by a hosted provider and those flagged for cancellation
// are excluded; the webhook path and the cancellation pass own those.
func (r *PostgresSubscriptionRepository) FindDueForTrialConversion(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
		  AND cancel_at_period_end = FALSE
		  AND hosted_provider_sub_id = ''
		ORDER BY trial_ends_at ASC`
	return r.queryMany(ctx, query, asOf)
}

// FindDueForRenewal selects active and past-due subscriptions whose next
// billing date has passed, excluding hosted-provider and cancelling rows.
func (r *PostgresSubscriptionRepository) FindDueForRenewal(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('active', 'past_due')
		  AND next_billing_date <= $1
		  AND cancel_at_period_end = FALSE
		  AND hosted_provider_sub_id = ''
		ORDER BY next_billing_date ASC`
	return r.queryMany(ctx, query, asOf)
}

// FindPendingCancellation selects subscriptions flagged for cancellation whose
// paid access has run out.
func (r *PostgresSubscriptionRepository) FindPendingCancellation(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE cancel_at_period_end = TRUE
		  AND status != 'cancelled'
		  AND (CASE WHEN status = 'trial' AND trial_ends_at IS NOT NULL
		            THEN trial_ends_at ELSE current_period_end END) <= $1`
	return r.queryMany(ctx, query, asOf)
}

// FindTrialsEndingBetween selects trials ending inside the window, used by the
// reminder job.
func (r *PostgresSubscriptionRepository) FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND cancel_at_period_end = FALSE
		  AND trial_ends_at IS NOT NULL
		  AND trial_ends_at >= $1 AND trial_ends_at <= $2`
	return r.queryMany(ctx, query, from, to)
}

func (r *PostgresSubscriptionRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.Subscription, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (r *PostgresSubscriptionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]*domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
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

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var r subscriptionRow
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.PlanID,
		&r.PlanType,
		&r.Status,
		&r.CurrentPeriodStart,
		&r.CurrentPeriodEnd,
		&r.TrialEndsAt,
		&r.NextBillingDate,
		&r.CancelAtPeriodEnd,
		&r.StoredInstrumentRef,
		&r.CardLast4,
		&r.CardBrand,
		&r.CardExpMonth,
		&r.CardExpYear,
		&r.HostedProviderSubID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateSubscription(
		sharedDomain.RehydrateBaseEntity(r.ID, r.CreatedAt, r.UpdatedAt),
		r.UserID,
		r.PlanID,
		r.PlanType,
		domain.SubscriptionStatus(r.Status),
		r.CurrentPeriodStart,
		r.CurrentPeriodEnd,
		r.TrialEndsAt,
		r.NextBillingDate,
		r.CancelAtPeriodEnd,
		r.StoredInstrumentRef,
		domain.CardDetails{Last4: r.CardLast4, Brand: r.CardBrand, ExpMonth: r.CardExpMonth, ExpYear: r.CardExpYear},
		r.HostedProviderSubID,
	), nil
}
