package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

// PostgresPlanRepository implements domain.PlanRepository using PostgreSQL.
type PostgresPlanRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPlanRepository creates a new PostgreSQL plan repository.
func NewPostgresPlanRepository(pool *pgxpool.Pool) *PostgresPlanRepository {
	return &PostgresPlanRepository{pool: pool}
}

// Save upserts a plan.
func (r *PostgresPlanRepository) Save(ctx context.Context, plan *domain.Plan) error {
	prices, err := json.Marshal(orEmptyPrices(plan.Prices()))
	if err != nil {
		return err
	}
	features, err := json.Marshal(orEmptyFeatures(plan.Features()))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plans (
			id, name, price_monthly, currency, prices, features,
			max_posts, max_platforms, trial_days, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_monthly = EXCLUDED.price_monthly,
			currency = EXCLUDED.currency,
			prices = EXCLUDED.prices,
			features = EXCLUDED.features,
			max_posts = EXCLUDED.max_posts,
			max_platforms = EXCLUDED.max_platforms,
			trial_days = EXCLUDED.trial_days,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		plan.ID(),
		plan.Name(),
		plan.PriceMonthly(),
		plan.Currency(),
		prices,
		features,
		plan.MaxPosts(),
		plan.MaxPlatforms(),
		plan.TrialDays(),
		plan.IsActive(),
		plan.CreatedAt(),
		plan.UpdatedAt(),
	)
	return err
}

// FindByID retrieves a plan by its ID, or nil if the row is gone.
func (r *PostgresPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	return r.queryOne(ctx, `WHERE id = $1`, id)
}

// FindByName retrieves a plan by its name.
func (r *PostgresPlanRepository) FindByName(ctx context.Context, name string) (*domain.Plan, error) {
	return r.queryOne(ctx, `WHERE name = $1`, name)
}

func (r *PostgresPlanRepository) queryOne(ctx context.Context, where string, arg any) (*domain.Plan, error) {
	query := `
		SELECT id, name, price_monthly, currency, prices, features,
		       max_posts, max_platforms, trial_days, active, created_at, updated_at
		FROM plans ` + where

	var (
		id                      uuid.UUID
		name, currency          string
		priceMonthly            int64
		pricesRaw, featuresRaw  []byte
		maxPosts, maxPlatforms  int
		trialDays               int
		active                  bool
		createdAt, updatedAt    time.Time
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&id, &name, &priceMonthly, &currency, &pricesRaw, &featuresRaw,
		&maxPosts, &maxPlatforms, &trialDays, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var prices map[string]int64
	if err := json.Unmarshal(pricesRaw, &prices); err != nil {
		return nil, err
	}
	var features []string
	if err := json.Unmarshal(featuresRaw, &features); err != nil {
		return nil, err
	}

	return domain.RehydratePlan(
		sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		name, priceMonthly, currency, prices, features,
		maxPosts, maxPlatforms, trialDays, active,
	), nil
}

func orEmptyPrices(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func orEmptyFeatures(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
