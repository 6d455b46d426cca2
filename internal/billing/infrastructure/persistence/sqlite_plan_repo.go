package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

// SQLitePlanRepository implements domain.PlanRepository using SQLite.
type SQLitePlanRepository struct {
	db *sql.DB
}

// NewSQLitePlanRepository creates a new SQLite plan repository.
func NewSQLitePlanRepository(db *sql.DB) *SQLitePlanRepository {
	return &SQLitePlanRepository{db: db}
}

// Save upserts a plan.
func (r *SQLitePlanRepository) Save(ctx context.Context, plan *domain.Plan) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			price_monthly = excluded.price_monthly,
			currency = excluded.currency,
			prices = excluded.prices,
			features = excluded.features,
			max_posts = excluded.max_posts,
			max_platforms = excluded.max_platforms,
			trial_days = excluded.trial_days,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		plan.ID().String(),
		plan.Name(),
		plan.PriceMonthly(),
		plan.Currency(),
		string(prices),
		string(features),
		plan.MaxPosts(),
		plan.MaxPlatforms(),
		plan.TrialDays(),
		boolToInt(plan.IsActive()),
		plan.CreatedAt().UTC().Format(time.RFC3339),
		plan.UpdatedAt().UTC().Format(time.RFC3339),
	)
	return err
}

// FindByID retrieves a plan by its ID, or nil if the row is gone.
func (r *SQLitePlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	return r.queryOne(ctx, `WHERE id = ?`, id.String())
}

// FindByName retrieves a plan by its name.
func (r *SQLitePlanRepository) FindByName(ctx context.Context, name string) (*domain.Plan, error) {
	return r.queryOne(ctx, `WHERE name = ?`, name)
}

func (r *SQLitePlanRepository) queryOne(ctx context.Context, where string, arg any) (*domain.Plan, error) {
	query := `
		SELECT id, name, price_monthly, currency, prices, features,
		       max_posts, max_platforms, trial_days, active, created_at, updated_at
		FROM plans ` + where

	var (
		idStr, name, currency      string
		priceMonthly               int64
		pricesStr, featuresStr     string
		maxPosts, maxPlatforms     int
		trialDays, active          int
		createdAtStr, updatedAtStr string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&idStr, &name, &priceMonthly, &currency, &pricesStr, &featuresStr,
		&maxPosts, &maxPlatforms, &trialDays, &active, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	id, err := uuid.Parse(idStr)
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

	var prices map[string]int64
	if err := json.Unmarshal([]byte(pricesStr), &prices); err != nil {
		return nil, err
	}
	var features []string
	if err := json.Unmarshal([]byte(featuresStr), &features); err != nil {
		return nil, err
	}

	return domain.RehydratePlan(
		sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		name, priceMonthly, currency, prices, features,
		maxPosts, maxPlatforms, trialDays, active == 1,
	), nil
}
