package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func testPlan(t *testing.T) *domain.Plan {
	t.Helper()
	plan, err := domain.NewPlan("pro", 2900, "USD", 14)
	require.NoError(t, err)
	return plan
}

func newTrial(t *testing.T, plan *domain.Plan, startedDaysAgo int) *domain.Subscription {
	t.Helper()
	start := time.Now().UTC().Add(-time.Duration(startedDaysAgo) * 24 * time.Hour)
	return domain.NewTrialSubscription(uuid.New(), plan, "AUTH_x", domain.CardDetails{Last4: "4242", Brand: "visa"}, start)
}

func TestSQLiteSubscriptionRepo_SaveAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)

	sub := newTrial(t, plan, 0)
	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByUserID(ctx, sub.UserID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID(), found.ID())
	assert.Equal(t, domain.SubscriptionTrial, found.Status())
	assert.Equal(t, "pro", found.PlanType())
	assert.Equal(t, "AUTH_x", found.StoredInstrumentRef())
	assert.Equal(t, "4242", found.Card().Last4)
	require.NotNil(t, found.TrialEndsAt())
	assert.WithinDuration(t, *sub.TrialEndsAt(), *found.TrialEndsAt(), time.Second)

	byID, err := repo.FindByID(ctx, sub.ID())
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, sub.UserID(), byID.UserID())
}

func TestSQLiteSubscriptionRepo_FindMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)

	found, err := repo.FindByUserID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}

// Save keys on user: starting over after cancellation replaces the row.
func TestSQLiteSubscriptionRepo_UpsertByUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)

	old := newTrial(t, plan, 40)
	require.NoError(t, old.Cancel(time.Now().UTC()))
	require.NoError(t, repo.Save(ctx, old))

	replacement := domain.NewTrialSubscription(old.UserID(), plan, "AUTH_y", domain.CardDetails{}, time.Now().UTC())
	require.NoError(t, repo.Save(ctx, replacement))

	found, err := repo.FindByUserID(ctx, old.UserID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, replacement.ID(), found.ID())
	assert.Equal(t, domain.SubscriptionTrial, found.Status())

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteSubscriptionRepo_FindDueForTrialConversion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)
	now := time.Now().UTC()

	expired := newTrial(t, plan, 15)
	require.NoError(t, repo.Save(ctx, expired))

	current := newTrial(t, plan, 2)
	require.NoError(t, repo.Save(ctx, current))

	// Flagged for cancellation: the cancellation pass owns it, not the charger.
	cancelling := newTrial(t, plan, 16)
	_, _, err := cancelling.RequestCancellation()
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cancelling))

	// Billed by a hosted provider: its webhooks drive renewal.
	hosted := newTrial(t, plan, 17)
	hosted.AttachHostedProviderSub("PSUB_1")
	require.NoError(t, repo.Save(ctx, hosted))

	due, err := repo.FindDueForTrialConversion(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expired.ID(), due[0].ID())
}

func TestSQLiteSubscriptionRepo_FindDueForRenewal(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)
	now := time.Now().UTC()

	due := newTrial(t, plan, 60)
	require.NoError(t, due.RecordSuccessfulCharge(now.Add(-31*24*time.Hour)))
	require.NoError(t, repo.Save(ctx, due))

	retrying := newTrial(t, plan, 60)
	require.NoError(t, retrying.RecordFailedCharge("declined", now.Add(-4*24*time.Hour)))
	require.NoError(t, repo.Save(ctx, retrying))

	fresh := newTrial(t, plan, 20)
	require.NoError(t, fresh.RecordSuccessfulCharge(now.Add(-24*time.Hour)))
	require.NoError(t, repo.Save(ctx, fresh))

	got, err := repo.FindDueForRenewal(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []uuid.UUID{got[0].ID(), got[1].ID()}
	assert.Contains(t, ids, due.ID())
	assert.Contains(t, ids, retrying.ID())
}

func TestSQLiteSubscriptionRepo_FindPendingCancellation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)
	now := time.Now().UTC()

	// Period already over, flag set: due for enactment.
	ended := newTrial(t, plan, 90)
	require.NoError(t, ended.RecordSuccessfulCharge(now.Add(-45*24*time.Hour)))
	_, _, err := ended.RequestCancellation()
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, ended))

	// Flag set but period still running: user keeps access.
	running := newTrial(t, plan, 40)
	require.NoError(t, running.RecordSuccessfulCharge(now.Add(-24*time.Hour)))
	_, _, err = running.RequestCancellation()
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, running))

	pending, err := repo.FindPendingCancellation(ctx, now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ended.ID(), pending[0].ID())
}

func TestSQLiteSubscriptionRepo_FindTrialsEndingBetween(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)
	now := time.Now().UTC()

	endingSoon := newTrial(t, plan, 12) // ends in ~2 days
	require.NoError(t, repo.Save(ctx, endingSoon))

	justStarted := newTrial(t, plan, 1) // ends in ~13 days
	require.NoError(t, repo.Save(ctx, justStarted))

	// Cancelled their trial: no reminder to add a payment method.
	cancelling := newTrial(t, plan, 12)
	_, _, err := cancelling.RequestCancellation()
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cancelling))

	got, err := repo.FindTrialsEndingBetween(ctx, now.Add(24*time.Hour), now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, endingSoon.ID(), got[0].ID())
}

func TestSQLiteSubscriptionRepo_FindByHostedProviderSubID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()
	plan := testPlan(t)

	sub := newTrial(t, plan, 5)
	sub.AttachHostedProviderSub("PSUB_42")
	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByHostedProviderSubID(ctx, "PSUB_42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID(), found.ID())

	missing, err := repo.FindByHostedProviderSubID(ctx, "PSUB_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
