package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePlanRepo_SaveAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePlanRepository(db)
	ctx := context.Background()

	plan := testPlan(t)
	plan.SetPrice("EUR", 2700)
	plan.SetFeatures([]string{"scheduling", "analytics"})
	plan.SetLimits(100, 5)
	require.NoError(t, repo.Save(ctx, plan))

	byName, err := repo.FindByName(ctx, "pro")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, plan.ID(), byName.ID())
	assert.Equal(t, int64(2900), byName.PriceMonthly())
	assert.Equal(t, int64(2700), byName.Price("EUR"))
	assert.Equal(t, int64(2900), byName.Price("GBP"), "unknown currency falls back to base price")
	assert.Equal(t, []string{"scheduling", "analytics"}, byName.Features())
	assert.Equal(t, 100, byName.MaxPosts())
	assert.Equal(t, 14, byName.TrialDays())
	assert.True(t, byName.IsActive())

	byID, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "pro", byID.Name())
}

func TestSQLitePlanRepo_UpsertUpdates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePlanRepository(db)
	ctx := context.Background()

	plan := testPlan(t)
	require.NoError(t, repo.Save(ctx, plan))

	plan.Deactivate()
	require.NoError(t, repo.Save(ctx, plan))

	found, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.IsActive())
}

func TestSQLitePlanRepo_FindMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePlanRepository(db)

	found, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}
