package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePaymentRepo_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)
	ctx := context.Background()

	ref := domain.NewReference()
	payment := domain.NewPayment(uuid.New(), uuid.New(), ref, 2900, "usd", domain.PurposeTrialConversion)
	require.NoError(t, repo.Create(ctx, payment))

	found, err := repo.FindByReference(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, payment.ID(), found.ID())
	assert.Equal(t, int64(2900), found.Amount())
	assert.Equal(t, "USD", found.Currency(), "currency stored uppercased")
	assert.Equal(t, domain.PaymentPending, found.Status())
	assert.Equal(t, domain.PurposeTrialConversion, found.Purpose())
	assert.Nil(t, found.PaidAt())
}

func TestSQLitePaymentRepo_DuplicateReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)
	ctx := context.Background()

	ref := domain.NewReference()
	require.NoError(t, repo.Create(ctx, domain.NewPayment(uuid.New(), uuid.New(), ref, 2900, "USD", domain.PurposeRenewal)))

	err := repo.Create(ctx, domain.NewPayment(uuid.New(), uuid.New(), ref, 2900, "USD", domain.PurposeRenewal))
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)
}

func TestSQLitePaymentRepo_FindMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)

	found, err := repo.FindByReference(context.Background(), "qc_missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLitePaymentRepo_FinalizeIfPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	ref := domain.NewReference()
	payment := domain.NewPayment(uuid.New(), uuid.New(), ref, 2900, "USD", domain.PurposeRenewal)
	require.NoError(t, repo.Create(ctx, payment))

	require.NoError(t, payment.MarkSucceeded([]byte(`{"data":{"status":"success"}}`), now))
	won, err := repo.FinalizeIfPending(ctx, payment)
	require.NoError(t, err)
	assert.True(t, won)

	stored, err := repo.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, stored.Status())
	assert.JSONEq(t, `{"data":{"status":"success"}}`, string(stored.ProviderPayload()))
	require.NotNil(t, stored.PaidAt())
	assert.WithinDuration(t, now, *stored.PaidAt(), time.Second)
}

// Two instances race to finalize the same reference; the second write must
// not land and must be reported as lost.
func TestSQLitePaymentRepo_FinalizeRace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	ref := domain.NewReference()
	userID, planID := uuid.New(), uuid.New()
	require.NoError(t, repo.Create(ctx, domain.NewPayment(userID, planID, ref, 2900, "USD", domain.PurposeRenewal)))

	winner := domain.NewPayment(userID, planID, ref, 2900, "USD", domain.PurposeRenewal)
	require.NoError(t, winner.MarkSucceeded([]byte(`{"winner":true}`), now))
	won, err := repo.FinalizeIfPending(ctx, winner)
	require.NoError(t, err)
	require.True(t, won)

	loser := domain.NewPayment(userID, planID, ref, 2900, "USD", domain.PurposeRenewal)
	require.NoError(t, loser.MarkFailed([]byte(`{"loser":true}`), "declined", now))
	won, err = repo.FinalizeIfPending(ctx, loser)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, stored.Status(), "first terminal write sticks")
	assert.JSONEq(t, `{"winner":true}`, string(stored.ProviderPayload()))
}

func TestSQLitePaymentRepo_FailedPaymentRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePaymentRepository(db)
	ctx := context.Background()

	ref := domain.NewReference()
	payment := domain.NewPayment(uuid.New(), uuid.New(), ref, 2900, "USD", domain.PurposeRenewal)
	require.NoError(t, payment.MarkFailed(nil, "insufficient funds", time.Now().UTC()))
	require.NoError(t, repo.Create(ctx, payment))

	stored, err := repo.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, stored.Status())
	assert.Equal(t, "insufficient funds", stored.FailureReason())
	assert.Equal(t, []byte(domain.NullPayloadMarker), stored.ProviderPayload())
	assert.Nil(t, stored.PaidAt())
}
