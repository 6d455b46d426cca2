package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

const uniqueViolation = "23505"

// PostgresPaymentRepository implements domain.PaymentRepository using
// PostgreSQL. The payments table is the idempotency ledger: the unique
// constraint on reference and the conditional finalize below are what make
// concurrent verification safe.
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository.
func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

// Create inserts a pending payment. A reference collision maps to
// ErrDuplicateReference so callers can treat replays as no-ops.
func (r *PostgresPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, plan_id, reference, amount, currency, status, purpose,
			provider_payload, failure_reason, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID(),
		p.UserID(),
		p.PlanID(),
		p.Reference(),
		p.Amount(),
		p.Currency(),
		string(p.Status()),
		string(p.Purpose()),
		nullBytes(p.ProviderPayload()),
		p.FailureReason(),
		p.PaidAt(),
		p.CreatedAt(),
		p.UpdatedAt(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateReference
		}
		return err
	}
	return nil
}

// FindByReference retrieves a payment by its reference, or nil if unknown.
func (r *PostgresPaymentRepository) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `
		SELECT id, user_id, plan_id, reference, amount, currency, status, purpose,
		       provider_payload, failure_reason, paid_at, created_at, updated_at
		FROM payments
		WHERE reference = $1
	`
	row := r.pool.QueryRow(ctx, query, reference)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// FinalizeIfPending writes the payment's terminal state only if the stored row
// is still pending. It reports whether this caller won: a false return means
// another instance finalized the same reference first and the caller must not
// apply subscription side effects.
func (r *PostgresPaymentRepository) FinalizeIfPending(ctx context.Context, p *domain.Payment) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, provider_payload = $2, failure_reason = $3, paid_at = $4, updated_at = $5
		WHERE reference = $6 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query,
		string(p.Status()),
		nullBytes(p.ProviderPayload()),
		p.FailureReason(),
		p.PaidAt(),
		p.UpdatedAt(),
		p.Reference(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		id, userID, planID   uuid.UUID
		reference, currency  string
		amount               int64
		status, purpose      string
		payload              []byte
		failureReason        string
		paidAt               *time.Time
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &userID, &planID, &reference, &amount, &currency, &status, &purpose,
		&payload, &failureReason, &paidAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydratePayment(
		sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		userID,
		planID,
		reference,
		amount,
		currency,
		domain.PaymentStatus(status),
		domain.PaymentPurpose(purpose),
		payload,
		failureReason,
		paidAt,
	), nil
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
