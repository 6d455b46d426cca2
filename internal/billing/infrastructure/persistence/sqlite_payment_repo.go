package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	sharedDomain "github.com/queuecast/queuecast/internal/shared/domain"
)

// SQLitePaymentRepository implements domain.PaymentRepository using SQLite.
type SQLitePaymentRepository struct {
	db *sql.DB
}

// NewSQLitePaymentRepository creates a new SQLite payment repository.
func NewSQLitePaymentRepository(db *sql.DB) *SQLitePaymentRepository {
	return &SQLitePaymentRepository{db: db}
}

// Create inserts a pending payment. A reference collision maps to
// ErrDuplicateReference.
func (r *SQLitePaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, plan_id, reference, amount, currency, status, purpose,
			provider_payload, failure_reason, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID().String(),
		p.UserID().String(),
		p.PlanID().String(),
		p.Reference(),
		p.Amount(),
		p.Currency(),
		string(p.Status()),
		string(p.Purpose()),
		bytesToNullString(p.ProviderPayload()),
		p.FailureReason(),
		timePtrToNullString(p.PaidAt()),
		p.CreatedAt().UTC().Format(time.RFC3339),
		p.UpdatedAt().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateReference
		}
		return err
	}
	return nil
}

// FindByReference retrieves a payment by its reference, or nil if unknown.
func (r *SQLitePaymentRepository) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `
		SELECT id, user_id, plan_id, reference, amount, currency, status, purpose,
		       provider_payload, failure_reason, paid_at, created_at, updated_at
		FROM payments
		WHERE reference = ?
	`
	p, err := scanSQLitePayment(r.db.QueryRowContext(ctx, query, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// FinalizeIfPending writes the terminal state only if the stored row is still
// pending, reporting whether this caller won the write.
func (r *SQLitePaymentRepository) FinalizeIfPending(ctx context.Context, p *domain.Payment) (bool, error) {
	query := `
		UPDATE payments
		SET status = ?, provider_payload = ?, failure_reason = ?, paid_at = ?, updated_at = ?
		WHERE reference = ? AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query,
		string(p.Status()),
		bytesToNullString(p.ProviderPayload()),
		p.FailureReason(),
		timePtrToNullString(p.PaidAt()),
		p.UpdatedAt().UTC().Format(time.RFC3339),
		p.Reference(),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanSQLitePayment(row sqliteRowScanner) (*domain.Payment, error) {
	var (
		idStr, userIDStr, planIDStr string
		reference, currency         string
		amount                      int64
		status, purpose             string
		payload                     sql.NullString
		failureReason               string
		paidAtStr                   sql.NullString
		createdAtStr, updatedAtStr  string
	)
	err := row.Scan(&idStr, &userIDStr, &planIDStr, &reference, &amount, &currency,
		&status, &purpose, &payload, &failureReason, &paidAtStr, &createdAtStr, &updatedAtStr)
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
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, err
	}

	var paidAt *time.Time
	if paidAtStr.Valid {
		t, err := time.Parse(time.RFC3339, paidAtStr.String)
		if err != nil {
			return nil, err
		}
		paidAt = &t
	}

	var payloadBytes []byte
	if payload.Valid {
		payloadBytes = []byte(payload.String)
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
		payloadBytes,
		failureReason,
		paidAt,
	), nil
}

func bytesToNullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
