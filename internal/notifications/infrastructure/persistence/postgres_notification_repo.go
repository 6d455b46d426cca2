// Package persistence provides database implementations for the notification
// repository.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/queuecast/queuecast/internal/notifications/domain"
)

// PostgresNotificationRepository implements domain.Repository using PostgreSQL.
type PostgresNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresNotificationRepository creates a new PostgreSQL notification repository.
func NewPostgresNotificationRepository(pool *pgxpool.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

// Save inserts a notification. Notifications are append-only.
func (r *PostgresNotificationRepository) Save(ctx context.Context, n domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, kind, title, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, n.ID, n.UserID, string(n.Kind), n.Title, n.Body, n.Read, n.CreatedAt)
	return err
}

// ListByUser retrieves a user's notifications, newest first.
func (r *PostgresNotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]domain.Notification, error) {
	query := `
		SELECT id, user_id, kind, title, body, read, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = domain.Kind(kind)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead marks one of the user's notifications as read.
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	query := `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	_, err := r.pool.Exec(ctx, query, id, userID)
	return err
}

// CountByKindSince counts the user's notifications of one kind created at or
// after the cutoff.
func (r *PostgresNotificationRepository) CountByKindSince(ctx context.Context, userID uuid.UUID, kind domain.Kind, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND kind = $2 AND created_at >= $3`
	var count int
	err := r.pool.QueryRow(ctx, query, userID, string(kind), since).Scan(&count)
	return count, err
}
