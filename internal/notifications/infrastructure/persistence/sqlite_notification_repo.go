package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/notifications/domain"
)

// SQLiteNotificationRepository implements domain.Repository using SQLite.
type SQLiteNotificationRepository struct {
	db *sql.DB
}

// NewSQLiteNotificationRepository creates a new SQLite notification repository.
func NewSQLiteNotificationRepository(db *sql.DB) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{db: db}
}

// Save inserts a notification.
func (r *SQLiteNotificationRepository) Save(ctx context.Context, n domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, kind, title, body, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	read := 0
	if n.Read {
		read = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		n.ID.String(), n.UserID.String(), string(n.Kind), n.Title, n.Body, read,
		n.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListByUser retrieves a user's notifications, newest first.
func (r *SQLiteNotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]domain.Notification, error) {
	query := `
		SELECT id, user_id, kind, title, body, read, created_at
		FROM notifications
		WHERE user_id = ?
	`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			idStr, userIDStr, kind, createdAtStr string
			read                                 int
			n                                    domain.Notification
		)
		if err := rows.Scan(&idStr, &userIDStr, &kind, &n.Title, &n.Body, &read, &createdAtStr); err != nil {
			return nil, err
		}
		if n.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if n.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, err
		}
		n.Kind = domain.Kind(kind)
		n.Read = read == 1
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead marks one of the user's notifications as read.
func (r *SQLiteNotificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	query := `UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`
	_, err := r.db.ExecContext(ctx, query, id.String(), userID.String())
	return err
}

// CountByKindSince counts the user's notifications of one kind created at or
// after the cutoff.
func (r *SQLiteNotificationRepository) CountByKindSince(ctx context.Context, userID uuid.UUID, kind domain.Kind, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND kind = ? AND created_at >= ?`
	var count int
	err := r.db.QueryRowContext(ctx, query, userID.String(), string(kind), since.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}
