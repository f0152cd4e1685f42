package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifysync/internal/model"
)

// NotificationRepository is the backend store for the notifications
// collection.
type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// ListByUser returns the user's notifications, most recent first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	query := `
        SELECT id, title, body, data, read, created_at
        FROM notifications
        WHERE user_id = $1 AND status = 'published'
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var list []*model.Notification
	for rows.Next() {
		var n model.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				// A malformed payload should not hide the notification.
				r.logger.Warn("Malformed notification data payload",
					zap.String("id", n.ID),
					zap.Error(err),
				)
			}
		}
		list = append(list, &n)
	}
	return list, rows.Err()
}

func (r *NotificationRepository) Insert(ctx context.Context, userID string, n *model.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO notifications (id, user_id, title, body, data, read, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, 'published', $7)
    `
	_, err = r.db.Exec(ctx, query, n.ID, userID, n.Title, n.Body, data, n.Read, n.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert notification",
			zap.String("id", n.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	query := `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, query, id, userID)
	return err
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	query := `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *NotificationRepository) Delete(ctx context.Context, userID, id string) error {
	query := `DELETE FROM notifications WHERE id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, query, id, userID)
	return err
}
