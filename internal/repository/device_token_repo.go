package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifysync/internal/model"
)

// DeviceTokenRepository stores registered push tokens. Rows are
// insert-only: registration checks Exists first so repeated calls with
// the same (user, token) pair stay idempotent.
type DeviceTokenRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeviceTokenRepository(db *pgxpool.Pool, logger *zap.Logger) *DeviceTokenRepository {
	return &DeviceTokenRepository{
		db:     db,
		logger: logger,
	}
}

func (r *DeviceTokenRepository) Exists(ctx context.Context, userID, token string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM device_tokens WHERE user_id = $1 AND token = $2)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, token).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *DeviceTokenRepository) Insert(ctx context.Context, userID, token, platform string) error {
	query := `
        INSERT INTO device_tokens (user_id, token, platform, created_at)
        VALUES ($1, $2, $3, NOW())
    `
	_, err := r.db.Exec(ctx, query, userID, token, platform)
	if err != nil {
		r.logger.Error("Failed to insert device token",
			zap.String("user_id", userID),
			zap.String("platform", platform),
			zap.Error(err),
		)
		return err
	}

	r.logger.Info("Device token registered",
		zap.String("user_id", userID),
		zap.String("platform", platform),
	)
	return nil
}

func (r *DeviceTokenRepository) ListByUser(ctx context.Context, userID string) ([]*model.DeviceToken, error) {
	query := `
        SELECT id, user_id, token, platform, created_at
        FROM device_tokens
        WHERE user_id = $1
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*model.DeviceToken
	for rows.Next() {
		var t model.DeviceToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
