package store

import (
	"context"
	"database/sql"
	"errors"

	"sales-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `id, user_id, timestamp, line_items, provider_subscription_id, total_price,
	billing_profile_id, payment_method_id, is_active`

// CreateSubscription inserts a subscription record; replays of the same id are ignored
func (s *Store) CreateSubscription(ctx context.Context, sub *models.SubscriptionRecord) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (:id, :user_id, :timestamp, :line_items, :provider_subscription_id, :total_price,
			:billing_profile_id, :payment_method_id, :is_active)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.NamedExecContext(ctx, query, sub)
	return err
}

// ListSubscriptions returns the user's subscriptions older than page.Before, newest first
func (s *Store) ListSubscriptions(ctx context.Context, userID string, page models.Page) ([]models.SubscriptionRecord, error) {
	subs := []models.SubscriptionRecord{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3`,
		userID, page.Before, pageLimit(page.Size))
	return subs, err
}

// ListActiveSubscriptions returns every active subscription of the user
func (s *Store) ListActiveSubscriptions(ctx context.Context, userID string) ([]models.SubscriptionRecord, error) {
	subs := []models.SubscriptionRecord{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = $1 AND is_active ORDER BY timestamp",
		userID)
	return subs, err
}

// DeactivateSubscription flips is_active off and returns the updated row
func (s *Store) DeactivateSubscription(ctx context.Context, id, userID string) (*models.SubscriptionRecord, error) {
	var sub models.SubscriptionRecord
	err := s.db.GetContext(ctx, &sub,
		"UPDATE subscriptions SET is_active = FALSE WHERE id = $1 AND user_id = $2 RETURNING "+subscriptionColumns,
		id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeactivateSubscriptions flips is_active off for the given ids of one user
func (s *Store) DeactivateSubscriptions(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("UPDATE subscriptions SET is_active = FALSE WHERE user_id = ? AND id IN (?)", userID, ids)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
