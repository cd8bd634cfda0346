package store

import (
	"context"

	"sales-service/internal/models"
)

// CreatePayment inserts a payment record. Replays of the same id are
// ignored so a retry after an ambiguous failure does not report a conflict.
func (s *Store) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	query := `
		INSERT INTO payments (id, user_id, timestamp, line_items, provider_transaction_id, total_price, billing_profile_id)
		VALUES (:id, :user_id, :timestamp, :line_items, :provider_transaction_id, :total_price, :billing_profile_id)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.NamedExecContext(ctx, query, p)
	return err
}

// ListPayments returns the user's payments older than page.Before, newest first
func (s *Store) ListPayments(ctx context.Context, userID string, page models.Page) ([]models.PaymentRecord, error) {
	payments := []models.PaymentRecord{}
	err := s.db.SelectContext(ctx, &payments, `
		SELECT id, user_id, timestamp, line_items, provider_transaction_id, total_price, billing_profile_id
		FROM payments
		WHERE user_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3`,
		userID, page.Before, pageLimit(page.Size))
	return payments, err
}
