package store

import (
	"context"

	"sales-service/internal/models"
)

// CreateHistoryEntry appends an entry. Replays of the same id are ignored so
// retried appends stay single.
func (s *Store) CreateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	query := `
		INSERT INTO history_entries (id, user_id, timestamp, operation_kind, line_items, correlated_transaction_id)
		VALUES (:id, :user_id, :timestamp, :operation_kind, :line_items, :correlated_transaction_id)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.NamedExecContext(ctx, query, e)
	return err
}

func (s *Store) ListHistory(ctx context.Context, userID string, page models.Page) ([]models.HistoryEntry, error) {
	entries := []models.HistoryEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, user_id, timestamp, operation_kind, line_items, correlated_transaction_id
		FROM history_entries
		WHERE user_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3`,
		userID, page.Before, pageLimit(page.Size))
	return entries, err
}

// DeleteHistory removes the whole history of a user
func (s *Store) DeleteHistory(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM history_entries WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
