package store

import (
	"context"
	"database/sql"
	"errors"

	"sales-service/internal/models"
)

const billingProfileColumns = `id, user_id, name, surname, email, address, city, province, zip_code,
	provider_customer_id, created_at, updated_at`

func (s *Store) CreateBillingProfile(ctx context.Context, p *models.BillingProfile) error {
	query := `
		INSERT INTO billing_profiles (id, user_id, name, surname, email, address, city, province, zip_code, provider_customer_id)
		VALUES (:id, :user_id, :name, :surname, :email, :address, :city, :province, :zip_code, :provider_customer_id)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, p)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&p.CreatedAt, &p.UpdatedAt)
	}
	return rows.Err()
}

// GetBillingProfile returns the profile only when userID owns it
func (s *Store) GetBillingProfile(ctx context.Context, id, userID string) (*models.BillingProfile, error) {
	var p models.BillingProfile
	err := s.db.GetContext(ctx, &p,
		"SELECT "+billingProfileColumns+" FROM billing_profiles WHERE id = $1 AND user_id = $2", id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListBillingProfiles(ctx context.Context, userID string) ([]models.BillingProfile, error) {
	profiles := []models.BillingProfile{}
	err := s.db.SelectContext(ctx, &profiles,
		"SELECT "+billingProfileColumns+" FROM billing_profiles WHERE user_id = $1 ORDER BY created_at", userID)
	return profiles, err
}

// UpdateBillingProfile overwrites the editable fields of a profile the user owns
func (s *Store) UpdateBillingProfile(ctx context.Context, p *models.BillingProfile) error {
	err := s.db.GetContext(ctx, &p.UpdatedAt, `
		UPDATE billing_profiles
		SET name = $1, surname = $2, email = $3, address = $4, city = $5, province = $6, zip_code = $7,
			provider_customer_id = $8, updated_at = NOW()
		WHERE id = $9 AND user_id = $10
		RETURNING updated_at`,
		p.Name, p.Surname, p.Email, p.Address, p.City, p.Province, p.ZipCode, p.ProviderCustomerID,
		p.ID, p.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) DeleteBillingProfile(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM billing_profiles WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
