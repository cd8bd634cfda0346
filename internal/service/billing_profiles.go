package service

import (
	"context"
	"errors"
	"fmt"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/store"
	"sales-service/internal/util"

	"github.com/google/uuid"
)

// BillingProfileInput is the editable part of a billing profile
type BillingProfileInput struct {
	Name               string `json:"name" validate:"required,max=255"`
	Surname            string `json:"surname" validate:"required,max=255"`
	Email              string `json:"email" validate:"required,email"`
	Address            string `json:"address" validate:"required,max=255"`
	City               string `json:"city" validate:"required,max=255"`
	Province           string `json:"province" validate:"max=255"`
	ZipCode            string `json:"zip_code" validate:"required,numeric,max=16"`
	ProviderCustomerID string `json:"provider_customer_id" validate:"max=255"`
}

func (in BillingProfileInput) apply(p *models.BillingProfile) {
	p.Name = in.Name
	p.Surname = in.Surname
	p.Email = in.Email
	p.Address = in.Address
	p.City = in.City
	p.Province = in.Province
	p.ZipCode = in.ZipCode
	p.ProviderCustomerID = in.ProviderCustomerID
}

type BillingProfileService struct {
	profiles BillingProfileRepository
	opts     Options
}

func NewBillingProfileService(profiles BillingProfileRepository, opts Options) *BillingProfileService {
	return &BillingProfileService{profiles: profiles, opts: opts.withDefaults()}
}

func (s *BillingProfileService) Create(ctx context.Context, userID string, in BillingProfileInput) (*models.BillingProfile, error) {
	ctx, span := util.StartSpan(ctx, "BillingProfileService.Create")
	defer span.End()

	if err := validateStruct(in); err != nil {
		return nil, err
	}

	profile := &models.BillingProfile{ID: uuid.NewString(), UserID: userID}
	in.apply(profile)

	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		return s.profiles.CreateBillingProfile(ctx, profile)
	})
	if err != nil {
		return nil, storeError("failed to create billing profile", err)
	}
	return profile, nil
}

func (s *BillingProfileService) Get(ctx context.Context, id, userID string) (*models.BillingProfile, error) {
	ctx, span := util.StartSpan(ctx, "BillingProfileService.Get")
	defer span.End()

	if err := validateID("profileID", id); err != nil {
		return nil, err
	}

	var profile *models.BillingProfile
	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		profile, err = s.profiles.GetBillingProfile(ctx, id, userID)
		return err
	})
	if err != nil {
		return nil, storeError("failed to get billing profile", err)
	}
	return profile, nil
}

func (s *BillingProfileService) List(ctx context.Context, userID string) ([]models.BillingProfile, error) {
	ctx, span := util.StartSpan(ctx, "BillingProfileService.List")
	defer span.End()

	var profiles []models.BillingProfile
	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		profiles, err = s.profiles.ListBillingProfiles(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storeError("failed to list billing profiles", err)
	}
	return profiles, nil
}

func (s *BillingProfileService) Update(ctx context.Context, id, userID string, in BillingProfileInput) (*models.BillingProfile, error) {
	ctx, span := util.StartSpan(ctx, "BillingProfileService.Update")
	defer span.End()

	if err := validateID("profileID", id); err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	profile := &models.BillingProfile{ID: id, UserID: userID}
	in.apply(profile)

	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		return s.profiles.UpdateBillingProfile(ctx, profile)
	})
	if err != nil {
		return nil, storeError("failed to update billing profile", err)
	}
	return s.Get(ctx, id, userID)
}

func (s *BillingProfileService) Delete(ctx context.Context, id, userID string) error {
	ctx, span := util.StartSpan(ctx, "BillingProfileService.Delete")
	defer span.End()

	if err := validateID("profileID", id); err != nil {
		return err
	}
	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		return s.profiles.DeleteBillingProfile(ctx, id, userID)
	})
	if err != nil {
		return storeError("failed to delete billing profile", err)
	}
	return nil
}

// storeError maps repository failures; profiles of other users look missing
func storeError(msg string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFound("Billing profile not found")
	}
	return apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("%s: %w", msg, err))
}
