package service

import (
	"context"
	"fmt"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/util"

	"go.uber.org/zap"
)

// HistoryService exposes the purchase history of a user
type HistoryService struct {
	history HistoryRepository
	opts    Options
	logger  *zap.Logger
}

func NewHistoryService(history HistoryRepository, opts Options) *HistoryService {
	return &HistoryService{
		history: history,
		opts:    opts.withDefaults(),
		logger:  util.GetLogger(),
	}
}

func (s *HistoryService) List(ctx context.Context, userID string, page models.Page) ([]models.HistoryEntry, error) {
	ctx, span := util.StartSpan(ctx, "HistoryService.List")
	defer span.End()

	if err := validatePage(page); err != nil {
		return nil, err
	}

	var entries []models.HistoryEntry
	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		entries, err = s.history.ListHistory(ctx, userID, page)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to list history: %w", err))
	}
	return entries, nil
}

// Delete wipes the whole history of the user
func (s *HistoryService) Delete(ctx context.Context, userID string) error {
	ctx, span := util.StartSpan(ctx, "HistoryService.Delete")
	defer span.End()

	var deleted int64
	err := s.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.history.DeleteHistory(ctx, userID)
		return err
	})
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to delete history: %w", err))
	}

	s.logger.Info("History deleted", zap.String("user_id", userID), zap.Int64("entries", deleted))
	return nil
}
