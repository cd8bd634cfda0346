package service

import (
	"context"
	"errors"
	"fmt"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/store"
	"sales-service/internal/util"

	"go.uber.org/zap"
)

// SubscriptionLifecycleManager lists and cancels subscriptions
type SubscriptionLifecycleManager struct {
	subscriptions SubscriptionRepository
	gateway       PaymentGateway
	events        EventPublisher
	locker        Locker
	opts          Options
	logger        *zap.Logger
}

func NewSubscriptionLifecycleManager(deps Dependencies, opts Options) *SubscriptionLifecycleManager {
	return &SubscriptionLifecycleManager{
		subscriptions: deps.Subscriptions,
		gateway:       deps.Gateway,
		events:        deps.Events,
		locker:        deps.Locker,
		opts:          opts.withDefaults(),
		logger:        util.GetLogger(),
	}
}

// CancelOne deactivates one subscription owned by userID and cancels it with
// the provider. The local deactivation stays even if the provider call fails.
func (m *SubscriptionLifecycleManager) CancelOne(ctx context.Context, subscriptionID, userID string) (*models.SubscriptionRecord, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionLifecycleManager.CancelOne")
	defer span.End()

	if err := validateID("subscriptionID", subscriptionID); err != nil {
		return nil, err
	}

	var sub *models.SubscriptionRecord
	err := m.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		sub, err = m.subscriptions.DeactivateSubscription(ctx, subscriptionID, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.Auth("Subscription does not belong to the user")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to deactivate subscription: %w", err))
	}

	util.SubscriptionsCancelledTotal.WithLabelValues("one").Inc()

	if err := m.gateway.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
		util.ProviderCancellationFailedTotal.Inc()
		m.logger.Error("Provider cancellation failed, subscription stays deactivated",
			zap.String("subscription_id", sub.ID),
			zap.String("provider_subscription_id", sub.ProviderSubscriptionID),
			zap.Error(err))
		m.publishCancelled(ctx, userID, []string{sub.ID}, []string{sub.ID})
		return nil, err
	}

	m.publishCancelled(ctx, userID, []string{sub.ID}, nil)
	return sub, nil
}

// CancelAll cancels every active subscription of the user with the provider,
// then deactivates all of them locally whatever the provider answered. It
// returns how many cancellations were attempted.
func (m *SubscriptionLifecycleManager) CancelAll(ctx context.Context, userID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionLifecycleManager.CancelAll")
	defer span.End()

	if m.locker != nil {
		lockKey := "cancel-all:" + userID
		token, acquired, err := m.locker.AcquireLock(ctx, lockKey, m.opts.CancelAllLockTTL)
		switch {
		case err != nil:
			m.logger.Warn("Cancel-all lock unavailable, proceeding", zap.String("user_id", userID), zap.Error(err))
		case !acquired:
			return 0, apperror.Conflict("Subscriptions of this user are already being cancelled")
		default:
			defer func() {
				if err := m.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					m.logger.Warn("Failed to release cancel-all lock", zap.Error(err))
				}
			}()
		}
	}

	var active []models.SubscriptionRecord
	err := m.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		active, err = m.subscriptions.ListActiveSubscriptions(ctx, userID)
		return err
	})
	if err != nil {
		return 0, apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to load active subscriptions: %w", err))
	}
	if len(active) == 0 {
		return 0, nil
	}

	// provider calls have started; finish the local side regardless of the caller
	ctx = context.WithoutCancel(ctx)

	ids := make([]string, 0, len(active))
	var failed []string
	for _, sub := range active {
		ids = append(ids, sub.ID)
		if err := m.gateway.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
			util.ProviderCancellationFailedTotal.Inc()
			failed = append(failed, sub.ID)
			m.logger.Error("Provider cancellation failed",
				zap.String("user_id", userID),
				zap.String("subscription_id", sub.ID),
				zap.String("provider_subscription_id", sub.ProviderSubscriptionID),
				zap.Error(err))
		}
	}

	err = m.opts.retry(ctx, func(ctx context.Context) error {
		return m.opts.storeCall(ctx, func(ctx context.Context) error {
			_, err := m.subscriptions.DeactivateSubscriptions(ctx, userID, ids)
			return err
		})
	})
	if err != nil {
		m.logger.Error("Failed to deactivate subscriptions after provider cancellation",
			zap.String("user_id", userID),
			zap.Strings("subscription_ids", ids),
			zap.Error(err))
		return len(active), apperror.Wrap(apperror.KindInternal, "Database error", err)
	}

	util.SubscriptionsCancelledTotal.WithLabelValues("all").Add(float64(len(ids)))
	m.logger.Info("Subscriptions cancelled",
		zap.String("user_id", userID),
		zap.Int("attempted", len(ids)),
		zap.Int("provider_failed", len(failed)))

	m.publishCancelled(ctx, userID, ids, failed)
	return len(active), nil
}

// List returns the user's subscriptions, newest first
func (m *SubscriptionLifecycleManager) List(ctx context.Context, userID string, page models.Page) ([]models.SubscriptionRecord, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionLifecycleManager.List")
	defer span.End()

	if err := validatePage(page); err != nil {
		return nil, err
	}

	var subs []models.SubscriptionRecord
	err := m.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		subs, err = m.subscriptions.ListSubscriptions(ctx, userID, page)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to list subscriptions: %w", err))
	}
	return subs, nil
}

func (m *SubscriptionLifecycleManager) publishCancelled(ctx context.Context, userID string, ids, failed []string) {
	event := &models.SubscriptionCancelledEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeSubscriptionCancelled),
		UserID:          userID,
		SubscriptionIDs: ids,
		ProviderFailed:  failed,
	}
	if err := m.events.PublishSubscriptionCancelled(ctx, event); err != nil {
		m.logger.Error("Failed to publish SubscriptionCancelled event", zap.Error(err))
	}
}
