package service

import (
	"context"
	"time"

	"sales-service/internal/models"
	"sales-service/internal/payments"
)

type BillingProfileRepository interface {
	CreateBillingProfile(ctx context.Context, p *models.BillingProfile) error
	GetBillingProfile(ctx context.Context, id, userID string) (*models.BillingProfile, error)
	ListBillingProfiles(ctx context.Context, userID string) ([]models.BillingProfile, error)
	UpdateBillingProfile(ctx context.Context, p *models.BillingProfile) error
	DeleteBillingProfile(ctx context.Context, id, userID string) error
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.PaymentRecord) error
	ListPayments(ctx context.Context, userID string, page models.Page) ([]models.PaymentRecord, error)
}

type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *models.SubscriptionRecord) error
	ListSubscriptions(ctx context.Context, userID string, page models.Page) ([]models.SubscriptionRecord, error)
	ListActiveSubscriptions(ctx context.Context, userID string) ([]models.SubscriptionRecord, error)
	DeactivateSubscription(ctx context.Context, id, userID string) (*models.SubscriptionRecord, error)
	DeactivateSubscriptions(ctx context.Context, userID string, ids []string) (int64, error)
}

type HistoryRepository interface {
	CreateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error
	ListHistory(ctx context.Context, userID string, page models.Page) ([]models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, userID string) (int64, error)
}

type CatalogClient interface {
	Products(ctx context.Context, ids []string) ([]models.CatalogProduct, error)
}

type DeliveryClient interface {
	Dispatch(ctx context.Context, req models.DeliveryRequest) error
}

// PaymentGateway is the breaker-guarded provider surface
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency, customerID, receiptEmail string) (*payments.PaymentIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	UpdateCustomerDefaultMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID string, items []payments.SubscriptionItem) (*payments.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error
	PublishPaymentUnrecorded(ctx context.Context, event *models.PaymentUnrecordedEvent) error
	PublishSubscriptionCancelled(ctx context.Context, event *models.SubscriptionCancelledEvent) error
	PublishHistoryRetry(ctx context.Context, event *models.HistoryRetryEvent) error
	PublishDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error
}

type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

type IdempotencyStore interface {
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	StoreIdempotentResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}
