package payments

import "context"

// PaymentIntent is the provider's handle on a one-time charge
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// SubscriptionItem is one recurring line, priced by the provider's own price id
type SubscriptionItem struct {
	PriceID  string
	Quantity int64
}

// Subscription is the provider's view of a created subscription
type Subscription struct {
	ID           string
	Status       string
	ClientSecret string
}

// Provider is the raw payment provider API. Implementations return
// apperror validation errors for card and request problems.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency, customerID, receiptEmail string) (*PaymentIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	UpdateCustomerDefaultMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID string, items []SubscriptionItem) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
