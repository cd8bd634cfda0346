package payments

import (
	"context"

	"sales-service/internal/breaker"
	"sales-service/internal/util"

	"go.uber.org/zap"
)

// Breaker names for the guarded provider operations
const (
	OpCreatePaymentIntent = "stripe_payment_intents_create"
	OpAttachPaymentMethod = "stripe_payment_methods_attach"
	OpUpdateCustomer      = "stripe_customers_update"
	OpCreateSubscription  = "stripe_subscriptions_create"
	OpCancelSubscription  = "stripe_subscriptions_cancel"
)

// Gateway puts every provider operation behind its own circuit breaker.
// Client-facing provider errors pass through; any other failure, an open
// breaker or a timeout surfaces as the same unavailable error.
type Gateway struct {
	provider      Provider
	intents       *breaker.CircuitBreaker
	attach        *breaker.CircuitBreaker
	customers     *breaker.CircuitBreaker
	subscriptions *breaker.CircuitBreaker
	cancels       *breaker.CircuitBreaker
	logger        *zap.Logger
}

func NewGateway(provider Provider, registry *breaker.Registry) *Gateway {
	return &Gateway{
		provider:      provider,
		intents:       registry.Get(OpCreatePaymentIntent),
		attach:        registry.Get(OpAttachPaymentMethod),
		customers:     registry.Get(OpUpdateCustomer),
		subscriptions: registry.Get(OpCreateSubscription),
		cancels:       registry.Get(OpCancelSubscription),
		logger:        util.GetLogger(),
	}
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, amount int64, currency, customerID, receiptEmail string) (*PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.CreatePaymentIntent")
	defer span.End()

	pi, err := breaker.Guard(ctx, g.intents,
		func(ctx context.Context) (*PaymentIntent, error) {
			return g.provider.CreatePaymentIntent(ctx, amount, currency, customerID, receiptEmail)
		},
		breaker.PassThroughClientErrors[*PaymentIntent],
		breaker.CountsAsFailure,
	)
	if err != nil {
		g.logger.Warn("Create payment intent failed",
			zap.Int64("amount", amount),
			zap.String("currency", currency),
			zap.Error(err))
		return nil, err
	}
	return pi, nil
}

func (g *Gateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	ctx, span := util.StartSpan(ctx, "Gateway.AttachPaymentMethod")
	defer span.End()

	_, err := breaker.Guard(ctx, g.attach,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.provider.AttachPaymentMethod(ctx, paymentMethodID, customerID)
		},
		breaker.PassThroughClientErrors[struct{}],
		breaker.CountsAsFailure,
	)
	if err != nil {
		g.logger.Warn("Attach payment method failed", zap.Error(err))
	}
	return err
}

func (g *Gateway) UpdateCustomerDefaultMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, span := util.StartSpan(ctx, "Gateway.UpdateCustomerDefaultMethod")
	defer span.End()

	_, err := breaker.Guard(ctx, g.customers,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.provider.UpdateCustomerDefaultMethod(ctx, customerID, paymentMethodID)
		},
		breaker.PassThroughClientErrors[struct{}],
		breaker.CountsAsFailure,
	)
	if err != nil {
		g.logger.Warn("Update customer failed", zap.Error(err))
	}
	return err
}

func (g *Gateway) CreateSubscription(ctx context.Context, customerID string, items []SubscriptionItem) (*Subscription, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.CreateSubscription")
	defer span.End()

	sub, err := breaker.Guard(ctx, g.subscriptions,
		func(ctx context.Context) (*Subscription, error) {
			return g.provider.CreateSubscription(ctx, customerID, items)
		},
		breaker.PassThroughClientErrors[*Subscription],
		breaker.CountsAsFailure,
	)
	if err != nil {
		g.logger.Warn("Create subscription failed", zap.Int("items", len(items)), zap.Error(err))
		return nil, err
	}
	return sub, nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	ctx, span := util.StartSpan(ctx, "Gateway.CancelSubscription")
	defer span.End()

	_, err := breaker.Guard(ctx, g.cancels,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.provider.CancelSubscription(ctx, subscriptionID)
		},
		breaker.PassThroughClientErrors[struct{}],
		breaker.CountsAsFailure,
	)
	if err != nil {
		g.logger.Warn("Cancel subscription failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
	}
	return err
}
