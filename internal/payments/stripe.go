package payments

import (
	"context"
	"errors"
	"fmt"

	"sales-service/internal/apperror"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider talks to Stripe
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, amount int64, currency, customerID, receiptEmail string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if receiptEmail != "" {
		params.ReceiptEmail = stripe.String(receiptEmail)
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, translateStripeError("create payment intent", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	if _, err := p.api.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		return translateStripeError("attach payment method", err)
	}
	return nil
}

func (p *StripeProvider) UpdateCustomerDefaultMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := p.api.Customers.Update(customerID, params); err != nil {
		return translateStripeError("update customer", err)
	}
	return nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID string, items []SubscriptionItem) (*Subscription, error) {
	params := &stripe.SubscriptionParams{Customer: stripe.String(customerID)}
	for _, item := range items {
		params.Items = append(params.Items, &stripe.SubscriptionItemsParams{
			Price:    stripe.String(item.PriceID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.Context = ctx

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, translateStripeError("create subscription", err)
	}

	out := &Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.Status = string(sub.LatestInvoice.PaymentIntent.Status)
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return translateStripeError("cancel subscription", err)
	}
	return nil
}

// translateStripeError turns card and request errors into validation errors.
// Everything else stays a plain error and counts against the breaker.
func translateStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			msg := stripeErr.Msg
			if msg == "" {
				msg = "Payment rejected"
			}
			return apperror.Wrap(apperror.KindValidation, msg, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
