package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/payments"
	"sales-service/internal/redisclient"
	"sales-service/internal/store"
	"sales-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Warnings returned with a purchase that succeeded upstream but not everywhere
const (
	WarningRecordDeferred   = "Purchase completed but its record could not be saved yet"
	WarningHistoryDeferred  = "Purchase history will be updated shortly"
	WarningDeliveryDeferred = "Delivery dispatch has been scheduled for retry"
)

// PurchaseRequest is a checkout or subscription request
type PurchaseRequest struct {
	BillingProfileID string     `json:"billingProfileID" validate:"required,uuid"`
	Products         []CartItem `json:"products" validate:"required,min=1,dive"`
	PaymentMethodID  string     `json:"paymentMethodID,omitempty"`
}

// PurchaseResult is returned once the provider accepted the purchase
type PurchaseResult struct {
	ID           string   `json:"id"`
	ClientSecret string   `json:"clientSecret"`
	Status       string   `json:"status,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// PurchaseOrchestrator drives one-time payments and subscription creation
// across the catalog, the payment provider, the store, history and delivery.
type PurchaseOrchestrator struct {
	profiles      BillingProfileRepository
	payments      PaymentRepository
	subscriptions SubscriptionRepository
	history       HistoryRepository
	resolver      *PriceResolver
	gateway       PaymentGateway
	delivery      DeliveryClient
	events        EventPublisher
	idempotency   IdempotencyStore
	opts          Options
	logger        *zap.Logger
}

// Dependencies groups the collaborators of the purchase services
type Dependencies struct {
	Profiles      BillingProfileRepository
	Payments      PaymentRepository
	Subscriptions SubscriptionRepository
	History       HistoryRepository
	Catalog       CatalogClient
	Gateway       PaymentGateway
	Delivery      DeliveryClient
	Events        EventPublisher
	Idempotency   IdempotencyStore
	Locker        Locker
}

func NewPurchaseOrchestrator(deps Dependencies, opts Options) *PurchaseOrchestrator {
	return &PurchaseOrchestrator{
		profiles:      deps.Profiles,
		payments:      deps.Payments,
		subscriptions: deps.Subscriptions,
		history:       deps.History,
		resolver:      NewPriceResolver(deps.Catalog),
		gateway:       deps.Gateway,
		delivery:      deps.Delivery,
		events:        deps.Events,
		idempotency:   deps.Idempotency,
		opts:          opts.withDefaults(),
		logger:        util.GetLogger(),
	}
}

// Pay charges the user once for the requested products
func (o *PurchaseOrchestrator) Pay(ctx context.Context, userID string, req *PurchaseRequest, idempotencyKey string) (*PurchaseResult, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseOrchestrator.Pay")
	defer span.End()

	return o.withIdempotency(ctx, userID, idempotencyKey, func() (*PurchaseResult, error) {
		return o.purchase(ctx, models.OperationPayment, userID, req, []sagaStep{
			{name: stepBillingProfile, run: o.loadBillingProfile},
			{name: stepResolvePrice, run: o.resolvePrice},
			{name: stepCreatePaymentIntent, run: o.createPaymentIntent},
			{name: stepPersistRecord, bestEffort: true, run: o.persistPayment},
			{name: stepAppendHistory, bestEffort: true, run: o.appendHistory},
			{name: stepDispatchDelivery, bestEffort: true, run: o.dispatchDelivery},
		})
	})
}

// Subscribe creates a recurring subscription for the requested products
func (o *PurchaseOrchestrator) Subscribe(ctx context.Context, userID string, req *PurchaseRequest, idempotencyKey string) (*PurchaseResult, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseOrchestrator.Subscribe")
	defer span.End()

	if req != nil && req.PaymentMethodID == "" {
		return nil, apperror.Validation("paymentMethodID is required")
	}

	return o.withIdempotency(ctx, userID, idempotencyKey, func() (*PurchaseResult, error) {
		return o.purchase(ctx, models.OperationSubscription, userID, req, []sagaStep{
			{name: stepBillingProfile, run: o.loadBillingProfile},
			{name: stepResolvePrice, run: o.resolveSubscriptionPrice},
			{name: stepAttachPaymentMethod, run: o.attachPaymentMethod},
			{name: stepUpdateCustomer, run: o.updateCustomer},
			{name: stepCreateSubscription, run: o.createSubscription},
			{name: stepPersistRecord, bestEffort: true, run: o.persistSubscription},
			{name: stepAppendHistory, bestEffort: true, run: o.appendHistory},
			{name: stepDispatchDelivery, bestEffort: true, run: o.dispatchDelivery},
		})
	})
}

func (o *PurchaseOrchestrator) purchase(ctx context.Context, kind, userID string, req *PurchaseRequest, steps []sagaStep) (*PurchaseResult, error) {
	if req == nil {
		return nil, apperror.Validation("Request body is required")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	util.PurchasesStartedTotal.WithLabelValues(kind).Inc()

	p := &purchase{
		kind:      kind,
		userID:    userID,
		request:   req,
		recordID:  uuid.NewString(),
		historyID: uuid.NewString(),
	}
	if err := o.runSaga(ctx, p, steps); err != nil {
		return nil, err
	}

	util.PurchasesCompletedTotal.WithLabelValues(kind).Inc()
	o.logger.Info("Purchase completed",
		zap.String("kind", kind),
		zap.String("user_id", userID),
		zap.String("record_id", p.recordID),
		zap.String("tx_id", p.txID),
		zap.String("total", p.cart.Total.StringFixed(2)))

	return &PurchaseResult{
		ID:           p.recordID,
		ClientSecret: p.clientSecret,
		Status:       p.status,
		Warnings:     p.warnings,
	}, nil
}

func (o *PurchaseOrchestrator) loadBillingProfile(ctx context.Context, p *purchase) error {
	var profile *models.BillingProfile
	err := o.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		profile, err = o.profiles.GetBillingProfile(ctx, p.request.BillingProfileID, p.userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperror.Auth("Billing profile does not belong to the user")
	}
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to load billing profile: %w", err))
	}
	p.profile = profile
	return nil
}

func (o *PurchaseOrchestrator) resolvePrice(ctx context.Context, p *purchase) error {
	cart, err := o.resolver.Resolve(ctx, p.request.Products)
	if err != nil {
		return err
	}
	p.cart = cart
	return nil
}

// resolveSubscriptionPrice also requires a provider price for every line
func (o *PurchaseOrchestrator) resolveSubscriptionPrice(ctx context.Context, p *purchase) error {
	if err := o.resolvePrice(ctx, p); err != nil {
		return err
	}
	for _, item := range p.cart.Items {
		if item.ProviderPriceID == "" {
			return apperror.Validation(fmt.Sprintf("Product %s (%s) is not available as a subscription", item.ProductID, item.Format))
		}
	}
	if p.profile.ProviderCustomerID == "" {
		return apperror.Validation("Billing profile has no payment customer")
	}
	return nil
}

func (o *PurchaseOrchestrator) createPaymentIntent(ctx context.Context, p *purchase) error {
	pi, err := o.gateway.CreatePaymentIntent(ctx,
		minorUnits(p.cart.Total),
		o.opts.Currency,
		p.profile.ProviderCustomerID,
		p.profile.Email)
	if err != nil {
		return err
	}
	p.txID = pi.ID
	p.clientSecret = pi.ClientSecret
	p.status = pi.Status
	return nil
}

func (o *PurchaseOrchestrator) attachPaymentMethod(ctx context.Context, p *purchase) error {
	return o.gateway.AttachPaymentMethod(ctx, p.request.PaymentMethodID, p.profile.ProviderCustomerID)
}

func (o *PurchaseOrchestrator) updateCustomer(ctx context.Context, p *purchase) error {
	return o.gateway.UpdateCustomerDefaultMethod(ctx, p.profile.ProviderCustomerID, p.request.PaymentMethodID)
}

func (o *PurchaseOrchestrator) createSubscription(ctx context.Context, p *purchase) error {
	items := make([]payments.SubscriptionItem, 0, len(p.cart.Items))
	for _, item := range p.cart.Items {
		items = append(items, payments.SubscriptionItem{
			PriceID:  item.ProviderPriceID,
			Quantity: int64(item.Quantity),
		})
	}

	sub, err := o.gateway.CreateSubscription(ctx, p.profile.ProviderCustomerID, items)
	if err != nil {
		return err
	}
	p.txID = sub.ID
	p.clientSecret = sub.ClientSecret
	p.status = sub.Status
	return nil
}

func (o *PurchaseOrchestrator) persistPayment(ctx context.Context, p *purchase) error {
	record := &models.PaymentRecord{
		ID:                    p.recordID,
		UserID:                p.userID,
		Timestamp:             time.Now().UTC(),
		LineItems:             p.cart.Items,
		ProviderTransactionID: p.txID,
		TotalPrice:            p.cart.Total,
		BillingProfileID:      p.profile.ID,
	}
	return o.persist(ctx, p, func(ctx context.Context) error {
		return o.payments.CreatePayment(ctx, record)
	})
}

func (o *PurchaseOrchestrator) persistSubscription(ctx context.Context, p *purchase) error {
	record := &models.SubscriptionRecord{
		ID:                     p.recordID,
		UserID:                 p.userID,
		Timestamp:              time.Now().UTC(),
		LineItems:              p.cart.Items,
		ProviderSubscriptionID: p.txID,
		TotalPrice:             p.cart.Total,
		BillingProfileID:       p.profile.ID,
		PaymentMethodID:        p.request.PaymentMethodID,
		IsActive:               true,
	}
	return o.persist(ctx, p, func(ctx context.Context) error {
		return o.subscriptions.CreateSubscription(ctx, record)
	})
}

// persist writes the record with retries. When every attempt fails the
// charge is reported for reconciliation; no refund is issued.
func (o *PurchaseOrchestrator) persist(ctx context.Context, p *purchase, write func(ctx context.Context) error) error {
	err := o.opts.retry(ctx, func(ctx context.Context) error {
		return o.opts.storeCall(ctx, write)
	})
	if err == nil {
		p.recorded = true
		o.publishCompleted(ctx, p)
		return nil
	}

	unrecorded := &models.PaymentUnrecordedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentUnrecorded),
		UserID:        p.userID,
		OperationKind: p.kind,
		TxID:          p.txID,
		TotalPrice:    p.cart.Total,
		LineItems:     p.cart.Items,
		Reason:        err.Error(),
	}
	if pubErr := o.events.PublishPaymentUnrecorded(ctx, unrecorded); pubErr != nil {
		o.logger.Error("Failed to publish PaymentUnrecorded event",
			zap.String("tx_id", p.txID),
			zap.Error(pubErr))
	}
	return apperror.Persistence(WarningRecordDeferred, err)
}

func (o *PurchaseOrchestrator) publishCompleted(ctx context.Context, p *purchase) {
	eventType := models.EventTypePaymentCompleted
	if p.kind == models.OperationSubscription {
		eventType = models.EventTypeSubscriptionCreated
	}
	event := &models.PurchaseCompletedEvent{
		BaseEvent:     models.NewBaseEvent(eventType),
		RecordID:      p.recordID,
		UserID:        p.userID,
		OperationKind: p.kind,
		TotalPrice:    p.cart.Total,
		TxID:          p.txID,
	}
	if err := o.events.PublishPurchaseCompleted(ctx, event); err != nil {
		o.logger.Error("Failed to publish PurchaseCompleted event",
			zap.String("record_id", p.recordID),
			zap.Error(err))
	}
}

// appendHistory logs the purchase; entries that cannot be written now are
// handed to the retry worker.
func (o *PurchaseOrchestrator) appendHistory(ctx context.Context, p *purchase) error {
	entry := models.HistoryEntry{
		ID:                      p.historyID,
		UserID:                  p.userID,
		Timestamp:               time.Now().UTC(),
		OperationKind:           p.kind,
		LineItems:               p.cart.Items,
		CorrelatedTransactionID: p.recordID,
	}

	err := o.opts.retry(ctx, func(ctx context.Context) error {
		return o.opts.storeCall(ctx, func(ctx context.Context) error {
			return o.history.CreateHistoryEntry(ctx, &entry)
		})
	})
	if err == nil {
		return nil
	}

	retryEvent := &models.HistoryRetryEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeHistoryRetry),
		Attempt:   1,
		UserID:    p.userID,
		Entry:     entry,
	}
	if pubErr := o.events.PublishHistoryRetry(ctx, retryEvent); pubErr != nil {
		o.logger.Error("Failed to hand history entry to retry worker",
			zap.String("history_id", entry.ID),
			zap.Error(pubErr))
	}
	return apperror.Wrap(apperror.KindPartialSaga, WarningHistoryDeferred, err)
}

func (o *PurchaseOrchestrator) dispatchDelivery(ctx context.Context, p *purchase) error {
	req := models.DeliveryRequest{
		HistoryID: p.historyID,
		Profile:   *p.profile,
		LineItems: p.cart.Items,
	}

	err := o.opts.retry(ctx, func(ctx context.Context) error {
		return o.delivery.Dispatch(ctx, req)
	})
	if err == nil {
		return nil
	}

	retryEvent := &models.DeliveryRetryEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeDeliveryRetry),
		Attempt:   1,
		Delivery:  req,
	}
	if pubErr := o.events.PublishDeliveryRetry(ctx, retryEvent); pubErr != nil {
		o.logger.Error("Failed to hand delivery to retry worker",
			zap.String("history_id", p.historyID),
			zap.Error(pubErr))
	}
	return apperror.Wrap(apperror.KindPartialSaga, WarningDeliveryDeferred, err)
}

// withIdempotency replays the stored result of an earlier request with the
// same key. Keys are scoped per user.
func (o *PurchaseOrchestrator) withIdempotency(ctx context.Context, userID, key string, run func() (*PurchaseResult, error)) (*PurchaseResult, error) {
	if key == "" || o.idempotency == nil {
		return run()
	}
	scoped := userID + ":" + key

	stored, err := o.idempotency.ReserveIdempotencyKey(ctx, scoped, o.opts.IdempotencyTTL)
	switch {
	case errors.Is(err, redisclient.ErrInProgress):
		return nil, apperror.Conflict("A request with this Idempotency-Key is already in progress")
	case err != nil:
		o.logger.Warn("Idempotency check unavailable, proceeding", zap.Error(err))
		return run()
	case stored != nil:
		var result PurchaseResult
		if err := json.Unmarshal(stored, &result); err != nil {
			return nil, fmt.Errorf("failed to decode stored response: %w", err)
		}
		o.logger.Info("Duplicate purchase request detected",
			zap.String("idempotency_key", key),
			zap.String("record_id", result.ID))
		return &result, nil
	}

	result, err := run()
	if err != nil {
		if relErr := o.idempotency.ReleaseIdempotencyKey(context.WithoutCancel(ctx), scoped); relErr != nil {
			o.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
		}
		return nil, err
	}

	payload, _ := json.Marshal(result)
	if err := o.idempotency.StoreIdempotentResponse(context.WithoutCancel(ctx), scoped, payload, o.opts.IdempotencyTTL); err != nil {
		o.logger.Warn("Failed to store idempotent response", zap.Error(err))
	}
	return result, nil
}

// ListPayments returns the user's one-time payments, newest first
func (o *PurchaseOrchestrator) ListPayments(ctx context.Context, userID string, page models.Page) ([]models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseOrchestrator.ListPayments")
	defer span.End()

	if err := validatePage(page); err != nil {
		return nil, err
	}

	var records []models.PaymentRecord
	err := o.opts.storeCall(ctx, func(ctx context.Context) error {
		var err error
		records, err = o.payments.ListPayments(ctx, userID, page)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "Database error", fmt.Errorf("failed to list payments: %w", err))
	}
	return records, nil
}
