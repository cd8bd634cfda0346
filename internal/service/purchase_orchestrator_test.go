package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/payments"
	"sales-service/internal/store"
	"sales-service/internal/util"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testOptions = Options{
	Currency:            "eur",
	StoreTimeout:        time.Second,
	BestEffortRetries:   1,
	BestEffortBaseDelay: time.Millisecond,
}

const (
	adaProfileID   = "3f6c2a9e-8d41-4b7a-9c0e-5a1f2b3c4d01"
	otherProfileID = "3f6c2a9e-8d41-4b7a-9c0e-5a1f2b3c4d02"
)

type fixture struct {
	store    *memStore
	catalog  *mockCatalog
	gateway  *mockGateway
	delivery *mockDelivery
	events   *mockEvents
	locker   *memLocker
	idem     *memIdempotency
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		gateway:  &mockGateway{},
		delivery: &mockDelivery{},
		events:   &mockEvents{},
		locker:   &memLocker{},
		idem:     &memIdempotency{},
		catalog: &mockCatalog{products: []models.CatalogProduct{
			{ID: "coffee", Format: []models.CatalogFormat{
				{Name: "250g", Price: decimal.NewFromInt(10), ProviderPriceID: "price_coffee_250"},
				{Name: "1kg", Price: decimal.RequireFromString("34.90"), ProviderPriceID: "price_coffee_1k"},
			}},
			{ID: "tea", Format: []models.CatalogFormat{
				{Name: "100g", Price: decimal.RequireFromString("4.50")},
			}},
		}},
	}
	f.store.profiles[adaProfileID] = models.BillingProfile{
		ID: adaProfileID, UserID: "user-1", Name: "Ada", Surname: "Lovelace",
		Email: "ada@example.com", Address: "1 Main St", City: "Rome", ZipCode: "00100",
		ProviderCustomerID: "cus_123",
	}
	f.store.profiles[otherProfileID] = models.BillingProfile{ID: otherProfileID, UserID: "user-2", ProviderCustomerID: "cus_456"}
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Profiles:      f.store,
		Payments:      f.store,
		Subscriptions: f.store,
		History:       f.store,
		Catalog:       f.catalog,
		Gateway:       f.gateway,
		Delivery:      f.delivery,
		Events:        f.events,
		Idempotency:   f.idem,
		Locker:        f.locker,
	}
}

func (f *fixture) orchestrator() *PurchaseOrchestrator {
	return NewPurchaseOrchestrator(f.deps(), testOptions)
}

func TestPayChargesCatalogPriceAndRecordsEverything(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	res, err := o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products: []CartItem{
			{ProductID: "coffee", Format: "250g", Quantity: 2},
		},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "pi_123_secret", res.ClientSecret)
	assert.Empty(t, res.Warnings)

	require.Len(t, f.gateway.intents, 1)
	assert.Equal(t, intentCall{Amount: 2000, Currency: "eur", CustomerID: "cus_123", ReceiptEmail: "ada@example.com"}, f.gateway.intents[0])

	require.Len(t, f.store.payments, 1)
	record := f.store.payments[0]
	assert.Equal(t, res.ID, record.ID)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "pi_123", record.ProviderTransactionID)
	assert.True(t, record.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.True(t, record.LineItems[0].UnitPrice.Equal(decimal.NewFromInt(10)))

	require.Len(t, f.store.history, 1)
	entry := f.store.history[0]
	assert.Equal(t, models.OperationPayment, entry.OperationKind)
	assert.Equal(t, record.ID, entry.CorrelatedTransactionID)

	require.Len(t, f.delivery.requests, 1)
	assert.Equal(t, entry.ID, f.delivery.requests[0].HistoryID)
	assert.Equal(t, adaProfileID, f.delivery.requests[0].Profile.ID)

	require.Len(t, f.events.completed, 1)
	assert.Equal(t, models.EventTypePaymentCompleted, f.events.completed[0].EventType)
}

func TestPayMixedCartUsesMinorUnits(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products: []CartItem{
			{ProductID: "coffee", Format: "1kg", Quantity: 1},
			{ProductID: "tea", Format: "100g", Quantity: 3},
		},
	}, "")
	require.NoError(t, err)

	require.Len(t, f.gateway.intents, 1)
	assert.Equal(t, int64(4840), f.gateway.intents[0].Amount)
}

func TestPayAbortsBeforeChargeWhenCatalogFails(t *testing.T) {
	f := newFixture()
	f.catalog.ProductsFunc = func(ids []string) ([]models.CatalogProduct, error) {
		return nil, apperror.Unavailable(errors.New("catalog down"))
	}

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.KindUnavailable, apperror.KindOf(err))
	assert.Empty(t, f.gateway.calls())
	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.store.history)
	assert.Empty(t, f.delivery.requests)
}

func TestPayAbortsWhenProviderFails(t *testing.T) {
	f := newFixture()
	f.gateway.CreatePaymentIntentFunc = func() (*payments.PaymentIntent, error) {
		return nil, apperror.Unavailable(errors.New("stripe timeout"))
	}

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.UnavailableMessage, apperror.PublicMessage(err))
	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.store.history)
	assert.Empty(t, f.delivery.requests)
	assert.Empty(t, f.events.completed)
}

func TestPayRejectsForeignBillingProfile(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: otherProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))
	assert.Equal(t, 0, f.catalog.callCount())
	assert.Empty(t, f.gateway.calls())
}

func TestPayRejectsUnknownFormat(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "5kg", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Empty(t, f.gateway.calls())
}

func TestPayValidatesRequest(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	_, err := o.Pay(context.Background(), "user-1", &PurchaseRequest{BillingProfileID: adaProfileID}, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 0}},
	}, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = o.Pay(context.Background(), "user-1", nil, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: "abc",
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Contains(t, apperror.PublicMessage(err), "billingProfileID")

	assert.Empty(t, f.gateway.calls())
	assert.Zero(t, f.catalog.callCount())
}

func TestPaySucceedsWithWarningWhenRecordCannotBeSaved(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	util.SetLogger(zap.New(core))
	t.Cleanup(func() { util.SetLogger(zap.NewNop()) })

	f := newFixture()
	f.store.CreatePaymentFunc = func(p *models.PaymentRecord) error { return errDatabaseDown }
	o := f.orchestrator()

	res, err := o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "pi_123_secret", res.ClientSecret)
	assert.Contains(t, res.Warnings, WarningRecordDeferred)
	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.events.completed)

	require.Len(t, f.events.unrecorded, 1)
	assert.Equal(t, "pi_123", f.events.unrecorded[0].TxID)
	assert.True(t, f.events.unrecorded[0].TotalPrice.Equal(decimal.NewFromInt(10)))

	// the remaining steps still ran
	require.Len(t, f.store.history, 1)
	assert.Equal(t, res.ID, f.store.history[0].CorrelatedTransactionID)
	assert.Len(t, f.delivery.requests, 1)

	failures := logs.FilterMessage("Purchase step failed after charge").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	fields := failures[0].ContextMap()
	assert.Equal(t, "post_charge", fields["phase"])
	assert.Equal(t, stepPersistRecord, fields["step"])
	assert.Equal(t, "pi_123", fields["tx_id"])
}

func TestPayRetriesRecordWriteAfterAmbiguousFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// the first insert commits but the driver reports a timeout; the replay hits the same id
	insert := `(?s)INSERT INTO payments .*ON CONFLICT \(id\) DO NOTHING`
	mock.ExpectExec(insert).WillReturnError(context.DeadlineExceeded)
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))

	f := newFixture()
	deps := f.deps()
	deps.Payments = store.NewStoreWithDB(sqlx.NewDb(db, "postgres"))
	o := NewPurchaseOrchestrator(deps, testOptions)

	res, err := o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")
	require.NoError(t, err)

	assert.NotContains(t, res.Warnings, WarningRecordDeferred)
	assert.Empty(t, f.events.unrecorded)
	assert.Len(t, f.events.completed, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayDefersHistoryAndDeliveryToRetryWorker(t *testing.T) {
	f := newFixture()
	f.store.CreateHistoryEntryFunc = func(e *models.HistoryEntry) error { return errDatabaseDown }
	f.delivery.DispatchFunc = func(req models.DeliveryRequest) error {
		return apperror.Unavailable(errors.New("delivery down"))
	}

	res, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")
	require.NoError(t, err)

	assert.Len(t, f.store.payments, 1)
	assert.ElementsMatch(t, []string{WarningHistoryDeferred, WarningDeliveryDeferred}, res.Warnings)
	assert.Equal(t, 2, f.store.historyAttempts)

	require.Len(t, f.events.historyRetry, 1)
	hist := f.events.historyRetry[0]
	assert.Equal(t, 1, hist.Attempt)
	assert.Equal(t, "user-1", hist.UserID)
	assert.Equal(t, res.ID, hist.Entry.CorrelatedTransactionID)

	require.Len(t, f.events.deliveries, 1)
	assert.Equal(t, hist.Entry.ID, f.events.deliveries[0].Delivery.HistoryID)
}

func TestPayTailSurvivesCallerCancellation(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.CreatePaymentIntentFunc = func() (*payments.PaymentIntent, error) {
		cancel()
		return &payments.PaymentIntent{ID: "pi_9", ClientSecret: "pi_9_secret"}, nil
	}

	res, err := f.orchestrator().Pay(ctx, "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")
	require.NoError(t, err)

	assert.Empty(t, res.Warnings)
	assert.Len(t, f.store.payments, 1)
	assert.Len(t, f.store.history, 1)
	assert.Len(t, f.delivery.requests, 1)
}

func TestSubscribeCallsProviderInOrder(t *testing.T) {
	f := newFixture()

	res, err := f.orchestrator().Subscribe(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		PaymentMethodID:  "pm_card",
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 3}},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"attach_payment_method", "update_customer", "create_subscription"}, f.gateway.calls())
	require.Len(t, f.gateway.subscriptions, 1)
	assert.Equal(t, []payments.SubscriptionItem{{PriceID: "price_coffee_250", Quantity: 3}}, f.gateway.subscriptions[0])

	sub := f.store.subscription(res.ID)
	assert.True(t, sub.IsActive)
	assert.Equal(t, "sub_123", sub.ProviderSubscriptionID)
	assert.Equal(t, "pm_card", sub.PaymentMethodID)
	assert.True(t, sub.TotalPrice.Equal(decimal.NewFromInt(30)))

	require.Len(t, f.store.history, 1)
	assert.Equal(t, models.OperationSubscription, f.store.history[0].OperationKind)
	require.Len(t, f.events.completed, 1)
	assert.Equal(t, models.EventTypeSubscriptionCreated, f.events.completed[0].EventType)
}

func TestSubscribeRequiresPaymentMethod(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator().Subscribe(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Empty(t, f.gateway.calls())
}

func TestSubscribeRejectsFormatWithoutProviderPrice(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator().Subscribe(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		PaymentMethodID:  "pm_card",
		Products:         []CartItem{{ProductID: "tea", Format: "100g", Quantity: 1}},
	}, "")

	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Empty(t, f.gateway.calls())
}

func TestPayReplaysIdempotentRequest(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	req := &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}

	first, err := o.Pay(context.Background(), "user-1", req, "key-1")
	require.NoError(t, err)
	second, err := o.Pay(context.Background(), "user-1", req, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.gateway.intents, 1)
	assert.Len(t, f.store.payments, 1)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	_, err := o.Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "same-key")
	require.NoError(t, err)
	_, err = o.Pay(context.Background(), "user-2", &PurchaseRequest{
		BillingProfileID: otherProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "same-key")
	require.NoError(t, err)

	assert.Len(t, f.gateway.intents, 2)
}

func TestFailedRequestReleasesIdempotencyKey(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	calls := 0
	f.gateway.CreatePaymentIntentFunc = func() (*payments.PaymentIntent, error) {
		calls++
		if calls == 1 {
			return nil, apperror.Unavailable(errors.New("stripe down"))
		}
		return &payments.PaymentIntent{ID: "pi_2", ClientSecret: "pi_2_secret"}, nil
	}
	req := &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}

	_, err := o.Pay(context.Background(), "user-1", req, "key-1")
	require.Error(t, err)

	res, err := o.Pay(context.Background(), "user-1", req, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_2_secret", res.ClientSecret)
}

func TestInFlightIdempotencyKeyConflicts(t *testing.T) {
	f := newFixture()
	f.idem.values = map[string][]byte{"user-1:key-1": nil}

	_, err := f.orchestrator().Pay(context.Background(), "user-1", &PurchaseRequest{
		BillingProfileID: adaProfileID,
		Products:         []CartItem{{ProductID: "coffee", Format: "250g", Quantity: 1}},
	}, "key-1")

	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Empty(t, f.gateway.calls())
}

func TestListPaymentsIsScopedToUser(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	now := time.Now()
	f.store.payments = []models.PaymentRecord{
		{ID: "p1", UserID: "user-1", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "p2", UserID: "user-2", Timestamp: now.Add(-time.Hour)},
		{ID: "p3", UserID: "user-1", Timestamp: now.Add(-time.Minute)},
	}

	records, err := o.ListPayments(context.Background(), "user-1", models.Page{Before: now, Size: 20})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p3", records[0].ID)
	assert.Equal(t, "p1", records[1].ID)

	_, err = o.ListPayments(context.Background(), "user-1", models.Page{Before: now, Size: 21})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	_, err = o.ListPayments(context.Background(), "user-1", models.Page{Size: 5})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}
