package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sales-service/internal/models"
	"sales-service/internal/payments"
	"sales-service/internal/redisclient"
	"sales-service/internal/store"
)

// memStore is an in-memory stand-in for every repository. Like the SQL store
// it scopes every lookup by user id.
type memStore struct {
	mu            sync.Mutex
	profiles      map[string]models.BillingProfile
	payments      []models.PaymentRecord
	subscriptions map[string]*models.SubscriptionRecord
	history       []models.HistoryEntry

	CreatePaymentFunc       func(p *models.PaymentRecord) error
	CreateHistoryEntryFunc  func(e *models.HistoryEntry) error
	DeactivateManyFunc      func(userID string, ids []string) error
	historyAttempts         int
	deactivateManyCallCount int
}

func newMemStore() *memStore {
	return &memStore{
		profiles:      make(map[string]models.BillingProfile),
		subscriptions: make(map[string]*models.SubscriptionRecord),
	}
}

func (m *memStore) CreateBillingProfile(ctx context.Context, p *models.BillingProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = *p
	return nil
}

func (m *memStore) GetBillingProfile(ctx context.Context, id, userID string) (*models.BillingProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListBillingProfiles(ctx context.Context, userID string) ([]models.BillingProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.BillingProfile{}
	for _, p := range m.profiles {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpdateBillingProfile(ctx context.Context, p *models.BillingProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[p.ID]
	if !ok || existing.UserID != p.UserID {
		return store.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	m.profiles[p.ID] = *p
	return nil
}

func (m *memStore) DeleteBillingProfile(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

func (m *memStore) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	if m.CreatePaymentFunc != nil {
		if err := m.CreatePaymentFunc(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, *p)
	return nil
}

func (m *memStore) ListPayments(ctx context.Context, userID string, page models.Page) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PaymentRecord{}
	for _, p := range m.payments {
		if p.UserID == userID && p.Timestamp.Before(page.Before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > page.Size {
		out = out[:page.Size]
	}
	return out, nil
}

func (m *memStore) CreateSubscription(ctx context.Context, sub *models.SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subscriptions[sub.ID] = &cp
	return nil
}

func (m *memStore) ListSubscriptions(ctx context.Context, userID string, page models.Page) ([]models.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.SubscriptionRecord{}
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.Timestamp.Before(page.Before) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > page.Size {
		out = out[:page.Size]
	}
	return out, nil
}

func (m *memStore) ListActiveSubscriptions(ctx context.Context, userID string) ([]models.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.SubscriptionRecord{}
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.IsActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeactivateSubscription(ctx context.Context, id, userID string) (*models.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	s.IsActive = false
	cp := *s
	return &cp, nil
}

func (m *memStore) DeactivateSubscriptions(ctx context.Context, userID string, ids []string) (int64, error) {
	m.mu.Lock()
	m.deactivateManyCallCount++
	m.mu.Unlock()
	if m.DeactivateManyFunc != nil {
		if err := m.DeactivateManyFunc(userID, ids); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if s, ok := m.subscriptions[id]; ok && s.UserID == userID {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	m.mu.Lock()
	m.historyAttempts++
	m.mu.Unlock()
	if m.CreateHistoryEntryFunc != nil {
		if err := m.CreateHistoryEntryFunc(e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *e)
	return nil
}

func (m *memStore) ListHistory(ctx context.Context, userID string, page models.Page) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.HistoryEntry{}
	for _, e := range m.history {
		if e.UserID == userID && e.Timestamp.Before(page.Before) {
			out = append(out, e)
		}
	}
	if len(out) > page.Size {
		out = out[:page.Size]
	}
	return out, nil
}

func (m *memStore) DeleteHistory(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	var n int64
	for _, e := range m.history {
		if e.UserID == userID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.history = kept
	return n, nil
}

func (m *memStore) subscription(id string) models.SubscriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subscriptions[id]
}

type mockCatalog struct {
	mu       sync.Mutex
	calls    [][]string
	products []models.CatalogProduct

	ProductsFunc func(ids []string) ([]models.CatalogProduct, error)
}

func (m *mockCatalog) Products(ctx context.Context, ids []string) ([]models.CatalogProduct, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ids)
	m.mu.Unlock()
	if m.ProductsFunc != nil {
		return m.ProductsFunc(ids)
	}
	return m.products, nil
}

func (m *mockCatalog) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type intentCall struct {
	Amount       int64
	Currency     string
	CustomerID   string
	ReceiptEmail string
}

type mockGateway struct {
	mu            sync.Mutex
	order         []string
	intents       []intentCall
	subscriptions [][]payments.SubscriptionItem
	cancelled     []string

	CreatePaymentIntentFunc func() (*payments.PaymentIntent, error)
	CancelSubscriptionFunc  func(id string) error
}

func (m *mockGateway) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, op)
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency, customerID, receiptEmail string) (*payments.PaymentIntent, error) {
	m.record("create_payment_intent")
	m.mu.Lock()
	m.intents = append(m.intents, intentCall{amount, currency, customerID, receiptEmail})
	m.mu.Unlock()
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc()
	}
	return &payments.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: "requires_confirmation"}, nil
}

func (m *mockGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	m.record("attach_payment_method")
	return nil
}

func (m *mockGateway) UpdateCustomerDefaultMethod(ctx context.Context, customerID, paymentMethodID string) error {
	m.record("update_customer")
	return nil
}

func (m *mockGateway) CreateSubscription(ctx context.Context, customerID string, items []payments.SubscriptionItem) (*payments.Subscription, error) {
	m.record("create_subscription")
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, items)
	m.mu.Unlock()
	return &payments.Subscription{ID: "sub_123", ClientSecret: "sub_123_secret", Status: "requires_action"}, nil
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	m.record("cancel_subscription")
	m.mu.Lock()
	m.cancelled = append(m.cancelled, subscriptionID)
	m.mu.Unlock()
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(subscriptionID)
	}
	return nil
}

func (m *mockGateway) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

type mockDelivery struct {
	mu       sync.Mutex
	requests []models.DeliveryRequest

	DispatchFunc func(req models.DeliveryRequest) error
}

func (m *mockDelivery) Dispatch(ctx context.Context, req models.DeliveryRequest) error {
	if m.DispatchFunc != nil {
		if err := m.DispatchFunc(req); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return nil
}

type mockEvents struct {
	mu           sync.Mutex
	completed    []*models.PurchaseCompletedEvent
	unrecorded   []*models.PaymentUnrecordedEvent
	cancelled    []*models.SubscriptionCancelledEvent
	historyRetry []*models.HistoryRetryEvent
	deliveries   []*models.DeliveryRetryEvent
}

func (m *mockEvents) PublishPurchaseCompleted(ctx context.Context, e *models.PurchaseCompletedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, e)
	return nil
}

func (m *mockEvents) PublishPaymentUnrecorded(ctx context.Context, e *models.PaymentUnrecordedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrecorded = append(m.unrecorded, e)
	return nil
}

func (m *mockEvents) PublishSubscriptionCancelled(ctx context.Context, e *models.SubscriptionCancelledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, e)
	return nil
}

func (m *mockEvents) PublishHistoryRetry(ctx context.Context, e *models.HistoryRetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyRetry = append(m.historyRetry, e)
	return nil
}

func (m *mockEvents) PublishDeliveryRetry(ctx context.Context, e *models.DeliveryRetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, e)
	return nil
}

type memLocker struct {
	mu    sync.Mutex
	locks map[string]string
	seq   int
}

func (l *memLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]string)
	}
	if _, held := l.locks[key]; held {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("token-%d", l.seq)
	l.locks[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == token {
		delete(l.locks, key)
	}
	return nil
}

type memIdempotency struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (m *memIdempotency) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	v, ok := m.values[key]
	if !ok {
		m.values[key] = nil
		return nil, nil
	}
	if v == nil {
		return nil, redisclient.ErrInProgress
	}
	return v, nil
}

func (m *memIdempotency) StoreIdempotentResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = response
	return nil
}

func (m *memIdempotency) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var errDatabaseDown = errors.New("connection refused")
