package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a purchased product with its server-resolved price
type LineItem struct {
	ProductID       string          `json:"product_id"`
	Format          string          `json:"format"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	ProviderPriceID string          `json:"provider_price_id,omitempty"`
}

// Subtotal returns quantity × unit price
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// LineItems is stored as a JSONB column
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *LineItems) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*l = LineItems{}
		return nil
	default:
		return fmt.Errorf("unsupported line items type %T", src)
	}
	return json.Unmarshal(data, l)
}

// Total sums every line's subtotal
func (l LineItems) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range l {
		total = total.Add(item.Subtotal())
	}
	return total
}

// BillingProfile holds the payer details used for charges and deliveries
type BillingProfile struct {
	ID                 string    `db:"id" json:"id"`
	UserID             string    `db:"user_id" json:"-"`
	Name               string    `db:"name" json:"name"`
	Surname            string    `db:"surname" json:"surname"`
	Email              string    `db:"email" json:"email"`
	Address            string    `db:"address" json:"address"`
	City               string    `db:"city" json:"city"`
	Province           string    `db:"province" json:"province"`
	ZipCode            string    `db:"zip_code" json:"zip_code"`
	ProviderCustomerID string    `db:"provider_customer_id" json:"provider_customer_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// PaymentRecord is a successful one-time payment
type PaymentRecord struct {
	ID                    string          `db:"id" json:"id"`
	UserID                string          `db:"user_id" json:"-"`
	Timestamp             time.Time       `db:"timestamp" json:"timestamp"`
	LineItems             LineItems       `db:"line_items" json:"products"`
	ProviderTransactionID string          `db:"provider_transaction_id" json:"transaction_payment_id"`
	TotalPrice            decimal.Decimal `db:"total_price" json:"price"`
	BillingProfileID      string          `db:"billing_profile_id" json:"billing_profile_id"`
}

// SubscriptionRecord is a recurring subscription; only IsActive ever changes
type SubscriptionRecord struct {
	ID                     string          `db:"id" json:"id"`
	UserID                 string          `db:"user_id" json:"-"`
	Timestamp              time.Time       `db:"timestamp" json:"timestamp"`
	LineItems              LineItems       `db:"line_items" json:"products"`
	ProviderSubscriptionID string          `db:"provider_subscription_id" json:"transaction_subscription_id"`
	TotalPrice             decimal.Decimal `db:"total_price" json:"price"`
	BillingProfileID       string          `db:"billing_profile_id" json:"billing_profile_id"`
	PaymentMethodID        string          `db:"payment_method_id" json:"payment_method_id"`
	IsActive               bool            `db:"is_active" json:"is_active"`
}

// Operation kinds recorded in history
const (
	OperationPayment      = "payment"
	OperationSubscription = "subscription"
)

// HistoryEntry is an append-only purchase log line
type HistoryEntry struct {
	ID                      string    `db:"id" json:"id"`
	UserID                  string    `db:"user_id" json:"-"`
	Timestamp               time.Time `db:"timestamp" json:"timestamp"`
	OperationKind           string    `db:"operation_kind" json:"operationType"`
	LineItems               LineItems `db:"line_items" json:"products"`
	CorrelatedTransactionID string    `db:"correlated_transaction_id" json:"correlated_transaction_id"`
}

// CatalogFormat is one purchasable format of a catalog product
type CatalogFormat struct {
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	ProviderPriceID string          `json:"provider_price_id"`
}

// CatalogProduct is the catalog service's view of a product
type CatalogProduct struct {
	ID     string          `json:"id"`
	Format []CatalogFormat `json:"format"`
}

// Page bounds a newest-first listing
type Page struct {
	Before time.Time
	Size   int
}

const (
	MinPageSize = 1
	MaxPageSize = 20
)
