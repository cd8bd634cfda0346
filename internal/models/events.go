package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentCompleted      = "PAYMENT_COMPLETED"
	EventTypePaymentUnrecorded     = "PAYMENT_UNRECORDED"
	EventTypeSubscriptionCreated   = "SUBSCRIPTION_CREATED"
	EventTypeSubscriptionCancelled = "SUBSCRIPTION_CANCELLED"
	EventTypeHistoryRetry          = "HISTORY_RETRY"
	EventTypeDeliveryRetry         = "DELIVERY_RETRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PurchaseCompletedEvent published once a payment or subscription is recorded
type PurchaseCompletedEvent struct {
	BaseEvent
	RecordID      string          `json:"record_id"`
	UserID        string          `json:"user_id"`
	OperationKind string          `json:"operation_kind"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	TxID          string          `json:"tx_id"`
}

// PaymentUnrecordedEvent flags a provider charge with no local record, for reconciliation
type PaymentUnrecordedEvent struct {
	BaseEvent
	UserID        string          `json:"user_id"`
	OperationKind string          `json:"operation_kind"`
	TxID          string          `json:"tx_id"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	LineItems     LineItems       `json:"line_items"`
	Reason        string          `json:"reason"`
}

// SubscriptionCancelledEvent published when subscriptions are deactivated
type SubscriptionCancelledEvent struct {
	BaseEvent
	UserID          string   `json:"user_id"`
	SubscriptionIDs []string `json:"subscription_ids"`
	ProviderFailed  []string `json:"provider_failed,omitempty"`
}

// HistoryRetryEvent hands a history append to the history worker. UserID is
// carried separately because entries never serialise their owner.
type HistoryRetryEvent struct {
	BaseEvent
	Attempt int          `json:"attempt"`
	UserID  string       `json:"user_id"`
	Entry   HistoryEntry `json:"entry"`
}

// DeliveryRetryEvent hands a delivery dispatch to the delivery worker
type DeliveryRetryEvent struct {
	BaseEvent
	Attempt  int             `json:"attempt"`
	Delivery DeliveryRequest `json:"delivery"`
}

// DeliveryRequest is the payload sent to the delivery service
type DeliveryRequest struct {
	HistoryID string         `json:"historyID"`
	Profile   BillingProfile `json:"profile"`
	LineItems LineItems      `json:"lineItems"`
}
