package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"sales-service/internal/models"
	"sales-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes sales events and hands failed saga steps to the retry topic
type EventPublisher struct {
	sales *Producer
	retry *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(sales, retry *Producer) *EventPublisher {
	return &EventPublisher{sales: sales, retry: retry}
}

func userKey(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func (ep *EventPublisher) PublishPurchaseCompleted(ctx context.Context, event *models.PurchaseCompletedEvent) error {
	return ep.sales.PublishEvent(ctx, userKey(event.UserID), event)
}

// PublishPaymentUnrecorded reports a charge that has no local record
func (ep *EventPublisher) PublishPaymentUnrecorded(ctx context.Context, event *models.PaymentUnrecordedEvent) error {
	return ep.sales.PublishEvent(ctx, userKey(event.UserID), event)
}

func (ep *EventPublisher) PublishSubscriptionCancelled(ctx context.Context, event *models.SubscriptionCancelledEvent) error {
	return ep.sales.PublishEvent(ctx, userKey(event.UserID), event)
}

func (ep *EventPublisher) PublishHistoryRetry(ctx context.Context, event *models.HistoryRetryEvent) error {
	return ep.retry.PublishEvent(ctx, userKey(event.UserID), event)
}

func (ep *EventPublisher) PublishDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error {
	return ep.retry.PublishEvent(ctx, fmt.Sprintf("delivery-%s", event.Delivery.HistoryID), event)
}

// EventHandler handles incoming retry events
type EventHandler struct {
	onHistoryRetry  func(context.Context, *models.HistoryRetryEvent) error
	onDeliveryRetry func(context.Context, *models.DeliveryRetryEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnHistoryRetry(handler func(context.Context, *models.HistoryRetryEvent) error) {
	eh.onHistoryRetry = handler
}

func (eh *EventHandler) OnDeliveryRetry(handler func(context.Context, *models.DeliveryRetryEvent) error) {
	eh.onDeliveryRetry = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeHistoryRetry:
		if eh.onHistoryRetry != nil {
			var event models.HistoryRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal HistoryRetry event: %w", err)
			}
			return eh.onHistoryRetry(ctx, &event)
		}

	case models.EventTypeDeliveryRetry:
		if eh.onDeliveryRetry != nil {
			var event models.DeliveryRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DeliveryRetry event: %w", err)
			}
			return eh.onDeliveryRetry(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
