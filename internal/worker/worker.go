package worker

import (
	"context"
	"fmt"
	"time"

	"sales-service/internal/broker"
	"sales-service/internal/models"
	"sales-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HistoryWriter appends history entries
type HistoryWriter interface {
	CreateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error
}

// DeliveryDispatcher hands purchases to the delivery service
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, req models.DeliveryRequest) error
}

// RetryPublisher puts a failed replay back on the retry topic
type RetryPublisher interface {
	PublishHistoryRetry(ctx context.Context, event *models.HistoryRetryEvent) error
	PublishDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error
}

// MessageSource feeds messages to a handler until ctx is done
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Config tunes the retry worker
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryWorker replays saga steps that failed after a charge: history appends
// and delivery dispatches. A failed replay is republished with a higher
// attempt number until MaxAttempts is reached.
type RetryWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	history      HistoryWriter
	delivery     DeliveryDispatcher
	publisher    RetryPublisher
	cfg          Config
	logger       *zap.Logger
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(
	source MessageSource,
	history HistoryWriter,
	delivery DeliveryDispatcher,
	publisher RetryPublisher,
	cfg Config,
) *RetryWorker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	w := &RetryWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		history:      history,
		delivery:     delivery,
		publisher:    publisher,
		cfg:          cfg,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnHistoryRetry(w.HandleHistoryRetry)
	w.eventHandler.OnDeliveryRetry(w.HandleDeliveryRetry)
	return w
}

// Start starts the worker
func (w *RetryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting retry worker", zap.Int("max_attempts", w.cfg.MaxAttempts))
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *RetryWorker) Stop() error {
	w.logger.Info("Stopping retry worker")
	return w.source.Close()
}

// HandleMessage routes a raw retry-topic message
func (w *RetryWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// HandleHistoryRetry writes the deferred history entry. Entries are keyed by
// id, so a replay that already landed is a no-op.
func (w *RetryWorker) HandleHistoryRetry(ctx context.Context, event *models.HistoryRetryEvent) error {
	if err := w.wait(ctx, event.BaseEvent, event.Attempt); err != nil {
		return err
	}

	entry := event.Entry
	entry.UserID = event.UserID

	err := w.withRetry(ctx, func() error {
		return w.history.CreateHistoryEntry(ctx, &entry)
	})
	if err == nil {
		util.RetryEventsProcessedTotal.WithLabelValues("history", "ok").Inc()
		w.logger.Info("Deferred history entry written",
			zap.String("history_id", entry.ID),
			zap.Int("attempt", event.Attempt))
		return nil
	}

	if event.Attempt >= w.cfg.MaxAttempts {
		w.giveUp("history", event.Attempt, err,
			zap.String("history_id", entry.ID),
			zap.String("user_id", event.UserID),
			zap.String("correlated_transaction_id", entry.CorrelatedTransactionID))
		return nil
	}

	next := &models.HistoryRetryEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeHistoryRetry),
		Attempt:   event.Attempt + 1,
		UserID:    event.UserID,
		Entry:     event.Entry,
	}
	if err := w.publisher.PublishHistoryRetry(ctx, next); err != nil {
		return fmt.Errorf("failed to reschedule history entry %s: %w", entry.ID, err)
	}
	util.RetryEventsProcessedTotal.WithLabelValues("history", "rescheduled").Inc()
	return nil
}

// HandleDeliveryRetry dispatches the deferred delivery
func (w *RetryWorker) HandleDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error {
	if err := w.wait(ctx, event.BaseEvent, event.Attempt); err != nil {
		return err
	}

	err := w.withRetry(ctx, func() error {
		return w.delivery.Dispatch(ctx, event.Delivery)
	})
	if err == nil {
		util.RetryEventsProcessedTotal.WithLabelValues("delivery", "ok").Inc()
		w.logger.Info("Deferred delivery dispatched",
			zap.String("history_id", event.Delivery.HistoryID),
			zap.Int("attempt", event.Attempt))
		return nil
	}

	if event.Attempt >= w.cfg.MaxAttempts {
		w.giveUp("delivery", event.Attempt, err, zap.String("history_id", event.Delivery.HistoryID))
		return nil
	}

	next := &models.DeliveryRetryEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeDeliveryRetry),
		Attempt:   event.Attempt + 1,
		Delivery:  event.Delivery,
	}
	if err := w.publisher.PublishDeliveryRetry(ctx, next); err != nil {
		return fmt.Errorf("failed to reschedule delivery %s: %w", event.Delivery.HistoryID, err)
	}
	util.RetryEventsProcessedTotal.WithLabelValues("delivery", "rescheduled").Inc()
	return nil
}

func (w *RetryWorker) giveUp(step string, attempt int, err error, fields ...zap.Field) {
	util.RetryEventsProcessedTotal.WithLabelValues(step, "exhausted").Inc()
	fields = append(fields,
		zap.String("step", step),
		zap.Int("attempt", attempt),
		zap.Error(err))
	w.logger.Error("Giving up on deferred saga step", fields...)
}

// wait holds an event back until BaseDelay*2^(attempt-1) after it was published
func (w *RetryWorker) wait(ctx context.Context, base models.BaseEvent, attempt int) error {
	if w.cfg.BaseDelay <= 0 || attempt < 1 {
		return nil
	}
	delay := w.cfg.BaseDelay << uint(attempt-1)
	remaining := time.Until(base.Timestamp.Add(delay))
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry gives a replay a couple of quick in-process attempts
func (w *RetryWorker) withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, 2), ctx))
}
