package worker

import (
	"context"
	"fmt"

	"isla-market/internal/broker"
	"isla-market/internal/models"
	"isla-market/internal/notify"
	"isla-market/internal/util"

	"go.uber.org/zap"
)

// EventLog records which events a worker has already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CommissionRecorder books referral commissions for paid orders
type CommissionRecorder interface {
	RecordCommission(ctx context.Context, orderID int64) (*models.ReferralCommission, error)
}

// once runs fn unless the event was already handled under prefix, then marks it
func once(ctx context.Context, events EventLog, prefix string, event models.BaseEvent, fn func() error) error {
	id := prefix + ":" + event.EventID
	done, err := events.IsEventProcessed(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check processed event: %w", err)
	}
	if done {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "duplicate").Inc()
		return nil
	}

	if err := fn(); err != nil {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	}

	if err := events.MarkEventProcessed(ctx, id, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	util.EventsConsumedTotal.WithLabelValues(event.EventType, "ok").Inc()
	return nil
}

// NotificationWorker sends order emails
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	mailer       notify.Mailer
	events       EventLog
	adminEmail   string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. consumer may be
// nil when events arrive through a loopback instead of Kafka.
func NewNotificationWorker(
	consumer *broker.Consumer,
	mailer notify.Mailer,
	events EventLog,
	adminEmail string,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		mailer:       mailer,
		events:       events,
		adminEmail:   adminEmail,
		logger:       util.GetLogger().With(zap.String("worker", "notification")),
	}

	w.eventHandler.OnOrderCreated(w.handleOrderCreated)
	w.eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	return w
}

// Handler returns the message handler for direct delivery
func (w *NotificationWorker) Handler() broker.MessageHandler {
	return w.eventHandler.HandleMessage
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) send(ctx context.Context, template string, email notify.Email) error {
	if err := w.mailer.Send(ctx, email); err != nil {
		util.EmailsSentTotal.WithLabelValues(template, "error").Inc()
		return fmt.Errorf("failed to send %s email: %w", template, err)
	}
	util.EmailsSentTotal.WithLabelValues(template, "sent").Inc()
	return nil
}

func (w *NotificationWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return once(ctx, w.events, "notification", event.BaseEvent, func() error {
		if event.CustomerEmail == "" {
			w.logger.Warn("Order has no customer email, skipping confirmation", zap.Int64("order_id", event.OrderID))
			return nil
		}
		email, err := notify.OrderConfirmation(event)
		if err != nil {
			return err
		}
		if err := w.send(ctx, notify.TemplateOrderConfirmation, email); err != nil {
			return err
		}
		w.logger.Info("Order confirmation sent", zap.Int64("order_id", event.OrderID))
		return nil
	})
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return once(ctx, w.events, "notification", event.BaseEvent, func() error {
		if w.adminEmail == "" {
			return nil
		}
		email, err := notify.OrderCancelled(event, w.adminEmail)
		if err != nil {
			return err
		}
		if err := w.send(ctx, notify.TemplateOrderCancelled, email); err != nil {
			return err
		}
		w.logger.Info("Cancellation notice sent", zap.Int64("order_id", event.OrderID))
		return nil
	})
}

// CommissionWorker records referral commissions when orders are paid
type CommissionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	recorder     CommissionRecorder
	events       EventLog
	logger       *zap.Logger
}

// NewCommissionWorker creates a new commission worker
func NewCommissionWorker(consumer *broker.Consumer, recorder CommissionRecorder, events EventLog) *CommissionWorker {
	w := &CommissionWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		recorder:     recorder,
		events:       events,
		logger:       util.GetLogger().With(zap.String("worker", "commission")),
	}

	w.eventHandler.OnOrderPaid(w.handleOrderPaid)
	return w
}

// Handler returns the message handler for direct delivery
func (w *CommissionWorker) Handler() broker.MessageHandler {
	return w.eventHandler.HandleMessage
}

// Start starts the worker
func (w *CommissionWorker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Starting commission worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CommissionWorker) Stop() error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Stopping commission worker")
	return w.consumer.Close()
}

func (w *CommissionWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return once(ctx, w.events, "commission", event.BaseEvent, func() error {
		commission, err := w.recorder.RecordCommission(ctx, event.OrderID)
		if err != nil {
			return err
		}
		if commission == nil {
			w.logger.Debug("No commission for order", zap.Int64("order_id", event.OrderID))
		}
		return nil
	})
}
