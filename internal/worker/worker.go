package worker

import (
	"context"

	"campus-market/internal/broker"
	"campus-market/internal/service"
	"campus-market/internal/util"
)

// NotificationWorker turns order and payment events into user notifications
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	notifications *service.NotificationService,
) *NotificationWorker {
	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: NewEventHandler(notifications),
	}
}

// NewEventHandler registers the notification handlers for every event the
// order service publishes.
func NewEventHandler(notifications *service.NotificationService) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPlaced(notifications.HandleOrderPlaced)
	eventHandler.OnOrderStatusChanged(notifications.HandleOrderStatusChanged)
	eventHandler.OnPayment(notifications.HandlePaymentEvent)

	return eventHandler
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	util.GetLogger().Info("Stopping notification worker")
	return w.consumer.Close()
}
