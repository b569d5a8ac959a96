package service

import (
	"context"
	"errors"
	"fmt"

	"campus-market/internal/models"
	"campus-market/internal/store"
	"campus-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultNotificationLimit = 50

// NotificationService turns order and payment events into in-app notifications.
type NotificationService struct {
	store  NotificationStore
	logger *zap.Logger
}

func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{
		store:  store,
		logger: util.GetLogger(),
	}
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	err := s.store.MarkNotificationRead(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

// HandleOrderPlaced notifies the buyer and every distinct seller in the order.
func (s *NotificationService) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderPlaced")
	defer span.End()

	orderID := uuid.NullUUID{UUID: event.OrderID, Valid: true}
	notes := []models.Notification{{
		UserID:  event.UserID,
		OrderID: orderID,
		Kind:    "order_placed",
		Title:   "Order placed",
		Body:    fmt.Sprintf("Your order %s for GHS %s has been placed.", shortID(event.OrderID), event.TotalAmount.StringFixed(2)),
	}}

	seen := make(map[uuid.UUID]bool)
	for _, item := range event.Items {
		if item.SellerID == uuid.Nil || seen[item.SellerID] {
			continue
		}
		seen[item.SellerID] = true
		notes = append(notes, models.Notification{
			UserID:  item.SellerID,
			OrderID: orderID,
			Kind:    "new_sale",
			Title:   "New order",
			Body:    fmt.Sprintf("You have a new order (%s) for %s.", shortID(event.OrderID), item.Name),
		})
	}

	return s.deliverOnce(ctx, event.BaseEvent, notes)
}

// HandleOrderStatusChanged tells the buyer where their order is.
func (s *NotificationService) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderStatusChanged")
	defer span.End()

	return s.deliverOnce(ctx, event.BaseEvent, []models.Notification{{
		UserID:  event.UserID,
		OrderID: uuid.NullUUID{UUID: event.OrderID, Valid: true},
		Kind:    "order_" + string(event.Status),
		Title:   "Order update",
		Body:    fmt.Sprintf("Your order %s is now %s.", shortID(event.OrderID), event.Status),
	}})
}

// HandlePaymentEvent tells the buyer about a webhook-driven payment outcome.
func (s *NotificationService) HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandlePaymentEvent")
	defer span.End()

	n := models.Notification{
		UserID:  event.UserID,
		OrderID: uuid.NullUUID{UUID: event.OrderID, Valid: true},
	}
	switch event.EventType {
	case models.EventTypePaymentSucceeded:
		n.Kind, n.Title = "payment_succeeded", "Payment received"
		n.Body = fmt.Sprintf("We received GHS %s for order %s.", event.Amount.StringFixed(2), shortID(event.OrderID))
	case models.EventTypePaymentFailed:
		n.Kind, n.Title = "payment_failed", "Payment failed"
		n.Body = fmt.Sprintf("Payment for order %s failed: %s.", shortID(event.OrderID), event.Reason)
	case models.EventTypePaymentRefunded:
		n.Kind, n.Title = "payment_refunded", "Payment refunded"
		n.Body = fmt.Sprintf("GHS %s for order %s has been refunded.", event.Amount.StringFixed(2), shortID(event.OrderID))
	default:
		return nil
	}

	return s.deliverOnce(ctx, event.BaseEvent, []models.Notification{n})
}

// deliverOnce stores notes and the processed marker together, unless the event was
// already handled.
func (s *NotificationService) deliverOnce(ctx context.Context, event models.BaseEvent, notes []models.Notification) error {
	created, err := s.store.CreateNotificationsForEvent(ctx, "notify:"+event.EventID, event.EventType, notes)
	if err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	if !created {
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	for _, n := range notes {
		util.NotificationsCreatedTotal.WithLabelValues(n.Kind).Inc()
	}
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
