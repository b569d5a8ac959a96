package service

import (
	"context"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/paystack"

	"github.com/google/uuid"
)

// OrderStore persists orders. *store.Store implements it.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, deliveredAt *time.Time) error
}

// EventLog records which events have already been applied.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

type TransactionStore interface {
	EventLog
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransactionByProviderReference(ctx context.Context, reference string) (*models.Transaction, error)
	ApplyPaymentUpdate(ctx context.Context, update *models.PaymentUpdate) error
}

type CatalogStore interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
}

type UserDirectory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type CartStore interface {
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

type NotificationStore interface {
	CreateNotificationsForEvent(ctx context.Context, eventID, eventType string, notes []models.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
}

// StockCache is the Redis stock mirror. *redisclient.Client implements it.
type StockCache interface {
	DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
	ReleaseStock(ctx context.Context, productID uuid.UUID, quantity int) error
	SeedStock(ctx context.Context, productID uuid.UUID, stock int) (bool, error)
	SetStock(ctx context.Context, productID uuid.UUID, stock int) error
}

type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// PaymentGateway is the Paystack API. *paystack.Client implements it.
type PaymentGateway interface {
	VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifyResult, error)
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	VerifySignature(body []byte, signature string) bool
}

// EventPublisher is implemented by *broker.EventPublisher.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}
