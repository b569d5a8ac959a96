package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/store"
	"campus-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	orders     OrderStore
	users      UserDirectory
	carts      CartStore
	locker     Locker
	validator  *OrderValidator
	reconciler *PaymentReconciler
	ledger     *StockLedger
	publisher  EventPublisher
	currency   string
	lockTTL    time.Duration
	logger     *zap.Logger
}

type OrderServiceConfig struct {
	Currency string
	LockTTL  time.Duration
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	users UserDirectory,
	carts CartStore,
	locker Locker,
	validator *OrderValidator,
	reconciler *PaymentReconciler,
	ledger *StockLedger,
	publisher EventPublisher,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &OrderService{
		orders:     orders,
		users:      users,
		carts:      carts,
		locker:     locker,
		validator:  validator,
		reconciler: reconciler,
		ledger:     ledger,
		publisher:  publisher,
		currency:   cfg.Currency,
		lockTTL:    cfg.LockTTL,
		logger:     util.GetLogger(),
	}
}

// CreateOrderResult is the placed order. Created is false when an earlier submission
// with the same payment reference is returned instead.
type CreateOrderResult struct {
	Order   *models.Order
	Created bool
}

// CreateOrder validates the checkout, confirms payment, persists the order and then
// decrements stock, clears the cart and announces the order.
func (s *OrderService) CreateOrder(ctx context.Context, in *models.CheckoutInput) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	breakdown, err := s.validator.Validate(ctx, in)
	if err != nil {
		return nil, err
	}

	if in.PaymentReference != "" {
		unlock, err := s.lockReference(ctx, in.PaymentReference)
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := s.findExisting(ctx, in)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	auth, err := s.reconciler.Authorize(ctx, in, breakdown.Total)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("verification_failed").Inc()
		return nil, err
	}

	order := s.buildOrder(ctx, in, breakdown, auth)

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, ferr := s.findExisting(ctx, in)
			if ferr != nil || existing != nil {
				return existing, ferr
			}
		}
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentInfo.Method)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("reference", order.PaymentInfo.Reference),
		zap.String("total", order.TotalAmount.String()))

	if auth.Verified != nil {
		if err := s.reconciler.RecordVerifiedTransaction(ctx, order, auth); err != nil {
			s.logger.Error("Failed to record verified transaction",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
		}
	}

	s.ledger.Apply(ctx, order)

	if err := s.carts.ClearCart(ctx, order.UserID); err != nil {
		s.logger.Error("Failed to clear cart",
			zap.String("user_id", order.UserID.String()),
			zap.Error(err))
	}

	s.publishOrderPlaced(ctx, order)

	return &CreateOrderResult{Order: order, Created: true}, nil
}

// lockReference serializes submissions that share a payment reference. When Redis is
// unavailable the unique index on the reference remains the guard.
func (s *OrderService) lockReference(ctx context.Context, reference string) (func(), error) {
	key := "order:" + reference
	token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Order lock unavailable", zap.String("reference", reference), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrOrderInProgress
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release order lock", zap.String("reference", reference), zap.Error(err))
		}
	}, nil
}

// findExisting returns the caller's earlier order for the same reference, or
// ErrReferenceInUse when another user owns it.
func (s *OrderService) findExisting(ctx context.Context, in *models.CheckoutInput) (*CreateOrderResult, error) {
	existing, err := s.orders.GetOrderByReference(ctx, in.PaymentReference)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment reference: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != in.UserID {
		util.OrdersRejectedTotal.WithLabelValues("reference_in_use").Inc()
		return nil, ErrReferenceInUse
	}

	s.logger.Info("Duplicate order submission",
		zap.String("reference", in.PaymentReference),
		zap.String("order_id", existing.ID.String()))
	return &CreateOrderResult{Order: existing, Created: false}, nil
}

func (s *OrderService) buildOrder(ctx context.Context, in *models.CheckoutInput, breakdown Breakdown, auth *Authorization) *models.Order {
	items := make([]models.LineItem, len(in.Items))
	copy(items, in.Items)

	phones := make(map[uuid.UUID]string)
	for i := range items {
		if items[i].SellerID == uuid.Nil || items[i].SellerPhone != "" {
			continue
		}
		phone, seen := phones[items[i].SellerID]
		if !seen {
			seller, err := s.users.GetUserByID(ctx, items[i].SellerID)
			if err != nil {
				s.logger.Warn("Seller lookup failed",
					zap.String("seller_id", items[i].SellerID.String()),
					zap.Error(err))
			} else {
				phone = seller.Phone
			}
			phones[items[i].SellerID] = phone
		}
		items[i].SellerPhone = phone
	}

	status := models.OrderStatusPending
	if auth.Status == models.PaymentStatusSuccess {
		status = models.OrderStatusProcessing
	}

	return &models.Order{
		ID:                   uuid.New(),
		UserID:               in.UserID,
		Items:                items,
		ShippingAddress:      in.ShippingAddress,
		BuyerContact:         in.BuyerContact,
		PreferredDeliveryDay: in.PreferredDeliveryDay,
		PaymentInfo: models.PaymentInfo{
			Reference:     auth.Reference,
			TransactionID: auth.TransactionID,
			Status:        auth.Status,
			Amount:        breakdown.Total,
			Currency:      s.currency,
			Method:        in.PaymentMethod,
			PaidAt:        auth.PaidAt,
		},
		TotalAmount: breakdown.Total,
		OrderStatus: status,
	}
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Quantity:  item.Quantity,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentInfo.Method,
		Reference:     order.PaymentInfo.Reference,
		Items:         items,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// GetOrder retrieves an order visible to the requester
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID uuid.UUID, isAdmin bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && order.UserID != requesterID {
		return nil, ErrForbidden
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.orders.ListOrdersByUser(ctx, userID)
}

// UpdateStatus moves an order to one of the primary fulfilment statuses.
// Moving to delivered stamps deliveredAt.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !status.IsAdminSettable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var deliveredAt *time.Time
	if status == models.OrderStatusDelivered {
		now := time.Now()
		deliveredAt = &now
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, status, deliveredAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    status,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return order, nil
}
