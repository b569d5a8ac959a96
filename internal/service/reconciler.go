package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/paystack"
	"campus-market/internal/store"
	"campus-market/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookAttempts = 3

// Authorization is the outcome of confirming funds for a checkout.
type Authorization struct {
	Reference     string
	Status        models.PaymentStatus
	TransactionID string
	PaidAt        *time.Time
	Verified      *paystack.VerifyResult
}

// PaymentInitialization is returned to the client to continue on the hosted checkout page.
type PaymentInitialization struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}

// PaymentReconciler confirms funds before an order is committed and applies gateway webhooks afterwards.
type PaymentReconciler struct {
	gateway      PaymentGateway
	orders       OrderStore
	transactions TransactionStore
	users        UserDirectory
	publisher    EventPublisher
	currency     string
	callbackURL  string
	logger       *zap.Logger
	now          func() time.Time
}

func NewPaymentReconciler(
	gateway PaymentGateway,
	orders OrderStore,
	transactions TransactionStore,
	users UserDirectory,
	publisher EventPublisher,
	currency string,
	callbackURL string,
) *PaymentReconciler {
	return &PaymentReconciler{
		gateway:      gateway,
		orders:       orders,
		transactions: transactions,
		users:        users,
		publisher:    publisher,
		currency:     currency,
		callbackURL:  callbackURL,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// NewPODReference mints a reference for pay-on-delivery orders.
func NewPODReference(now time.Time) string {
	return fmt.Sprintf("POD-%d-%06d", now.UnixMilli(), rand.Intn(1000000))
}

// Authorize confirms funds for a checkout. Pay-on-delivery is trusted and stays pending;
// every other method must be verified with the gateway for at least total.
func (r *PaymentReconciler) Authorize(ctx context.Context, in *models.CheckoutInput, total decimal.Decimal) (*Authorization, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.Authorize")
	defer span.End()

	if in.PaymentMethod == models.PaymentMethodPayOnDelivery {
		reference := in.PaymentReference
		if reference == "" {
			reference = NewPODReference(r.now())
		}
		return &Authorization{Reference: reference, Status: models.PaymentStatusPending}, nil
	}

	start := time.Now()
	result, err := r.gateway.VerifyTransaction(ctx, in.PaymentReference)
	util.PaymentVerificationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues(verificationOutcome(err)).Inc()
		r.logger.Warn("Payment verification failed",
			zap.String("reference", in.PaymentReference),
			zap.Error(err))
		return nil, &VerificationError{Err: err}
	}

	paid := FromMinorUnits(*result.Transaction.Amount)
	if *result.Transaction.Amount < ToMinorUnits(total) {
		util.PaymentVerificationsTotal.WithLabelValues("underpaid").Inc()
		r.logger.Warn("Verified amount below order total",
			zap.String("reference", in.PaymentReference),
			zap.String("paid", paid.String()),
			zap.String("total", total.String()))
		return nil, &VerificationError{
			Err: fmt.Errorf("amount paid %s is less than order total %s", paid.StringFixed(2), total.StringFixed(2)),
		}
	}
	if c := result.Transaction.Currency; c != "" && r.currency != "" && c != r.currency {
		util.PaymentVerificationsTotal.WithLabelValues("currency_mismatch").Inc()
		return nil, &VerificationError{Err: fmt.Errorf("currency %s does not match %s", c, r.currency)}
	}

	util.PaymentVerificationsTotal.WithLabelValues("success").Inc()

	paidAt := r.now()
	if result.Transaction.PaidAt != nil {
		paidAt = *result.Transaction.PaidAt
	}
	return &Authorization{
		Reference:     in.PaymentReference,
		Status:        models.PaymentStatusSuccess,
		TransactionID: result.Transaction.ID.String(),
		PaidAt:        &paidAt,
		Verified:      result,
	}, nil
}

func verificationOutcome(err error) string {
	switch {
	case errors.Is(err, paystack.ErrTimeout):
		return "timeout"
	case errors.Is(err, paystack.ErrTransport):
		return "transport"
	case errors.Is(err, paystack.ErrMalformed):
		return "malformed"
	}
	return "rejected"
}

// RecordVerifiedTransaction stores a completed ledger entry for an order paid before checkout,
// so later refund webhooks can find it.
func (r *PaymentReconciler) RecordVerifiedTransaction(ctx context.Context, order *models.Order, auth *Authorization) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.RecordVerifiedTransaction")
	defer span.End()

	txn := &models.Transaction{
		OrderID:                  order.ID,
		UserID:                   order.UserID,
		Amount:                   order.TotalAmount,
		PaymentMethod:            order.PaymentInfo.Method,
		Status:                   models.TransactionStatusCompleted,
		PaymentReference:         newInternalReference(),
		PaymentProviderReference: auth.Reference,
		CompletedAt:              auth.PaidAt,
	}
	if auth.Verified != nil {
		txn.PaymentProviderResponse = auth.Verified.Raw
	}

	if err := r.transactions.CreateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func newInternalReference() string {
	return "TXN-" + uuid.NewString()
}

// InitializePayment starts a hosted gateway checkout for an unpaid order owned by userID.
func (r *PaymentReconciler) InitializePayment(ctx context.Context, orderID, userID uuid.UUID) (*PaymentInitialization, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.InitializePayment")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	if order.PaymentInfo.Status == models.PaymentStatusSuccess {
		return nil, ErrOrderAlreadyPaid
	}

	user, err := r.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	txn := &models.Transaction{
		OrderID:          order.ID,
		UserID:           order.UserID,
		Amount:           order.TotalAmount,
		PaymentMethod:    models.PaymentMethodGateway,
		Status:           models.TransactionStatusPending,
		PaymentReference: newInternalReference(),
	}
	if err := r.transactions.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	result, err := r.gateway.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       user.Email,
		Amount:      ToMinorUnits(order.TotalAmount),
		Reference:   txn.PaymentReference,
		Currency:    r.currency,
		CallbackURL: r.callbackURL,
		Metadata: map[string]string{
			"order_id":       order.ID.String(),
			"transaction_id": txn.ID.String(),
		},
	})
	if err != nil {
		txn.Status = models.TransactionStatusFailed
		txn.FailureReason = err.Error()
		if uerr := r.transactions.ApplyPaymentUpdate(ctx, &models.PaymentUpdate{Transaction: txn}); uerr != nil {
			r.logger.Error("Failed to mark transaction failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(uerr))
		}
		return nil, fmt.Errorf("payment initialization failed: %w", err)
	}

	txn.PaymentProviderReference = result.Reference
	if err := r.transactions.ApplyPaymentUpdate(ctx, &models.PaymentUpdate{Transaction: txn}); err != nil {
		return nil, fmt.Errorf("failed to store provider reference: %w", err)
	}

	r.logger.Info("Payment initialized",
		zap.String("order_id", order.ID.String()),
		zap.String("reference", result.Reference))

	return &PaymentInitialization{
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Reference:        result.Reference,
	}, nil
}

// HandleWebhook authenticates and applies one gateway event. Redelivered events and events
// that would move a transaction backwards are acknowledged without being applied.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleWebhook")
	defer span.End()

	if !r.gateway.VerifySignature(body, signature) {
		util.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		r.logger.Warn("Webhook signature mismatch")
		return ErrInvalidSignature
	}

	event, err := paystack.ParseWebhookEvent(body)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}

	for attempt := 1; ; attempt++ {
		err := r.applyWebhookEvent(ctx, event, body)
		if !errors.Is(err, store.ErrStaleUpdate) || attempt == maxWebhookAttempts {
			return err
		}
		util.WebhookEventsTotal.WithLabelValues(event.Event, "conflict").Inc()
		r.logger.Info("Transaction changed concurrently, re-evaluating webhook",
			zap.String("event", event.Event),
			zap.Int("attempt", attempt))
	}
}

// applyWebhookEvent evaluates one event against the current transaction row. The write is
// conditional on the status that was read, so a concurrent event makes it return
// store.ErrStaleUpdate instead of overwriting a newer state.
func (r *PaymentReconciler) applyWebhookEvent(ctx context.Context, event *paystack.WebhookEvent, body []byte) error {
	reference := event.ProviderReference()
	txn, err := r.transactions.GetTransactionByProviderReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		util.WebhookEventsTotal.WithLabelValues(event.Event, "unknown_reference").Inc()
		r.logger.Warn("Webhook for unknown reference",
			zap.String("event", event.Event),
			zap.String("reference", reference))
		return ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	eventKey := event.Event + ":" + reference
	processed, err := r.transactions.IsEventProcessed(ctx, eventKey)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues(event.Event, "duplicate").Inc()
		r.logger.Info("Webhook already processed", zap.String("event_key", eventKey))
		return nil
	}

	update, paymentEvent := r.buildPaymentUpdate(event, txn, body)
	if update == nil {
		util.WebhookEventsTotal.WithLabelValues(event.Event, "ignored").Inc()
		r.logger.Info("Ignoring webhook event", zap.String("event", event.Event))
		return nil
	}

	if !txn.Status.CanTransition(update.Transaction.Status) {
		util.WebhookEventsTotal.WithLabelValues(event.Event, "stale").Inc()
		r.logger.Warn("Ignoring stale webhook event",
			zap.String("event", event.Event),
			zap.String("reference", reference),
			zap.String("current_status", string(txn.Status)))
		r.markProcessed(ctx, eventKey, event.Event)
		return nil
	}

	update.ExpectedStatus = txn.Status
	if err := r.transactions.ApplyPaymentUpdate(ctx, update); err != nil {
		if errors.Is(err, store.ErrStaleUpdate) {
			return err
		}
		util.WebhookEventsTotal.WithLabelValues(event.Event, "error").Inc()
		return fmt.Errorf("failed to apply payment update: %w", err)
	}
	r.markProcessed(ctx, eventKey, event.Event)

	util.WebhookEventsTotal.WithLabelValues(event.Event, "applied").Inc()
	r.logger.Info("Webhook applied",
		zap.String("event", event.Event),
		zap.String("reference", reference),
		zap.String("order_id", txn.OrderID.String()))

	if err := r.publisher.PublishPaymentEvent(ctx, paymentEvent); err != nil {
		r.logger.Error("Failed to publish payment event", zap.Error(err))
	}
	return nil
}

func (r *PaymentReconciler) markProcessed(ctx context.Context, key, eventType string) {
	if err := r.transactions.MarkEventProcessed(ctx, key, eventType); err != nil {
		r.logger.Error("Failed to mark webhook processed",
			zap.String("event_key", key),
			zap.Error(err))
	}
}

// buildPaymentUpdate maps a gateway event onto the transaction and its order.
// It returns nil for events the service does not act on.
func (r *PaymentReconciler) buildPaymentUpdate(event *paystack.WebhookEvent, current *models.Transaction, raw []byte) (*models.PaymentUpdate, *models.PaymentEvent) {
	now := r.now()
	txn := *current
	txn.PaymentProviderResponse = raw

	orderUpdate := &models.OrderPaymentUpdate{OrderID: txn.OrderID}
	paymentEvent := &models.PaymentEvent{
		OrderID:   txn.OrderID,
		UserID:    txn.UserID,
		Reference: event.ProviderReference(),
		Amount:    txn.Amount,
	}

	switch event.Event {
	case paystack.EventChargeSuccess:
		paidAt := now
		if event.Data.PaidAt != nil {
			paidAt = *event.Data.PaidAt
		}
		if txn.CompletedAt == nil {
			txn.CompletedAt = &paidAt
		}
		txn.Status = models.TransactionStatusCompleted

		status := models.PaymentStatusSuccess
		next := models.OrderStatusProcessing
		orderUpdate.PaymentStatus = &status
		orderUpdate.PaidAt = txn.CompletedAt
		orderUpdate.OrderStatus = &next
		orderUpdate.OnlyFromStatuses = []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPaymentFailed}
		if id := event.Data.ID.String(); id != "" {
			orderUpdate.TransactionID = &id
		}
		paymentEvent.BaseEvent = models.NewBaseEvent(models.EventTypePaymentSucceeded)

	case paystack.EventChargeFailed:
		txn.Status = models.TransactionStatusFailed
		txn.FailureReason = event.FailureReason()

		status := models.PaymentStatusFailed
		next := models.OrderStatusPaymentFailed
		orderUpdate.PaymentStatus = &status
		orderUpdate.OrderStatus = &next
		orderUpdate.OnlyFromStatuses = []models.OrderStatus{models.OrderStatusPending}
		paymentEvent.BaseEvent = models.NewBaseEvent(models.EventTypePaymentFailed)
		paymentEvent.Reason = txn.FailureReason

	case paystack.EventRefundProcessed:
		if txn.RefundedAt == nil {
			txn.RefundedAt = &now
		}
		txn.Status = models.TransactionStatusRefunded

		next := models.OrderStatusRefunded
		orderUpdate.OrderStatus = &next
		paymentEvent.BaseEvent = models.NewBaseEvent(models.EventTypePaymentRefunded)

	default:
		return nil, nil
	}

	return &models.PaymentUpdate{Transaction: &txn, Order: orderUpdate}, paymentEvent
}
