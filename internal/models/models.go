package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// The mobile client reads money fields as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

// Order statuses. PaymentFailed and Refunded are only reached through payment webhooks.
const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusProcessing    OrderStatus = "processing"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	OrderStatusRefunded      OrderStatus = "refunded"
)

// IsAdminSettable reports whether the status belongs to the primary fulfilment enum.
func (s OrderStatus) IsAdminSettable() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the state of Order.PaymentInfo.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentMethod values accepted at checkout.
type PaymentMethod string

const (
	PaymentMethodGateway       PaymentMethod = "gateway"
	PaymentMethodPayOnDelivery PaymentMethod = "pay_on_delivery"
	PaymentMethodOnline        PaymentMethod = "online"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodGateway, PaymentMethodPayOnDelivery, PaymentMethodOnline:
		return true
	}
	return false
}

// TransactionStatus is the state of a gateway-side Transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// CanTransition reports whether a webhook may move a transaction from s to next.
// Re-applying the current status is always allowed so redelivered events stay harmless.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted || next == TransactionStatusFailed
	case TransactionStatusFailed:
		return next == TransactionStatusCompleted
	case TransactionStatusCompleted:
		return next == TransactionStatusRefunded
	}
	return false
}

// CampusZones is the fixed set of delivery locations. Matching is exact.
var CampusZones = []string{
	"Africa Hall",
	"Ayeduase",
	"Bomso",
	"Brunei",
	"Commercial Area",
	"Hall 7",
	"Independence Hall",
	"Katanga",
	"Kotei",
	"Queens Hall",
	"Republic Hall",
	"Unity Hall",
}

func IsCampusZone(location string) bool {
	for _, z := range CampusZones {
		if z == location {
			return true
		}
	}
	return false
}

// Product is a catalog listing.
type Product struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	SellerID  uuid.UUID       `db:"seller_id" json:"sellerId"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	IsService bool            `db:"is_service" json:"isService"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// User is the subset of the user directory this service reads.
type User struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Email string    `db:"email" json:"email"`
	Phone string    `db:"phone" json:"phone"`
	Role  string    `db:"role" json:"role"`
}

// LineItem is one product/quantity/price entry of an order.
// ProductID is uuid.Nil when the client reference could not be resolved.
type LineItem struct {
	ProductID   uuid.UUID       `json:"productId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
	Name        string          `json:"name"`
	Image       string          `json:"image,omitempty"`
	SellerID    uuid.UUID       `json:"sellerId"`
	SellerPhone string          `json:"sellerPhone,omitempty"`
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type ShippingAddress struct {
	Location       string `json:"location"`
	RoomNumber     string `json:"roomNumber,omitempty"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

type BuyerContact struct {
	Phone            string `json:"phone"`
	AlternativePhone string `json:"alternativePhone,omitempty"`
}

type PaymentInfo struct {
	Reference     string          `json:"reference"`
	TransactionID string          `json:"transactionId,omitempty"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        PaymentMethod   `json:"method"`
	PaidAt        *time.Time      `json:"paidAt"`
}

// Order is a placed order. Items, TotalAmount and PaymentInfo.Reference never change after creation.
type Order struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user"`
	Items                []LineItem      `json:"items"`
	ShippingAddress      ShippingAddress `json:"shippingAddress"`
	BuyerContact         BuyerContact    `json:"buyerContact"`
	PreferredDeliveryDay time.Time       `json:"preferredDeliveryDay"`
	PaymentInfo          PaymentInfo     `json:"paymentInfo"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	OrderStatus          OrderStatus     `json:"orderStatus"`
	DeliveredAt          *time.Time      `json:"deliveredAt"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// CheckoutInput is the normalized order-creation request.
type CheckoutInput struct {
	UserID               uuid.UUID
	Items                []LineItem
	TotalAmount          decimal.Decimal
	PaymentMethod        PaymentMethod
	ShippingAddress      ShippingAddress
	BuyerContact         BuyerContact
	PreferredDeliveryDay time.Time
	PaymentReference     string
}

// Transaction is the payment-side ledger entry for an order.
type Transaction struct {
	ID                       uuid.UUID         `db:"id" json:"id"`
	OrderID                  uuid.UUID         `db:"order_id" json:"orderId"`
	UserID                   uuid.UUID         `db:"user_id" json:"userId"`
	Amount                   decimal.Decimal   `db:"amount" json:"amount"`
	PaymentMethod            PaymentMethod     `db:"payment_method" json:"paymentMethod"`
	Status                   TransactionStatus `db:"status" json:"status"`
	PaymentReference         string            `db:"payment_reference" json:"paymentReference"`
	PaymentProviderReference string            `db:"payment_provider_reference" json:"paymentProviderReference"`
	PaymentProviderResponse  json.RawMessage   `db:"payment_provider_response" json:"-"`
	FailureReason            string            `db:"failure_reason" json:"failureReason,omitempty"`
	CompletedAt              *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
	RefundedAt               *time.Time        `db:"refunded_at" json:"refundedAt,omitempty"`
	CreatedAt                time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt                time.Time         `db:"updated_at" json:"updatedAt"`
}

// OrderPaymentUpdate carries the order-side half of a webhook transition.
// Nil pointers leave the column untouched. OrderStatus is only applied when the
// current status is one of OnlyFromStatuses (any status when empty).
type OrderPaymentUpdate struct {
	OrderID          uuid.UUID
	PaymentStatus    *PaymentStatus
	TransactionID    *string
	PaidAt           *time.Time
	OrderStatus      *OrderStatus
	OnlyFromStatuses []OrderStatus
}

// PaymentUpdate is applied atomically: the transaction row and, when Order is set, the order row.
// When ExpectedStatus is set the transaction row is only written if it still has that status.
type PaymentUpdate struct {
	Transaction    *Transaction
	ExpectedStatus TransactionStatus
	Order          *OrderPaymentUpdate
}

// Notification is an in-app message for a buyer or seller.
type Notification struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	UserID    uuid.UUID     `db:"user_id" json:"userId"`
	OrderID   uuid.NullUUID `db:"order_id" json:"orderId"`
	Kind      string        `db:"kind" json:"kind"`
	Title     string        `db:"title" json:"title"`
	Body      string        `db:"body" json:"body"`
	Read      bool          `db:"read" json:"read"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}
