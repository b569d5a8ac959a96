package api

import (
	"fmt"
	"strings"
	"time"

	"campus-market/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutItem is one cart line as the mobile client sends it. Older clients send the
// product reference as _id.
type CheckoutItem struct {
	ProductID string          `json:"productId"`
	LegacyID  string          `json:"_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	SellerID  string          `json:"sellerId"`
}

// CheckoutRequest is the body of POST /api/v1/orders.
type CheckoutRequest struct {
	Items                []CheckoutItem         `json:"items"`
	TotalAmount          decimal.Decimal        `json:"totalAmount"`
	PaymentMethod        models.PaymentMethod   `json:"paymentMethod"`
	ShippingAddress      models.ShippingAddress `json:"shippingAddress"`
	BuyerContact         models.BuyerContact    `json:"buyerContact"`
	PreferredDeliveryDay string                 `json:"preferredDeliveryDay"`
	PaymentReference     string                 `json:"paymentReference"`
}

// toInput normalizes the request once. Product references that are not UUIDs stay
// unresolved (uuid.Nil) and are skipped by the stock ledger.
func (r *CheckoutRequest) toInput(userID uuid.UUID) (*models.CheckoutInput, error) {
	day, err := parseDeliveryDay(r.PreferredDeliveryDay)
	if err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		ref := it.ProductID
		if ref == "" {
			ref = it.LegacyID
		}
		items = append(items, models.LineItem{
			ProductID: parseUUID(ref),
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
			Name:      it.Name,
			Image:     it.Image,
			SellerID:  parseUUID(it.SellerID),
		})
	}

	return &models.CheckoutInput{
		UserID:               userID,
		Items:                items,
		TotalAmount:          r.TotalAmount,
		PaymentMethod:        r.PaymentMethod,
		ShippingAddress:      r.ShippingAddress,
		BuyerContact:         r.BuyerContact,
		PreferredDeliveryDay: day,
		PaymentReference:     strings.TrimSpace(r.PaymentReference),
	}, nil
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// parseDeliveryDay accepts YYYY-MM-DD or RFC3339. Empty input is left for the
// validator to reject.
func parseDeliveryDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid preferredDeliveryDay %q: expected YYYY-MM-DD or RFC3339", s)
}

// StatusUpdateRequest is the body of PATCH /api/v1/admin/orders/:id/status.
type StatusUpdateRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}
