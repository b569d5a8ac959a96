package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus-market/internal/models"
	"campus-market/internal/store"
	"campus-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderValidator checks a checkout request before any money or stock is touched.
type OrderValidator struct {
	catalog              CatalogStore
	enforceCatalogPrices bool
	logger               *zap.Logger
}

// NewOrderValidator creates a validator. When enforceCatalogPrices is set every item must
// reference a catalog product and carry its current price.
func NewOrderValidator(catalog CatalogStore, enforceCatalogPrices bool) *OrderValidator {
	return &OrderValidator{
		catalog:              catalog,
		enforceCatalogPrices: enforceCatalogPrices,
		logger:               util.GetLogger(),
	}
}

// Validate returns the recomputed breakdown or a *ValidationError naming the failed check.
func (v *OrderValidator) Validate(ctx context.Context, in *models.CheckoutInput) (Breakdown, error) {
	ctx, span := util.StartSpan(ctx, "OrderValidator.Validate")
	defer span.End()

	if len(in.Items) == 0 {
		return Breakdown{}, validationErrorf("order must contain at least one item")
	}
	for i, item := range in.Items {
		if item.Quantity < 1 {
			return Breakdown{}, validationErrorf("item %d: quantity must be at least 1", i+1)
		}
		if item.UnitPrice.IsNegative() {
			return Breakdown{}, validationErrorf("item %d: price must not be negative", i+1)
		}
	}

	if !models.IsCampusZone(in.ShippingAddress.Location) {
		return Breakdown{}, validationErrorf("invalid shipping location %q: must be one of %s",
			in.ShippingAddress.Location, strings.Join(models.CampusZones, ", "))
	}
	if strings.TrimSpace(in.BuyerContact.Phone) == "" {
		return Breakdown{}, validationErrorf("buyer contact phone is required")
	}
	if in.PreferredDeliveryDay.IsZero() {
		return Breakdown{}, validationErrorf("preferred delivery day is required")
	}
	if !in.PaymentMethod.IsValid() {
		return Breakdown{}, validationErrorf("unsupported payment method %q", in.PaymentMethod)
	}
	if in.PaymentMethod != models.PaymentMethodPayOnDelivery && in.PaymentReference == "" {
		return Breakdown{}, validationErrorf("payment reference is required for %s payments", in.PaymentMethod)
	}

	if v.enforceCatalogPrices {
		if err := v.checkCatalogPrices(ctx, in.Items); err != nil {
			return Breakdown{}, err
		}
	}

	breakdown := ExpectedTotal(in.Items)
	if !TotalMatches(breakdown.Total, in.TotalAmount) {
		util.OrdersRejectedTotal.WithLabelValues("total_mismatch").Inc()
		return breakdown, validationErrorf(
			"total mismatch: expected %s (subtotal %s + delivery fee %s), got %s",
			breakdown.Total.StringFixed(2), breakdown.Subtotal.StringFixed(2),
			breakdown.DeliveryFee.StringFixed(2), in.TotalAmount.String())
	}

	return breakdown, nil
}

func (v *OrderValidator) checkCatalogPrices(ctx context.Context, items []models.LineItem) error {
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return validationErrorf("item %d: product reference is required", i+1)
		}

		product, err := v.catalog.GetProductByID(ctx, item.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return validationErrorf("item %d: product %s not found", i+1, item.ProductID)
		}
		if err != nil {
			return fmt.Errorf("failed to load product %s: %w", item.ProductID, err)
		}

		if !product.Price.Equal(item.UnitPrice) {
			v.logger.Warn("Client price differs from catalog",
				zap.String("product_id", item.ProductID.String()),
				zap.String("client_price", item.UnitPrice.String()),
				zap.String("catalog_price", product.Price.String()))
			return validationErrorf("item %d: price %s does not match current price %s",
				i+1, item.UnitPrice.StringFixed(2), product.Price.StringFixed(2))
		}
	}
	return nil
}
