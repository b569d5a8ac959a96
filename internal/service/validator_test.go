package service

import (
	"context"
	"testing"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTotalTolerance(t *testing.T) {
	h := newHarness(t)
	v := NewOrderValidator(h.store, false)
	ctx := context.Background()

	tests := []struct {
		total   string
		wantErr bool
	}{
		{"155.00", false},
		{"155.009", false},
		{"155.02", true},
		{"150", true},
	}

	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			in := h.checkout(models.PaymentMethodPayOnDelivery, "", tt.total, item(uuid.New(), "75", 2))
			b, err := v.Validate(ctx, in)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "155", b.Total.String())
				return
			}

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Message, "expected 155.00")
			assert.Contains(t, vErr.Message, "subtotal 150.00")
			assert.Contains(t, vErr.Message, "delivery fee 5.00")
			assert.Contains(t, vErr.Message, tt.total)
		})
	}
}

func TestValidateRejections(t *testing.T) {
	h := newHarness(t)
	v := NewOrderValidator(h.store, false)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *models.CheckoutInput)
		want   string
	}{
		{"empty items", func(in *models.CheckoutInput) { in.Items = nil }, "at least one item"},
		{"zero quantity", func(in *models.CheckoutInput) { in.Items[0].Quantity = 0 }, "quantity"},
		{"negative price", func(in *models.CheckoutInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }, "price"},
		{"unknown location", func(in *models.CheckoutInput) { in.ShippingAddress.Location = "Mars" }, "invalid shipping location"},
		{"location case differs", func(in *models.CheckoutInput) { in.ShippingAddress.Location = "brunei" }, "invalid shipping location"},
		{"missing phone", func(in *models.CheckoutInput) { in.BuyerContact.Phone = " " }, "phone"},
		{"missing delivery day", func(in *models.CheckoutInput) { in.PreferredDeliveryDay = time.Time{} }, "delivery day"},
		{"unknown method", func(in *models.CheckoutInput) { in.PaymentMethod = "barter" }, "unsupported payment method"},
		{"online without reference", func(in *models.CheckoutInput) {
			in.PaymentMethod = models.PaymentMethodOnline
			in.PaymentReference = ""
		}, "payment reference is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(uuid.New(), "75", 2))
			tt.mutate(in)

			_, err := v.Validate(ctx, in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Message, tt.want)
		})
	}
}

func TestValidateCatalogPrices(t *testing.T) {
	h := newHarness(t)
	v := NewOrderValidator(h.store, true)
	ctx := context.Background()
	p := h.addProduct("75", 10)

	t.Run("matching price", func(t *testing.T) {
		_, err := v.Validate(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(p.ID, "75.00", 2)))
		assert.NoError(t, err)
	})

	t.Run("tampered price", func(t *testing.T) {
		_, err := v.Validate(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "7", item(p.ID, "1", 2)))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "does not match current price 75.00")
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := v.Validate(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(uuid.New(), "75", 2)))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "not found")
	})

	t.Run("client prices trusted when disabled", func(t *testing.T) {
		lenient := NewOrderValidator(testutil.NewMemStore(), false)
		_, err := lenient.Validate(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "7", item(p.ID, "1", 2)))
		assert.NoError(t, err)
	})
}
