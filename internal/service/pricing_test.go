package service

import (
	"testing"

	"campus-market/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDeliveryFee(t *testing.T) {
	tests := []struct {
		subtotal string
		want     string
	}{
		{"0", "5"},
		{"150", "5"},
		{"199.99", "5"},
		{"200.00", "0"},
		{"200.01", "0"},
		{"1250", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.subtotal, func(t *testing.T) {
			got := DeliveryFee(decimal.RequireFromString(tt.subtotal))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestExpectedTotal(t *testing.T) {
	items := []models.LineItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("50")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("50")},
	}

	b := ExpectedTotal(items)
	assert.Equal(t, "150", b.Subtotal.String())
	assert.Equal(t, "5", b.DeliveryFee.String())
	assert.Equal(t, "155", b.Total.String())
}

func TestTotalMatches(t *testing.T) {
	expected := decimal.RequireFromString("155")

	assert.True(t, TotalMatches(expected, decimal.RequireFromString("155.00")))
	assert.True(t, TotalMatches(expected, decimal.RequireFromString("155.009")))
	assert.True(t, TotalMatches(expected, decimal.RequireFromString("154.991")))
	assert.False(t, TotalMatches(expected, decimal.RequireFromString("155.02")))
	assert.False(t, TotalMatches(expected, decimal.RequireFromString("155.01")))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(15500), ToMinorUnits(decimal.RequireFromString("155")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("9.995")))
	assert.Equal(t, "155.5", FromMinorUnits(15550).String())
}
