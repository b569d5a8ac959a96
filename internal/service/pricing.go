package service

import (
	"campus-market/internal/models"

	"github.com/shopspring/decimal"
)

var (
	FreeDeliveryThreshold = decimal.NewFromInt(200)
	FlatDeliveryFee       = decimal.NewFromInt(5)

	totalTolerance = decimal.New(1, -2)
	minorUnit      = decimal.NewFromInt(100)
)

// Breakdown is the server-side view of what an order should cost.
type Breakdown struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
}

// DeliveryFee is free at or above the threshold and flat below it.
func DeliveryFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return FlatDeliveryFee
}

func Subtotal(items []models.LineItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

func ExpectedTotal(items []models.LineItem) Breakdown {
	subtotal := Subtotal(items)
	fee := DeliveryFee(subtotal)
	return Breakdown{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}

// TotalMatches reports whether provided is within one minor unit of expected.
func TotalMatches(expected, provided decimal.Decimal) bool {
	return expected.Sub(provided).Abs().LessThan(totalTolerance)
}

// ToMinorUnits converts a currency amount to pesewas as the gateway expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnit).Round(0).IntPart()
}

func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
