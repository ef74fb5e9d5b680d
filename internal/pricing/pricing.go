package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/admosplace/food_ordering/internal/cart"
)

// Quote is the advisory price breakdown shown at cart time. The authoritative
// total is whatever the order stores at creation.
type Quote struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	VATPercentage decimal.Decimal `json:"vat_percentage"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Total         decimal.Decimal `json:"total"`
}

var hundred = decimal.NewFromInt(100)

// Compute prices the given bags. Subtotal covers item lines and plate lines;
// VAT applies to the subtotal only, never to fees.
func Compute(bags []cart.Bag, serviceCharge, vatPercentage, deliveryFee decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for i := range bags {
		subtotal = subtotal.Add(bags[i].Total())
	}

	vatAmount := subtotal.Mul(vatPercentage).Div(hundred).Round(2)

	return Quote{
		Subtotal:      subtotal,
		ServiceCharge: serviceCharge,
		VATPercentage: vatPercentage,
		VATAmount:     vatAmount,
		DeliveryFee:   deliveryFee,
		Total:         subtotal.Add(serviceCharge).Add(vatAmount).Add(deliveryFee),
	}
}
