package order

import (
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	"github.com/shopspring/decimal"
)

// Pricing turns a subtotal and discount into frozen totals. Tax is charged on the
// subtotal; shipping is free strictly above FreeShippingOver.
type Pricing struct {
	Currency         string
	TaxRate          decimal.Decimal
	FreeShippingOver int64
	FlatShipping     int64
}

func DefaultPricing() Pricing {
	return Pricing{
		Currency:         "usd",
		TaxRate:          decimal.RequireFromString("0.16"),
		FreeShippingOver: 10000,
		FlatShipping:     1000,
	}
}

func (p Pricing) Quote(subtotal, discount int64) Totals {
	if discount > subtotal {
		discount = subtotal
	}
	tax := money.ApplyRate(subtotal, p.TaxRate)
	shipping := p.FlatShipping
	if subtotal > p.FreeShippingOver {
		shipping = 0
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal + tax + shipping - discount,
	}
}
