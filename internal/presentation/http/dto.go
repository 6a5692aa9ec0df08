package httppresentation

import (
	"time"

	cartapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// Amounts go out as minor units next to a formatted major-unit string.
type totalsDTO struct {
	Subtotal int64  `json:"subtotal"`
	Tax      int64  `json:"tax"`
	Shipping int64  `json:"shipping"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Display  string `json:"total_display"`
}

func toTotals(t domorder.Totals, currency string) totalsDTO {
	return totalsDTO{
		Subtotal: t.Subtotal,
		Tax:      t.Tax,
		Shipping: t.Shipping,
		Discount: t.Discount,
		Total:    t.Total,
		Display:  money.Format(t.Total, currency),
	}
}

type lineDTO struct {
	ID               string `json:"id,omitempty"`
	ProductID        string `json:"product_id"`
	VariantID        string `json:"variant_id,omitempty"`
	ProductName      string `json:"product_name"`
	VariantName      string `json:"variant_name,omitempty"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	VariantSurcharge int64  `json:"variant_surcharge,omitempty"`
	Total            int64  `json:"total"`
}

type orderDTO struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Status          domorder.Status  `json:"status"`
	PaymentMethod   string           `json:"payment_method"`
	Currency        string           `json:"currency"`
	Totals          totalsDTO        `json:"totals"`
	Lines           []lineDTO        `json:"items"`
	ShippingAddress domorder.Address `json:"shipping_address"`
	CouponCode      string           `json:"coupon_code,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	TrackingNumber  string           `json:"tracking_number,omitempty"`
	Carrier         string           `json:"carrier,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ConfirmedAt     *time.Time       `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time       `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time       `json:"refunded_at,omitempty"`
}

func toOrder(o *domorder.Order) *orderDTO {
	if o == nil {
		return nil
	}
	lines := make([]lineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineDTO{
			ID:               l.ID,
			ProductID:        l.ProductID,
			VariantID:        l.VariantID,
			ProductName:      l.ProductName,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			VariantSurcharge: l.VariantSurcharge,
			Total:            l.Total(),
		})
	}
	return &orderDTO{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		PaymentMethod:   string(o.PaymentMethod),
		Currency:        o.Currency,
		Totals:          toTotals(o.Totals, o.Currency),
		Lines:           lines,
		ShippingAddress: o.ShippingAddress,
		CouponCode:      o.CouponCode,
		Notes:           o.Notes,
		TrackingNumber:  o.TrackingNumber,
		Carrier:         o.Carrier,
		FailureReason:   o.FailureReason,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ConfirmedAt:     o.ConfirmedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
	}
}

type cartDTO struct {
	Lines    []lineDTO `json:"items"`
	Totals   totalsDTO `json:"totals"`
	Currency string    `json:"currency"`
}

func toCart(s *cartapp.Summary) cartDTO {
	lines := make([]lineDTO, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, lineDTO{
			ID:               l.ID,
			ProductID:        l.ProductID,
			VariantID:        l.VariantID,
			ProductName:      l.ProductName,
			VariantName:      l.VariantName,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			VariantSurcharge: l.VariantSurcharge,
			Total:            l.Total(),
		})
	}
	return cartDTO{Lines: lines, Totals: toTotals(s.Totals, s.Currency), Currency: s.Currency}
}

type paymentDTO struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id"`
	Provider    dompay.Provider   `json:"provider"`
	ExternalID  string            `json:"external_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      dompay.Status     `json:"status"`
	Reference   string            `json:"reference,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func toPayment(p *dompay.Payment) *paymentDTO {
	if p == nil {
		return nil
	}
	return &paymentDTO{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Provider:    p.Provider,
		ExternalID:  p.ExternalID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		Reference:   p.Reference,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

type refundDTO struct {
	ID          string              `json:"id"`
	PaymentID   string              `json:"payment_id"`
	OrderID     string              `json:"order_id"`
	Amount      int64               `json:"amount"`
	Status      dompay.RefundStatus `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	ProcessedBy string              `json:"processed_by,omitempty"`
	Reference   string              `json:"provider_reference,omitempty"`
}

func toRefund(r *dompay.Refund) *refundDTO {
	if r == nil {
		return nil
	}
	return &refundDTO{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		OrderID:     r.OrderID,
		Amount:      r.Amount,
		Status:      r.Status,
		Reason:      r.Reason,
		ProcessedBy: r.ProcessedBy,
		Reference:   r.ProviderReference,
	}
}

type handleDTO struct {
	PaymentID    string          `json:"payment_id"`
	Provider     dompay.Provider `json:"provider"`
	ExternalID   string          `json:"external_id"`
	ClientSecret string          `json:"client_secret,omitempty"`
	ApprovalURL  string          `json:"approval_url,omitempty"`
	Amount       int64           `json:"amount"`
	Currency     string          `json:"currency"`
}
