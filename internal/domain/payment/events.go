package payment

import "time"

type PaymentCompletedEvent struct {
	PaymentID  string
	OrderID    string
	UserID     string
	Provider   Provider
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

func (PaymentCompletedEvent) EventName() string { return "payment.completed" }

func NewPaymentCompletedEvent(p *Payment) PaymentCompletedEvent {
	return PaymentCompletedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		UserID:     p.UserID,
		Provider:   p.Provider,
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: time.Now().UTC(),
	}
}

type PaymentRefundedEvent struct {
	PaymentID  string
	OrderID    string
	UserID     string
	RefundID   string
	Amount     int64
	Currency   string
	Full       bool
	OccurredAt time.Time
}

func (PaymentRefundedEvent) EventName() string { return "payment.refunded" }

func NewPaymentRefundedEvent(p *Payment, r *Refund) PaymentRefundedEvent {
	return PaymentRefundedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		UserID:     p.UserID,
		RefundID:   r.ID,
		Amount:     r.Amount,
		Currency:   p.Currency,
		Full:       p.Status == StatusRefunded,
		OccurredAt: time.Now().UTC(),
	}
}
