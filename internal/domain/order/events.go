package order

import "time"

// OrderCreatedEvent is emitted once the order and its stock decrements are committed.
type OrderCreatedEvent struct {
	OrderID       string
	UserID        string
	Total         int64
	Currency      string
	PaymentMethod PaymentMethod
	Lines         int
	OccurredAt    time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Total:         o.Totals.Total,
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
		Lines:         len(o.Lines),
		OccurredAt:    time.Now().UTC(),
	}
}

// OrderConfirmedEvent is emitted when a completed payment confirms the order.
type OrderConfirmedEvent struct {
	OrderID    string
	UserID     string
	PaymentID  string
	Provider   string
	OccurredAt time.Time
}

func (OrderConfirmedEvent) EventName() string { return "order.confirmed" }

func NewOrderConfirmedEvent(o *Order, paymentID, provider string) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		PaymentID:  paymentID,
		Provider:   provider,
		OccurredAt: time.Now().UTC(),
	}
}

type OrderPaymentFailedEvent struct {
	OrderID    string
	UserID     string
	Reason     string
	OccurredAt time.Time
}

func (OrderPaymentFailedEvent) EventName() string { return "order.payment_failed" }

func NewOrderPaymentFailedEvent(o *Order) OrderPaymentFailedEvent {
	return OrderPaymentFailedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Reason:     o.FailureReason,
		OccurredAt: time.Now().UTC(),
	}
}

type OrderCancelledEvent struct {
	OrderID        string
	UserID         string
	PreviousStatus Status
	OccurredAt     time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order, previous Status) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:        o.ID,
		UserID:         o.UserID,
		PreviousStatus: previous,
		OccurredAt:     time.Now().UTC(),
	}
}

// OrderStatusChangedEvent covers fulfilment and refund transitions.
type OrderStatusChangedEvent struct {
	OrderID        string
	UserID         string
	From           Status
	To             Status
	TrackingNumber string
	Carrier        string
	OccurredAt     time.Time
}

func (OrderStatusChangedEvent) EventName() string { return "order.status_changed" }

func NewOrderStatusChangedEvent(o *Order, from Status) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		OrderID:        o.ID,
		UserID:         o.UserID,
		From:           from,
		To:             o.Status,
		TrackingNumber: o.TrackingNumber,
		Carrier:        o.Carrier,
		OccurredAt:     time.Now().UTC(),
	}
}
