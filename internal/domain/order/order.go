package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: conflict")
	ErrEmptyCart              = errors.New("order: cart is empty")
	ErrInvalidPaymentMethod   = errors.New("order: unsupported payment method")
	ErrInvalidAddress         = errors.New("order: shipping address is incomplete")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrRequestInFlight        = errors.New("order: a request with this idempotency key is in progress")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusProcessing        Status = "processing"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusPaymentFailed     Status = "payment_failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodCreditCard     PaymentMethod = "credit_card"
	MethodPayPal         PaymentMethod = "paypal"
	MethodTransfer       PaymentMethod = "transfer"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodCreditCard, MethodPayPal, MethodTransfer, MethodCashOnDelivery:
		return true
	}
	return false
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Validate returns the name of the first missing field, or "".
func (a Address) Validate() string {
	switch {
	case a.Line1 == "":
		return "shipping_address.line1"
	case a.City == "":
		return "shipping_address.city"
	case a.PostalCode == "":
		return "shipping_address.postal_code"
	case a.Country == "":
		return "shipping_address.country"
	}
	return ""
}

// Line prices are frozen when the order is created.
type Line struct {
	ID               string
	ProductID        string
	VariantID        string
	ProductName      string
	Quantity         int
	UnitPrice        int64
	VariantSurcharge int64
}

func (l Line) Unit() inventory.Unit {
	return inventory.Unit{ProductID: l.ProductID, VariantID: l.VariantID}
}

func (l Line) Total() int64 {
	return (l.UnitPrice + l.VariantSurcharge) * int64(l.Quantity)
}

// Totals are computed once at creation. Total == Subtotal + Tax + Shipping - Discount.
type Totals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
}

type Order struct {
	ID              string
	UserID          string
	Lines           []Line
	Totals          Totals
	Currency        string
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Status          Status
	CouponCode      string
	Notes           string
	TrackingNumber  string
	Carrier         string
	FailureReason   string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ProcessingAt    *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	PaymentFailedAt *time.Time
	RefundedAt      *time.Time
}

// Draft carries everything New needs besides identifiers.
type Draft struct {
	Snapshot        cart.Snapshot
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string
	Notes           string
	Currency        string
	Totals          Totals
}

// New builds a pending order whose lines copy the snapshot prices.
func New(id string, lineIDs func() string, d Draft) (*Order, error) {
	if d.Snapshot.Empty() {
		return nil, ErrEmptyCart
	}
	if !d.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, d.PaymentMethod)
	}
	if field := d.ShippingAddress.Validate(); field != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, field)
	}
	if d.Totals.Total != d.Totals.Subtotal+d.Totals.Tax+d.Totals.Shipping-d.Totals.Discount {
		return nil, fmt.Errorf("order: totals do not add up: %+v", d.Totals)
	}

	src := d.Snapshot.Lines()
	lines := make([]Line, 0, len(src))
	for _, l := range src {
		lines = append(lines, Line{
			ID:               lineIDs(),
			ProductID:        l.ProductID,
			VariantID:        l.VariantID,
			ProductName:      l.ProductName,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			VariantSurcharge: l.VariantSurcharge,
		})
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		UserID:          d.Snapshot.UserID,
		Lines:           lines,
		Totals:          d.Totals,
		Currency:        d.Currency,
		ShippingAddress: d.ShippingAddress,
		PaymentMethod:   d.PaymentMethod,
		Status:          StatusPending,
		CouponCode:      d.CouponCode,
		Notes:           d.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Clone returns a deep copy so repositories never share mutable state with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	for _, p := range []**time.Time{&c.ConfirmedAt, &c.ProcessingAt, &c.ShippedAt, &c.DeliveredAt, &c.CancelledAt, &c.PaymentFailedAt, &c.RefundedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}

// PaymentSucceeded moves the order to confirmed. changed is false when the order was
// already confirmed, so a replayed success never stamps ConfirmedAt twice.
func (o *Order) PaymentSucceeded(at time.Time) (changed bool, err error) {
	return o.apply(at, func(s OrderState) (OrderState, error) { return s.OnPaymentSucceeded(o) })
}

func (o *Order) PaymentFailed(reason string, at time.Time) (bool, error) {
	return o.apply(at, func(s OrderState) (OrderState, error) { return s.OnPaymentFailed(o, reason) })
}

func (o *Order) Cancel(at time.Time) (bool, error) {
	return o.apply(at, func(s OrderState) (OrderState, error) { return s.OnCancel(o) })
}

// Advance walks the fulfilment path: confirmed -> processing -> shipped -> delivered.
func (o *Order) Advance(target Status, at time.Time) (bool, error) {
	return o.apply(at, func(s OrderState) (OrderState, error) { return s.OnAdvance(o, target) })
}

// Refund records a full or partial refund against the order.
func (o *Order) Refund(full bool, at time.Time) (bool, error) {
	return o.apply(at, func(s OrderState) (OrderState, error) { return s.OnRefund(o, full) })
}

// SetTracking stores carrier data and ships a processing order.
func (o *Order) SetTracking(number, carrier string, at time.Time) (bool, error) {
	switch o.Status {
	case StatusProcessing:
		changed, err := o.Advance(StatusShipped, at)
		if err != nil {
			return false, err
		}
		o.TrackingNumber, o.Carrier = number, carrier
		return changed, nil
	case StatusShipped, StatusDelivered:
		o.TrackingNumber, o.Carrier = number, carrier
		o.UpdatedAt = at.UTC()
		return false, nil
	default:
		return false, &TransitionError{From: o.Status, To: StatusShipped}
	}
}

func (o *Order) apply(at time.Time, step func(OrderState) (OrderState, error)) (bool, error) {
	current, err := stateFor(o.Status)
	if err != nil {
		return false, err
	}
	next, err := step(current)
	if err != nil {
		return false, err
	}
	if next.Status() == o.Status {
		return false, nil
	}
	o.Status = next.Status()
	o.stamp(at.UTC())
	return true, nil
}

func (o *Order) stamp(at time.Time) {
	t := at
	switch o.Status {
	case StatusConfirmed:
		o.ConfirmedAt = &t
	case StatusProcessing:
		o.ProcessingAt = &t
	case StatusShipped:
		o.ShippedAt = &t
	case StatusDelivered:
		o.DeliveredAt = &t
	case StatusCancelled:
		o.CancelledAt = &t
	case StatusPaymentFailed:
		o.PaymentFailedAt = &t
	case StatusRefunded, StatusPartiallyRefunded:
		o.RefundedAt = &t
	}
	o.UpdatedAt = at
}
