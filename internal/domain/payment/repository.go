package payment

import "context"

type Repository interface {
	// Insert fails with ErrConflict when (provider, external id) exists or the order
	// already has a settled payment.
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	FindByExternalID(ctx context.Context, provider Provider, externalID string) (*Payment, error)
	// FindSettledByOrder returns the order's completed or refunded payment, if any.
	FindSettledByOrder(ctx context.Context, orderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Payment, error)
}

type RefundRepository interface {
	Insert(ctx context.Context, r *Refund) error
	Update(ctx context.Context, r *Refund) error
	// SumActive totals pending and completed refunds for the payment.
	SumActive(ctx context.Context, paymentID string) (int64, error)
	ListByPayment(ctx context.Context, paymentID string) ([]*Refund, error)
}

// EventLog records every verified webhook event; Record fails with ErrDuplicateEvent
// for an event id it has already seen.
type EventLog interface {
	Record(ctx context.Context, e *Event) error
}
