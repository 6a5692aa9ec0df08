package order

import "context"

type Repository interface {
	// Insert persists the order and its lines.
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Lock takes the per-order serialization point for the surrounding transaction
	// and returns the current row. Every status change goes through it.
	Lock(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Order, error)
}
