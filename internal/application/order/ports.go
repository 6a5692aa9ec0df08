package order

import "context"

// IdempotencyStore remembers which order a client-supplied idempotency key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns the order id when the key already completed and
	// order.ErrRequestInFlight while another request holds the claim.
	Reserve(ctx context.Context, key string) (orderID string, err error)
	Complete(ctx context.Context, key, orderID string) error
	// Release drops a claim whose request failed so the client can retry.
	Release(ctx context.Context, key string) error
}
