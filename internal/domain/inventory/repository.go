package inventory

import "context"

// Ledger is the only way stock quantities change. DecrementIfAvailable must be a single
// conditional update so concurrent callers can never drive a unit below zero.
type Ledger interface {
	DecrementIfAvailable(ctx context.Context, unit Unit, quantity int) error
	Restore(ctx context.Context, unit Unit, quantity int) error
	Available(ctx context.Context, unit Unit) (int, error)
}
