// Package store defines the unit of work the application layer runs inside.
package store

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Orders() order.Repository
	Payments() payment.Repository
	Refunds() payment.RefundRepository
	Events() payment.EventLog
	Coupons() coupon.Repository
	Carts() cart.Repository
	Stock() inventory.Ledger
}

type Store interface {
	// Atomic runs fn in a write transaction, committing only when fn returns nil.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Read runs fn against committed state without taking write locks.
	Read(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
