package inventory

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("inventory: stock unit not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// Unit identifies a product, or one variant of it, whose quantity is tracked on its own.
type Unit struct {
	ProductID string
	VariantID string
}

func (u Unit) String() string {
	if u.VariantID == "" {
		return u.ProductID
	}
	return u.ProductID + "/" + u.VariantID
}

// InsufficientStockError reports the quantity that was available when the decrement was refused.
type InsufficientStockError struct {
	Unit        Unit
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.Unit.String()
	}
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Request asks the ledger for Quantity units of Unit.
type Request struct {
	Unit        Unit
	ProductName string
	Quantity    int
}

// ReserveAll decrements every request or none of them. When a decrement fails, the
// decrements already applied by this call are restored before the failure is returned.
func ReserveAll(ctx context.Context, ledger Ledger, reqs []Request) error {
	applied := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if err := ledger.DecrementIfAvailable(ctx, r.Unit, r.Quantity); err != nil {
			var short *InsufficientStockError
			if errors.As(err, &short) && short.ProductName == "" {
				short.ProductName = r.ProductName
			}
			if rerr := ReleaseAll(ctx, ledger, applied); rerr != nil {
				return errors.Join(err, fmt.Errorf("inventory: compensate: %w", rerr))
			}
			return err
		}
		applied = append(applied, r)
	}
	return nil
}

// ReleaseAll restores every request. All restores are attempted even if one fails.
func ReleaseAll(ctx context.Context, ledger Ledger, reqs []Request) error {
	var errs []error
	for i := len(reqs) - 1; i >= 0; i-- {
		if err := ledger.Restore(ctx, reqs[i].Unit, reqs[i].Quantity); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", reqs[i].Unit, err))
		}
	}
	return errors.Join(errs...)
}
