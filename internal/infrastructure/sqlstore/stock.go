package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

// ledger keeps product-level stock in products and variant-level stock in
// product_variants. A decrement is one conditional UPDATE; zero affected rows means
// the unit is missing or short.
type ledger struct{ q queryer }

func (l ledger) DecrementIfAvailable(ctx context.Context, unit inventory.Unit, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	var (
		res sql.Result
		err error
	)
	if unit.VariantID == "" {
		res, err = l.q.ExecContext(ctx, `UPDATE products SET stock_quantity = stock_quantity - ?
			WHERE id = ? AND stock_quantity >= ?`, quantity, unit.ProductID, quantity)
	} else {
		res, err = l.q.ExecContext(ctx, `UPDATE product_variants SET stock_quantity = stock_quantity - ?
			WHERE id = ? AND product_id = ? AND stock_quantity >= ?`, quantity, unit.VariantID, unit.ProductID, quantity)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: decrement %s: %w", unit, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	available, name, err := l.lookup(ctx, unit)
	if err != nil {
		return err
	}
	return &inventory.InsufficientStockError{Unit: unit, ProductName: name, Requested: quantity, Available: available}
}

func (l ledger) Restore(ctx context.Context, unit inventory.Unit, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	var (
		res sql.Result
		err error
	)
	if unit.VariantID == "" {
		res, err = l.q.ExecContext(ctx, `UPDATE products SET stock_quantity = stock_quantity + ? WHERE id = ?`,
			quantity, unit.ProductID)
	} else {
		res, err = l.q.ExecContext(ctx, `UPDATE product_variants SET stock_quantity = stock_quantity + ?
			WHERE id = ? AND product_id = ?`, quantity, unit.VariantID, unit.ProductID)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: restore %s: %w", unit, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrNotFound, unit)
	}
	return nil
}

func (l ledger) Available(ctx context.Context, unit inventory.Unit) (int, error) {
	n, _, err := l.lookup(ctx, unit)
	return n, err
}

func (l ledger) lookup(ctx context.Context, unit inventory.Unit) (int, string, error) {
	var (
		qty  int
		name string
		err  error
	)
	if unit.VariantID == "" {
		err = l.q.QueryRowContext(ctx, `SELECT stock_quantity, name FROM products WHERE id = ?`,
			unit.ProductID).Scan(&qty, &name)
	} else {
		err = l.q.QueryRowContext(ctx, `SELECT v.stock_quantity, p.name || ' (' || v.name || ')'
			FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ?`, unit.VariantID, unit.ProductID).Scan(&qty, &name)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", inventory.ErrNotFound, unit)
	}
	if err != nil {
		return 0, "", fmt.Errorf("sqlstore: stock of %s: %w", unit, err)
	}
	return qty, name, nil
}
