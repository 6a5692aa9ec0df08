package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/google/uuid"
)

type cartRepo struct{ q queryer }

func (r cartRepo) Snapshot(ctx context.Context, userID string, at time.Time) (cart.Snapshot, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT c.id, c.product_id, c.variant_id, p.name, COALESCE(v.name, ''),
		c.quantity, p.price, COALESCE(v.price_modifier, 0)
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		LEFT JOIN product_variants v ON v.id = c.variant_id AND v.product_id = c.product_id
		WHERE c.user_id = ?
		ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return cart.Snapshot{}, fmt.Errorf("sqlstore: read cart: %w", err)
	}
	defer rows.Close()

	var lines []cart.Line
	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.ProductName, &l.VariantName,
			&l.Quantity, &l.UnitPrice, &l.VariantSurcharge); err != nil {
			return cart.Snapshot{}, fmt.Errorf("sqlstore: scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return cart.Snapshot{}, fmt.Errorf("sqlstore: read cart: %w", err)
	}
	return cart.Freeze(userID, lines, at), nil
}

func (r cartRepo) AddItem(ctx context.Context, item cart.Item) error {
	if item.Quantity <= 0 {
		return cart.ErrInvalidQuantity
	}
	var one int
	var err error
	if item.VariantID == "" {
		err = r.q.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ? AND active = 1`, item.ProductID).Scan(&one)
	} else {
		err = r.q.QueryRowContext(ctx, `SELECT 1 FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ? AND p.active = 1`, item.VariantID, item.ProductID).Scan(&one)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", inventory.ErrNotFound, inventory.Unit{ProductID: item.ProductID, VariantID: item.VariantID})
	}
	if err != nil {
		return fmt.Errorf("sqlstore: check product: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, product_id, variant_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
		uuid.NewString(), item.UserID, item.ProductID, item.VariantID, item.Quantity, fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: add cart item: %w", err)
	}
	return nil
}

func (r cartRepo) Clear(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlstore: clear cart: %w", err)
	}
	return nil
}
