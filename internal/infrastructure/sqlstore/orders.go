package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type orderRepo struct{ q queryer }

const orderColumns = `id, user_id, status, subtotal, tax, shipping, discount, total, currency,
	shipping_address, payment_method, coupon_code, notes, tracking_number, carrier, failure_reason,
	created_at, updated_at, confirmed_at, processing_at, shipped_at, delivered_at, cancelled_at,
	payment_failed_at, refunded_at`

func (r orderRepo) Insert(ctx context.Context, o *order.Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("sqlstore: encode address: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(o.Status), o.Totals.Subtotal, o.Totals.Tax, o.Totals.Shipping,
		o.Totals.Discount, o.Totals.Total, o.Currency, string(addr), string(o.PaymentMethod),
		o.CouponCode, o.Notes, o.TrackingNumber, o.Carrier, o.FailureReason,
		fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt), fmtTimePtr(o.ConfirmedAt), fmtTimePtr(o.ProcessingAt),
		fmtTimePtr(o.ShippedAt), fmtTimePtr(o.DeliveredAt), fmtTimePtr(o.CancelledAt),
		fmtTimePtr(o.PaymentFailedAt), fmtTimePtr(o.RefundedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return fmt.Errorf("sqlstore: insert order: %w", err)
	}

	for i, l := range o.Lines {
		_, err := r.q.ExecContext(ctx, `INSERT INTO order_items
			(id, order_id, position, product_id, variant_id, product_name, quantity, unit_price, variant_surcharge)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, o.ID, i, l.ProductID, l.VariantID, l.ProductName, l.Quantity, l.UnitPrice, l.VariantSurcharge,
		)
		if err != nil {
			return fmt.Errorf("sqlstore: insert order item %d: %w", i, err)
		}
	}
	return nil
}

func (r orderRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Lines, err = r.lines(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r orderRepo) Lock(ctx context.Context, id string) (*order.Order, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET lock_version = lock_version + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lock order: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, order.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r orderRepo) Update(ctx context.Context, o *order.Order) error {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET
		status = ?, tracking_number = ?, carrier = ?, failure_reason = ?, updated_at = ?,
		confirmed_at = ?, processing_at = ?, shipped_at = ?, delivered_at = ?, cancelled_at = ?,
		payment_failed_at = ?, refunded_at = ?
		WHERE id = ?`,
		string(o.Status), o.TrackingNumber, o.Carrier, o.FailureReason, fmtTime(o.UpdatedAt),
		fmtTimePtr(o.ConfirmedAt), fmtTimePtr(o.ProcessingAt), fmtTimePtr(o.ShippedAt),
		fmtTimePtr(o.DeliveredAt), fmtTimePtr(o.CancelledAt), fmtTimePtr(o.PaymentFailedAt),
		fmtTimePtr(o.RefundedAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update order: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list orders: %w", err)
	}
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sqlstore: list orders: %w", err)
	}
	_ = rows.Close()

	for _, o := range out {
		if o.Lines, err = r.lines(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r orderRepo) lines(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, product_id, variant_id, product_name, quantity, unit_price, variant_surcharge
		FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load order items: %w", err)
	}
	defer rows.Close()

	var lines []order.Line
	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.VariantSurcharge); err != nil {
			return nil, fmt.Errorf("sqlstore: scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: load order items: %w", err)
	}
	return lines, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*order.Order, error) {
	var (
		o                                                   order.Order
		status, addr, method, created, updated              string
		confirmed, processing, shipped, delivered, canceled sql.NullString
		failed, refunded                                    sql.NullString
	)
	err := s.Scan(&o.ID, &o.UserID, &status, &o.Totals.Subtotal, &o.Totals.Tax, &o.Totals.Shipping,
		&o.Totals.Discount, &o.Totals.Total, &o.Currency, &addr, &method, &o.CouponCode, &o.Notes,
		&o.TrackingNumber, &o.Carrier, &o.FailureReason, &created, &updated,
		&confirmed, &processing, &shipped, &delivered, &canceled, &failed, &refunded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan order: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	if err := json.Unmarshal([]byte(addr), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("sqlstore: decode address: %w", err)
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	stamps := []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&o.ConfirmedAt, confirmed}, {&o.ProcessingAt, processing}, {&o.ShippedAt, shipped},
		{&o.DeliveredAt, delivered}, {&o.CancelledAt, canceled}, {&o.PaymentFailedAt, failed},
		{&o.RefundedAt, refunded},
	}
	for _, st := range stamps {
		if *st.dst, err = parseTimePtr(st.src); err != nil {
			return nil, err
		}
	}
	return &o, nil
}
