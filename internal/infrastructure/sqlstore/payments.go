package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type paymentRepo struct{ q queryer }

const paymentColumns = `id, order_id, user_id, provider, external_id, amount, currency, status,
	reference, failure_reason, metadata, created_at, updated_at, completed_at`

func (r paymentRepo) Insert(ctx context.Context, p *payment.Payment) error {
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrderID, p.UserID, string(p.Provider), p.ExternalID, p.Amount, p.Currency,
		string(p.Status), p.Reference, p.FailureReason, meta, fmtTime(p.CreatedAt),
		fmtTime(p.UpdatedAt), fmtTimePtr(p.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrConflict
		}
		return fmt.Errorf("sqlstore: insert payment: %w", err)
	}
	return nil
}

func (r paymentRepo) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

func (r paymentRepo) FindByExternalID(ctx context.Context, provider payment.Provider, externalID string) (*payment.Payment, error) {
	return scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE provider = ? AND external_id = ?`, string(provider), externalID))
}

func (r paymentRepo) FindSettledByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	return scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE order_id = ? AND status IN ('completed', 'partially_refunded', 'refunded')`, orderID))
}

func (r paymentRepo) Update(ctx context.Context, p *payment.Payment) error {
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `UPDATE payments SET
		status = ?, reference = ?, failure_reason = ?, metadata = ?, amount = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(p.Status), p.Reference, p.FailureReason, meta, p.Amount, fmtTime(p.UpdatedAt),
		fmtTimePtr(p.CompletedAt), p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrConflict
		}
		return fmt.Errorf("sqlstore: update payment: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r paymentRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*payment.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list payments: %w", err)
	}
	return out, nil
}

func scanPayment(s scanner) (*payment.Payment, error) {
	var (
		p                      payment.Payment
		provider, status, meta string
		created, updated       string
		completed              sql.NullString
	)
	err := s.Scan(&p.ID, &p.OrderID, &p.UserID, &provider, &p.ExternalID, &p.Amount, &p.Currency,
		&status, &p.Reference, &p.FailureReason, &meta, &created, &updated, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan payment: %w", err)
	}
	p.Provider = payment.Provider(provider)
	p.Status = payment.Status(status)
	if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
		return nil, fmt.Errorf("sqlstore: decode payment metadata: %w", err)
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if p.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	return &p, nil
}

func encodeMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode metadata: %w", err)
	}
	return string(raw), nil
}
