package sqlstore

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type refundRepo struct{ q queryer }

func (r refundRepo) Insert(ctx context.Context, rf *payment.Refund) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO refunds
		(id, payment_id, order_id, amount, reason, processed_by, status, provider_reference, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rf.ID, rf.PaymentID, rf.OrderID, rf.Amount, rf.Reason, rf.ProcessedBy, string(rf.Status),
		rf.ProviderReference, rf.FailureReason, fmtTime(rf.CreatedAt), fmtTime(rf.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert refund: %w", err)
	}
	return nil
}

func (r refundRepo) Update(ctx context.Context, rf *payment.Refund) error {
	res, err := r.q.ExecContext(ctx, `UPDATE refunds SET status = ?, provider_reference = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(rf.Status), rf.ProviderReference, rf.FailureReason, fmtTime(rf.UpdatedAt), rf.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update refund: %w", err)
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

func (r refundRepo) SumActive(ctx context.Context, paymentID string) (int64, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM refunds
		WHERE payment_id = ? AND status IN ('pending', 'completed')`, paymentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: sum refunds: %w", err)
	}
	return sum, nil
}

func (r refundRepo) ListByPayment(ctx context.Context, paymentID string) ([]*payment.Refund, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, payment_id, order_id, amount, reason, processed_by, status,
		provider_reference, failure_reason, created_at, updated_at
		FROM refunds WHERE payment_id = ? ORDER BY created_at, id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list refunds: %w", err)
	}
	defer rows.Close()

	var out []*payment.Refund
	for rows.Next() {
		var (
			rf               payment.Refund
			status           string
			created, updated string
		)
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.OrderID, &rf.Amount, &rf.Reason, &rf.ProcessedBy,
			&status, &rf.ProviderReference, &rf.FailureReason, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlstore: scan refund: %w", err)
		}
		rf.Status = payment.RefundStatus(status)
		if rf.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if rf.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, &rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list refunds: %w", err)
	}
	return out, nil
}
