package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
)

type couponRepo struct{ q queryer }

func (r couponRepo) Get(ctx context.Context, code string) (*coupon.Coupon, error) {
	var (
		c         coupon.Coupon
		typ, from string
		until     sql.NullString
		active    int
	)
	err := r.q.QueryRowContext(ctx, `SELECT code, discount_type, discount_value, maximum_discount, minimum_amount,
		valid_from, valid_until, usage_limit, used_count, active
		FROM coupons WHERE code = ?`, normalizeCode(code)).Scan(
		&c.Code, &typ, &c.Value, &c.MaximumDiscount, &c.MinimumAmount,
		&from, &until, &c.UsageLimit, &c.UsedCount, &active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get coupon: %w", err)
	}
	c.Type = coupon.Type(typ)
	c.Active = active != 0
	if c.ValidFrom, err = parseTime(from); err != nil {
		return nil, err
	}
	end, err := parseTimePtr(until)
	if err != nil {
		return nil, err
	}
	if end != nil {
		c.ValidUntil = *end
	}
	return &c, nil
}

func (r couponRepo) Redeem(ctx context.Context, code string) error {
	code = normalizeCode(code)
	res, err := r.q.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1
		WHERE code = ? AND (usage_limit = 0 OR used_count < usage_limit)`, code)
	if err != nil {
		return fmt.Errorf("sqlstore: redeem coupon: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM coupons WHERE code = ?`, code).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return coupon.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlstore: redeem coupon: %w", err)
	}
	return coupon.ErrExhausted
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
