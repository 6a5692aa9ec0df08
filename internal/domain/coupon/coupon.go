package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
)

var (
	ErrNotFound      = errors.New("coupon: not found")
	ErrNotActive     = errors.New("coupon: not active")
	ErrExhausted     = errors.New("coupon: usage limit reached")
	ErrMinimumNotMet = errors.New("coupon: order below minimum amount")
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Coupon values: a percentage coupon's Value is whole percent, a fixed coupon's Value
// is minor units. Zero MaximumDiscount and zero UsageLimit mean unlimited.
type Coupon struct {
	Code            string
	Type            Type
	Value           int64
	MaximumDiscount int64
	MinimumAmount   int64
	ValidFrom       time.Time
	ValidUntil      time.Time
	UsageLimit      int
	UsedCount       int
	Active          bool
}

// Discount validates the coupon against subtotal at now and returns the discount in minor units.
func (c *Coupon) Discount(subtotal int64, now time.Time) (int64, error) {
	if !c.Active || now.Before(c.ValidFrom) || (!c.ValidUntil.IsZero() && now.After(c.ValidUntil)) {
		return 0, ErrNotActive
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return 0, ErrExhausted
	}
	if subtotal < c.MinimumAmount {
		return 0, ErrMinimumNotMet
	}

	var d int64
	switch c.Type {
	case TypePercentage:
		d = money.Percent(subtotal, c.Value)
		if c.MaximumDiscount > 0 && d > c.MaximumDiscount {
			d = c.MaximumDiscount
		}
	case TypeFixed:
		d = c.Value
	default:
		return 0, ErrNotActive
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}

type Repository interface {
	Get(ctx context.Context, code string) (*Coupon, error)
	// Redeem increments the used counter only while headroom remains; otherwise ErrExhausted.
	Redeem(ctx context.Context, code string) error
}
