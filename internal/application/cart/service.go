// Package cart serves the pre-checkout cart. Checkout freezes it; nothing here
// touches stock.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcart "github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
)

var ErrRepository = errors.New("cart: repository failure")

type Service struct {
	store   store.Store
	pricing domorder.Pricing
}

func NewService(st store.Store, pricing domorder.Pricing) *Service {
	return &Service{store: st, pricing: pricing}
}

// Summary is the cart with the totals checkout would charge before any coupon.
type Summary struct {
	Lines    []domcart.Line
	Totals   domorder.Totals
	Currency string
}

func (s *Service) AddItem(ctx context.Context, item domcart.Item) error {
	switch {
	case item.UserID == "":
		return application.Invalid("user_id", "is required")
	case item.ProductID == "":
		return application.Invalid("product_id", "is required")
	case item.Quantity <= 0:
		return &application.ValidationError{Field: "quantity", Reason: "must be greater than zero", Err: domcart.ErrInvalidQuantity}
	}
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Carts().AddItem(ctx, item)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dominv.ErrNotFound):
		return &application.ValidationError{Field: "product_id", Reason: "unknown product or variant", Err: err}
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}

func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	if userID == "" {
		return nil, application.Invalid("user_id", "is required")
	}
	var snap domcart.Snapshot
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		snap, err = tx.Carts().Snapshot(ctx, userID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	sum := &Summary{Lines: snap.Lines(), Currency: s.pricing.Currency}
	if !snap.Empty() {
		sum.Totals = s.pricing.Quote(snap.Subtotal(), 0)
	}
	return sum, nil
}
