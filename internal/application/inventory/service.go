package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
)

// Service answers stock level queries.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

func (s *Service) Available(ctx context.Context, productID, variantID string) (int, error) {
	if productID == "" {
		return 0, application.Invalid("product_id", "is required")
	}
	var n int
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.Stock().Available(ctx, dominv.Unit{ProductID: productID, VariantID: variantID})
		return err
	})
	if err != nil && !errors.Is(err, dominv.ErrNotFound) {
		return 0, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	return n, err
}
