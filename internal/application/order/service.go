package order

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
)

const maxPageSize = 100

// QueryService serves order reads. Users only see their own orders.
type QueryService struct {
	store store.Store
}

func NewQueryService(st store.Store) *QueryService {
	return &QueryService{store: st}
}

func (s *QueryService) Get(ctx context.Context, id, userID string, admin bool) (*domain.Order, error) {
	if id == "" {
		return nil, application.Invalid("order_id", "is required")
	}
	var o *domain.Order
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	if !admin && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *QueryService) List(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	if userID == "" {
		return nil, application.Invalid("user_id", "is required")
	}
	if offset < 0 {
		return nil, application.Invalid("offset", "must not be negative")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var out []*domain.Order
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Orders().ListByUser(ctx, userID, limit, offset)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, wrapRepositoryError(err)
	}
	return out, nil
}
