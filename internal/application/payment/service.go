package payment

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
)

const maxPageSize = 100

// HistoryService answers payment reads: a user's history, newest first, and a
// single payment with its refunds.
type HistoryService struct {
	store store.Store
}

func NewHistoryService(st store.Store) *HistoryService {
	return &HistoryService{store: st}
}

func (s *HistoryService) List(ctx context.Context, userID string, limit, offset int) ([]*dompay.Payment, error) {
	if userID == "" {
		return nil, application.Invalid("user_id", "is required")
	}
	if offset < 0 {
		return nil, application.Invalid("offset", "must not be negative")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var out []*dompay.Payment
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Payments().ListByUser(ctx, userID, limit, offset)
		return err
	})
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return out, nil
}

// Detail is a payment with every refund recorded against it.
type Detail struct {
	Payment *dompay.Payment
	Refunds []*dompay.Refund
}

// Get returns ErrNotFound for another user's payment unless admin is set.
func (s *HistoryService) Get(ctx context.Context, paymentID, userID string, admin bool) (*Detail, error) {
	if paymentID == "" {
		return nil, application.Invalid("payment_id", "is required")
	}
	out := &Detail{}
	err := s.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Payments().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if !admin && p.UserID != userID {
			return dompay.ErrNotFound
		}
		out.Payment = p
		out.Refunds, err = tx.Refunds().ListByPayment(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return out, nil
}
