package order

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// CancelOrderUseCase cancels an order that has not entered fulfilment and returns its
// stock to the ledger in the same transaction. It shares the per-order lock with
// payment reconciliation.
type CancelOrderUseCase struct {
	store     store.Store
	publisher domoutbox.Publisher
	in        *application.Instruments
}

func NewCancelOrderUseCase(st store.Store, publisher domoutbox.Publisher, tel observability.Observability) *CancelOrderUseCase {
	return &CancelOrderUseCase{
		store:     st,
		publisher: publisher,
		in:        application.NewInstruments(tel, orderService),
	}
}

type CancelOrderInput struct {
	OrderID string
	UserID  string
	// Admin may cancel any user's order.
	Admin bool
}

type CancelOrderResult struct {
	Order *domain.Order
	// Cancelled is false when the order's state does not allow cancellation or it
	// was already cancelled.
	Cancelled bool
}

func (uc *CancelOrderUseCase) Execute(ctx context.Context, cmd CancelOrderInput) (_ *CancelOrderResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseOrderCancel, "CancelOrder",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { run.End(err) }()

	if cmd.OrderID == "" {
		run.Reject("ORDER_ID_REQUIRED")
		return nil, application.Invalid("order_id", "is required")
	}

	var (
		result   *CancelOrderResult
		previous domain.Status
		restored []inventory.RestoredLine
	)
	now := time.Now().UTC()
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Lock(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !cmd.Admin && o.UserID != cmd.UserID {
			return domain.ErrNotFound
		}
		previous = o.Status

		changed, err := o.Cancel(now)
		if errors.Is(err, domain.ErrInvalidStateTransition) || (err == nil && !changed) {
			result = &CancelOrderResult{Order: o}
			return nil
		}
		if err != nil {
			return err
		}

		reqs := make([]inventory.Request, 0, len(o.Lines))
		for _, l := range o.Lines {
			reqs = append(reqs, inventory.Request{Unit: l.Unit(), ProductName: l.ProductName, Quantity: l.Quantity})
			restored = append(restored, inventory.RestoredLine{Unit: l.Unit(), Quantity: l.Quantity})
		}
		if err := inventory.ReleaseAll(ctx, tx.Stock(), reqs); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		result = &CancelOrderResult{Order: o, Cancelled: true}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			run.Reject("ORDER_NOT_FOUND")
		} else {
			run.Fail("ORDER_CANCEL_FAILED")
		}
		return nil, wrapRepositoryError(err)
	}

	run.With("previous_status", string(previous))
	if !result.Cancelled {
		run.Reject("CANCEL_NOT_ALLOWED")
		return result, nil
	}

	run.Publish(ctx, uc.publisher,
		domain.NewOrderCancelledEvent(result.Order, previous),
		inventory.NewStockRestoredEvent(result.Order.ID, "order_cancelled", restored),
	)
	run.Span.SetAttributes(attribute.String("order.status", string(result.Order.Status)))
	return result, nil
}
