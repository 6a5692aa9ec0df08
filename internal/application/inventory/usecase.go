package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService      = "inventory-service"
	useCaseInventoryStock = "inventory.restock"
)

var ErrRepository = errors.New("inventory: repository failure")

// RestockUseCase returns physical stock to the ledger, e.g. after a refunded order's
// goods come back. Refunds never do this on their own.
type RestockUseCase struct {
	store     store.Store
	publisher domoutbox.Publisher
	in        *application.Instruments
}

func NewRestockUseCase(st store.Store, publisher domoutbox.Publisher, tel observability.Observability) *RestockUseCase {
	return &RestockUseCase{
		store:     st,
		publisher: publisher,
		in:        application.NewInstruments(tel, inventoryService),
	}
}

type RestockLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

type RestockInput struct {
	// OrderID optionally ties the restock to the order the goods came from.
	OrderID string
	Reason  string
	Lines   []RestockLine
}

type RestockResult struct {
	Available map[dominv.Unit]int
}

func (uc *RestockUseCase) Execute(ctx context.Context, cmd RestockInput) (_ *RestockResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseInventoryStock, "Restock",
		attribute.Int("inventory.lines", len(cmd.Lines)),
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { run.End(err) }()

	if len(cmd.Lines) == 0 {
		run.Reject("LINES_REQUIRED")
		return nil, application.Invalid("lines", "at least one line is required")
	}
	restored := make([]dominv.RestoredLine, 0, len(cmd.Lines))
	for i, l := range cmd.Lines {
		if l.ProductID == "" {
			run.Reject("PRODUCT_ID_REQUIRED")
			return nil, application.Invalid(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if l.Quantity <= 0 {
			run.Reject("QUANTITY_INVALID")
			return nil, &application.ValidationError{
				Field:  fmt.Sprintf("lines[%d].quantity", i),
				Reason: "must be greater than zero",
				Err:    dominv.ErrInvalidQuantity,
			}
		}
		restored = append(restored, dominv.RestoredLine{
			Unit:     dominv.Unit{ProductID: l.ProductID, VariantID: l.VariantID},
			Quantity: l.Quantity,
		})
	}

	available := make(map[dominv.Unit]int, len(restored))
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, r := range restored {
			if err := tx.Stock().Restore(ctx, r.Unit, r.Quantity); err != nil {
				return err
			}
		}
		for _, r := range restored {
			n, err := tx.Stock().Available(ctx, r.Unit)
			if err != nil {
				return err
			}
			available[r.Unit] = n
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dominv.ErrNotFound) {
			run.Reject("UNIT_NOT_FOUND")
			return nil, err
		}
		run.Fail("RESTOCK_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "restock"
	}
	run.Publish(ctx, uc.publisher, dominv.NewStockRestoredEvent(cmd.OrderID, reason, restored))
	return &RestockResult{Available: available}, nil
}
