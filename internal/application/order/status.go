package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// AdvanceStatusUseCase is the operator's fulfilment control.
type AdvanceStatusUseCase struct {
	store     store.Store
	publisher domoutbox.Publisher
	in        *application.Instruments
}

func NewAdvanceStatusUseCase(st store.Store, publisher domoutbox.Publisher, tel observability.Observability) *AdvanceStatusUseCase {
	return &AdvanceStatusUseCase{store: st, publisher: publisher, in: application.NewInstruments(tel, orderService)}
}

type AdvanceStatusInput struct {
	OrderID string
	Status  domain.Status
}

type StatusResult struct {
	Order   *domain.Order
	Changed bool
}

func (uc *AdvanceStatusUseCase) Execute(ctx context.Context, cmd AdvanceStatusInput) (_ *StatusResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseOrderStatus, "AdvanceStatus",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.target_status", string(cmd.Status)),
	)
	defer func() { run.End(err) }()

	switch cmd.Status {
	case domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered:
	default:
		run.Reject("STATUS_INVALID")
		return nil, application.Invalid("status", "must be one of processing, shipped, delivered")
	}

	res, from, err := mutate(ctx, uc.store, cmd.OrderID, func(o *domain.Order, now time.Time) (bool, error) {
		return o.Advance(cmd.Status, now)
	})
	if err != nil {
		return nil, classifyMutation(run, err)
	}
	if res.Changed {
		run.Publish(ctx, uc.publisher, domain.NewOrderStatusChangedEvent(res.Order, from))
	} else {
		run.Status("NO_CHANGE")
	}
	return res, nil
}

// UpdateTrackingUseCase records carrier data; a processing order ships with it.
type UpdateTrackingUseCase struct {
	store     store.Store
	publisher domoutbox.Publisher
	in        *application.Instruments
}

func NewUpdateTrackingUseCase(st store.Store, publisher domoutbox.Publisher, tel observability.Observability) *UpdateTrackingUseCase {
	return &UpdateTrackingUseCase{store: st, publisher: publisher, in: application.NewInstruments(tel, orderService)}
}

type UpdateTrackingInput struct {
	OrderID        string
	TrackingNumber string
	Carrier        string
}

func (uc *UpdateTrackingUseCase) Execute(ctx context.Context, cmd UpdateTrackingInput) (_ *StatusResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseOrderTrack, "UpdateTracking",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { run.End(err) }()

	number := strings.TrimSpace(cmd.TrackingNumber)
	if number == "" {
		run.Reject("TRACKING_NUMBER_REQUIRED")
		return nil, application.Invalid("tracking_number", "is required")
	}

	res, from, err := mutate(ctx, uc.store, cmd.OrderID, func(o *domain.Order, now time.Time) (bool, error) {
		return o.SetTracking(number, strings.TrimSpace(cmd.Carrier), now)
	})
	if err != nil {
		return nil, classifyMutation(run, err)
	}
	if res.Changed {
		run.Publish(ctx, uc.publisher, domain.NewOrderStatusChangedEvent(res.Order, from))
	}
	return res, nil
}

// mutate locks the order, applies step and persists the result. The row is written
// even when the status did not change so tracking edits stick.
func mutate(ctx context.Context, st store.Store, orderID string, step func(*domain.Order, time.Time) (bool, error)) (*StatusResult, domain.Status, error) {
	if orderID == "" {
		return nil, "", application.Invalid("order_id", "is required")
	}
	var (
		res  *StatusResult
		from domain.Status
	)
	now := time.Now().UTC()
	err := st.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Lock(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		before := *o
		changed, err := step(o, now)
		if err != nil {
			return err
		}
		if changed || before.TrackingNumber != o.TrackingNumber || before.Carrier != o.Carrier {
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
		}
		res = &StatusResult{Order: o, Changed: changed}
		return nil
	})
	return res, from, err
}

func classifyMutation(run *application.Run, err error) error {
	switch {
	case errors.Is(err, application.ErrValidation):
		run.Reject("VALIDATION_FAILED")
		return err
	case errors.Is(err, domain.ErrInvalidStateTransition):
		run.Reject("INVALID_TRANSITION")
		return err
	case errors.Is(err, domain.ErrNotFound):
		run.Reject("ORDER_NOT_FOUND")
		return ErrNotFound
	}
	run.Fail("ORDER_UPDATE_FAILED")
	return wrapRepositoryError(err)
}
