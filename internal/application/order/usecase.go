package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	useCaseOrderCancel = "order.cancel"
	useCaseOrderStatus = "order.advance_status"
	useCaseOrderTrack  = "order.update_tracking"
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
)

// CreateOrderUseCase turns the user's cart into a pending order. Stock decrements,
// coupon redemption, the order rows and the cart purge commit together or not at all.
type CreateOrderUseCase struct {
	store     store.Store
	pricing   domain.Pricing
	ids       application.IDGenerator
	idem      IdempotencyStore
	publisher domoutbox.Publisher

	in         *application.Instruments
	rejections observability.Counter // stock_rejections_total{reason}
}

func NewCreateOrderUseCase(
	st store.Store,
	pricing domain.Pricing,
	ids application.IDGenerator,
	idem IdempotencyStore,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &CreateOrderUseCase{
		store:      st,
		pricing:    pricing,
		ids:        ids,
		idem:       idem,
		publisher:  publisher,
		in:         application.NewInstruments(tel, orderService),
		rejections: tel.Metrics().Counter(observability.MStockRejections),
	}
}

type CreateOrderInput struct {
	IdempotencyKey  string
	UserID          string
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	CouponCode      string
	Notes           string
}

type CreateOrderResult struct {
	Order *domain.Order
	// Replayed is true when the idempotency key matched an earlier order.
	Replayed bool
}

func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseOrderCreate, "CreateOrder",
		attribute.String("order.user_id", cmd.UserID),
		attribute.String("order.payment_method", string(cmd.PaymentMethod)),
	)
	defer func() { run.End(err) }()

	if cmd.UserID == "" {
		run.Reject("USER_ID_REQUIRED")
		return nil, application.Invalid("user_id", "is required")
	}
	if !cmd.PaymentMethod.Valid() {
		run.Reject("PAYMENT_METHOD_INVALID")
		return nil, &application.ValidationError{
			Field:  "payment_method",
			Reason: fmt.Sprintf("unsupported value %q", cmd.PaymentMethod),
			Err:    domain.ErrInvalidPaymentMethod,
		}
	}
	if field := cmd.ShippingAddress.Validate(); field != "" {
		run.Reject("ADDRESS_INVALID")
		return nil, &application.ValidationError{Field: field, Reason: "is required", Err: domain.ErrInvalidAddress}
	}
	if err := ctx.Err(); err != nil {
		run.Fail("CONTEXT_CANCELED")
		return nil, err
	}

	if cmd.IdempotencyKey != "" && uc.idem != nil {
		key := cmd.UserID + ":" + cmd.IdempotencyKey
		existingID, rerr := uc.idem.Reserve(ctx, key)
		switch {
		case errors.Is(rerr, domain.ErrRequestInFlight):
			run.Reject("REQUEST_IN_FLIGHT")
			return nil, rerr
		case rerr != nil:
			run.Fail("IDEMPOTENCY_RESERVE_FAILED")
			return nil, fmt.Errorf("order: idempotency: %w", rerr)
		case existingID != "":
			existing, gerr := uc.load(ctx, existingID)
			if gerr != nil {
				run.Fail("IDEMPOTENCY_LOOKUP_FAILED")
				return nil, wrapRepositoryError(gerr)
			}
			run.Status("IDEMPOTENT_REPLAY")
			run.Span.AddEvent("order.idempotent_replay",
				trace.WithAttributes(attribute.String("order.id", existing.ID)),
			)
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		}

		var created *domain.Order
		defer func() {
			if err != nil || created == nil {
				if rerr := uc.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
					run.Log.Warn("idempotency_release_failed", observability.F("error", rerr.Error()))
				}
				return
			}
			if cerr := uc.idem.Complete(context.WithoutCancel(ctx), key, created.ID); cerr != nil {
				run.Log.Warn("idempotency_complete_failed", observability.F("error", cerr.Error()))
			}
		}()
		res, cerr := uc.create(ctx, run, cmd)
		if cerr != nil {
			return nil, cerr
		}
		created = res.Order
		return res, nil
	}

	return uc.create(ctx, run, cmd)
}

func (uc *CreateOrderUseCase) create(ctx context.Context, run *application.Run, cmd CreateOrderInput) (*CreateOrderResult, error) {
	now := time.Now().UTC()
	code := strings.ToUpper(strings.TrimSpace(cmd.CouponCode))

	var created *domain.Order
	err := uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		snap, err := tx.Carts().Snapshot(ctx, cmd.UserID, now)
		if err != nil {
			return err
		}
		if snap.Empty() {
			return domain.ErrEmptyCart
		}
		if err := inventory.ReserveAll(ctx, tx.Stock(), snap.Requests()); err != nil {
			return err
		}

		var discount int64
		if code != "" {
			c, err := tx.Coupons().Get(ctx, code)
			if err != nil {
				return err
			}
			if discount, err = c.Discount(snap.Subtotal(), now); err != nil {
				return err
			}
			if err := tx.Coupons().Redeem(ctx, code); err != nil {
				return err
			}
		}

		o, err := domain.New(uc.ids.NewID(), uc.ids.NewID, domain.Draft{
			Snapshot:        snap,
			ShippingAddress: cmd.ShippingAddress,
			PaymentMethod:   cmd.PaymentMethod,
			CouponCode:      code,
			Notes:           cmd.Notes,
			Currency:        uc.pricing.Currency,
			Totals:          uc.pricing.Quote(snap.Subtotal(), discount),
		})
		if err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return err
		}
		if err := tx.Carts().Clear(ctx, cmd.UserID); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, uc.classify(run, err)
	}

	run.Publish(ctx, uc.publisher, domain.NewOrderCreatedEvent(created))

	run.With("order_id", created.ID)
	run.Span.SetAttributes(
		attribute.String("order.id", created.ID),
		attribute.String("order.status", string(created.Status)),
		attribute.Int64("order.total", created.Totals.Total),
	)
	run.Span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", created.ID)))
	return &CreateOrderResult{Order: created}, nil
}

func (uc *CreateOrderUseCase) classify(run *application.Run, err error) error {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		run.Reject("INSUFFICIENT_STOCK")
		run.With("stock_unit", short.Unit.String())
		uc.rejections.Add(1, observability.L("reason", "insufficient_stock"))
		return err
	case errors.Is(err, domain.ErrEmptyCart):
		run.Reject("EMPTY_CART")
		return err
	case errors.Is(err, coupon.ErrExhausted):
		run.Reject("COUPON_EXHAUSTED")
		return err
	case errors.Is(err, coupon.ErrNotFound), errors.Is(err, coupon.ErrNotActive), errors.Is(err, coupon.ErrMinimumNotMet):
		run.Reject("COUPON_REJECTED")
		return &application.ValidationError{Field: "coupon_code", Reason: err.Error(), Err: err}
	case errors.Is(err, inventory.ErrNotFound):
		run.Reject("PRODUCT_NOT_FOUND")
		uc.rejections.Add(1, observability.L("reason", "unknown_unit"))
		return &application.ValidationError{Field: "items", Reason: err.Error(), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Fail("CONTEXT_CANCELED")
		return err
	}
	run.Fail("ORDER_PERSIST_FAILED")
	return wrapRepositoryError(err)
}

func (uc *CreateOrderUseCase) load(ctx context.Context, id string) (*domain.Order, error) {
	var o *domain.Order
	err := uc.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	return o, err
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
