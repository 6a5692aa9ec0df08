// Package checkout composes order creation and payment handle creation.
package checkout

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	ordapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	payapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.place_order"
)

type (
	OrderCreator   = application.UseCase[ordapp.CreateOrderInput, *ordapp.CreateOrderResult]
	OrderCanceller = application.UseCase[ordapp.CancelOrderInput, *ordapp.CancelOrderResult]
	HandleCreator  = application.UseCase[payapp.CreateHandleInput, *payapp.CreateHandleResult]
)

// UseCase creates the order and, for provider-collected methods, its payment handle.
// When the handle cannot be created the fresh order is cancelled so its stock returns.
type UseCase struct {
	create OrderCreator
	cancel OrderCanceller
	handle HandleCreator
	in     *application.Instruments
}

func NewUseCase(create OrderCreator, cancel OrderCanceller, handle HandleCreator, tel observability.Observability) *UseCase {
	return &UseCase{
		create: create,
		cancel: cancel,
		handle: handle,
		in:     application.NewInstruments(tel, checkoutService),
	}
}

type Input struct {
	Order ordapp.CreateOrderInput
	// Kind overrides the provider's default handle, intent for cards and redirect for wallets.
	Kind dompay.HandleKind
}

type Result struct {
	Order    *domorder.Order
	Replayed bool
	// Payment is nil for offline methods.
	Payment *payapp.CreateHandleResult
}

func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseCheckout, "Checkout",
		attribute.String("order.user_id", cmd.Order.UserID),
		attribute.String("order.payment_method", string(cmd.Order.PaymentMethod)),
	)
	defer func() { run.End(err) }()

	created, err := uc.create.Execute(ctx, cmd.Order)
	if err != nil {
		if errors.Is(err, application.ErrValidation) {
			run.Reject("ORDER_REJECTED")
		} else {
			run.Fail("ORDER_CREATE_FAILED")
		}
		return nil, err
	}
	o := created.Order
	run.With("order_id", o.ID)
	res := &Result{Order: o, Replayed: created.Replayed}

	provider, ok := dompay.ProviderFor(o.PaymentMethod)
	if !ok || o.Status != domorder.StatusPending {
		run.Status("NO_PAYMENT_HANDLE")
		return res, nil
	}
	kind := cmd.Kind
	if kind == "" {
		kind = dompay.HandleIntent
		if provider == dompay.ProviderPayPal {
			kind = dompay.HandleRedirect
		}
	}

	h, err := uc.handle.Execute(ctx, payapp.CreateHandleInput{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Provider: provider,
		Kind:     kind,
	})
	if err != nil {
		run.Fail("PAYMENT_HANDLE_FAILED")
		if created.Replayed {
			return nil, err
		}
		if _, cerr := uc.cancel.Execute(context.WithoutCancel(ctx), ordapp.CancelOrderInput{OrderID: o.ID, UserID: o.UserID}); cerr != nil {
			run.Log.Error("checkout_compensation_failed",
				observability.F("order_id", o.ID),
				observability.F("error", cerr.Error()),
			)
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	res.Payment = h
	return res, nil
}
