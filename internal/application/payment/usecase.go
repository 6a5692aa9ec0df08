package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService        = "payment-service"
	useCaseCreateHandle   = "payment.create_handle"
	useCaseConfirm        = "payment.confirm"
	useCaseReconcile      = "payment.reconcile"
	metadataHandleKind    = "handle_kind"
	metadataConfirmSource = "confirmed_by"
)

var ErrRepository = errors.New("payment: repository failure")

// URLs are the storefront pages a redirect handle returns the buyer to.
type URLs struct {
	Return string
	Cancel string
}

// CreateHandleUseCase asks the order's provider for a payment handle and records a
// pending payment keyed by the provider's external id.
type CreateHandleUseCase struct {
	store    store.Store
	registry *dompay.Registry
	ids      application.IDGenerator
	urls     URLs
	in       *application.Instruments
}

func NewCreateHandleUseCase(
	st store.Store,
	registry *dompay.Registry,
	ids application.IDGenerator,
	urls URLs,
	tel observability.Observability,
) *CreateHandleUseCase {
	return &CreateHandleUseCase{
		store:    st,
		registry: registry,
		ids:      ids,
		urls:     urls,
		in:       application.NewInstruments(tel, paymentService),
	}
}

type CreateHandleInput struct {
	OrderID string
	UserID  string
	// Provider, when set, must match the order's payment method.
	Provider dompay.Provider
	Kind     dompay.HandleKind
}

type CreateHandleResult struct {
	PaymentID string
	Handle    *dompay.Handle
	Amount    int64
	Currency  string
}

func (uc *CreateHandleUseCase) Execute(ctx context.Context, cmd CreateHandleInput) (_ *CreateHandleResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseCreateHandle, "CreatePaymentHandle",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.provider", string(cmd.Provider)),
		attribute.String("payment.handle_kind", string(cmd.Kind)),
	)
	defer func() { run.End(err) }()

	if cmd.OrderID == "" {
		run.Reject("ORDER_ID_REQUIRED")
		return nil, application.Invalid("order_id", "is required")
	}
	if cmd.Kind == "" {
		cmd.Kind = dompay.HandleIntent
	}

	o, err := loadOwnedOrder(ctx, uc.store, cmd.OrderID, cmd.UserID)
	if err != nil {
		run.Reject("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	provider, ok := dompay.ProviderFor(o.PaymentMethod)
	if !ok || (cmd.Provider != "" && cmd.Provider != provider) {
		run.Reject("PROVIDER_MISMATCH")
		return nil, &application.ValidationError{
			Field:  "payment_method",
			Reason: fmt.Sprintf("order is paid by %s", o.PaymentMethod),
			Err:    dompay.ErrUnsupportedProvider,
		}
	}
	if err := dompay.CheckPayable(o); err != nil {
		run.Reject("ORDER_NOT_PAYABLE")
		return nil, err
	}
	gw, err := uc.registry.Gateway(provider)
	if err != nil {
		run.Reject("PROVIDER_NOT_CONFIGURED")
		return nil, err
	}

	handle, err := gw.CreateHandle(ctx, dompay.HandleRequest{
		Order:     o,
		Kind:      cmd.Kind,
		ReturnURL: uc.urls.Return,
		CancelURL: uc.urls.Cancel,
	})
	if err != nil {
		if errors.Is(err, dompay.ErrProvider) {
			run.Fail("PROVIDER_ERROR")
		} else {
			run.Reject("HANDLE_REJECTED")
		}
		return nil, err
	}

	var paymentID string
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.Orders().Lock(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := dompay.CheckPayable(locked); err != nil {
			return err
		}
		p := dompay.New(uc.ids.NewID(), locked.ID, locked.UserID, provider, handle.ExternalID, locked.Totals.Total, locked.Currency)
		p.SetMeta(metadataHandleKind, string(cmd.Kind))
		err = tx.Payments().Insert(ctx, p)
		if errors.Is(err, dompay.ErrConflict) {
			// Providers hand back the same object for a repeated idempotent request.
			existing, ferr := tx.Payments().FindByExternalID(ctx, provider, handle.ExternalID)
			if ferr != nil {
				return err
			}
			paymentID = existing.ID
			return nil
		}
		if err != nil {
			return err
		}
		paymentID = p.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, dompay.ErrInvalidOrderState) {
			run.Reject("ORDER_NOT_PAYABLE")
			return nil, err
		}
		run.Fail("PAYMENT_PERSIST_FAILED")
		return nil, wrapRepositoryError(err)
	}

	run.With("payment_id", paymentID)
	run.Span.SetAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("payment.external_id", handle.ExternalID),
	)
	return &CreateHandleResult{
		PaymentID: paymentID,
		Handle:    handle,
		Amount:    o.Totals.Total,
		Currency:  o.Currency,
	}, nil
}

func loadOwnedOrder(ctx context.Context, st store.Store, orderID, userID string) (*domorder.Order, error) {
	var o *domorder.Order
	err := st.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	if userID != "" && o.UserID != userID {
		return nil, domorder.ErrNotFound
	}
	return o, nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domorder.ErrNotFound), errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, dompay.ErrConflict), errors.Is(err, application.ErrValidation):
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}
