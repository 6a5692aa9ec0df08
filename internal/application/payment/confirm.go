package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// ConfirmUseCase is the buyer-initiated capture: the client returns from the provider
// and asks us to confirm or capture. It converges with the webhook path through settle.
type ConfirmUseCase struct {
	store     store.Store
	registry  *dompay.Registry
	publisher domoutbox.Publisher
	settler   settler
	in        *application.Instruments
}

func NewConfirmUseCase(
	st store.Store,
	registry *dompay.Registry,
	ids application.IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *ConfirmUseCase {
	return &ConfirmUseCase{
		store:     st,
		registry:  registry,
		publisher: publisher,
		settler:   settler{ids: ids},
		in:        application.NewInstruments(tel, paymentService),
	}
}

type ConfirmInput struct {
	Provider   dompay.Provider
	ExternalID string
	// OrderID, when set, must be the order the payment was created for.
	OrderID string
	UserID  string
}

type ConfirmResult struct {
	Outcome Outcome
	Order   *domorder.Order
	Payment *dompay.Payment
}

func (uc *ConfirmUseCase) Execute(ctx context.Context, cmd ConfirmInput) (_ *ConfirmResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseConfirm, "ConfirmPayment",
		attribute.String("payment.provider", string(cmd.Provider)),
		attribute.String("payment.external_id", cmd.ExternalID),
	)
	defer func() { run.End(err) }()

	if cmd.ExternalID == "" {
		run.Reject("EXTERNAL_ID_REQUIRED")
		return nil, application.Invalid("payment_id", "is required")
	}

	var (
		p *dompay.Payment
		o *domorder.Order
	)
	err = uc.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if p, err = tx.Payments().FindByExternalID(ctx, cmd.Provider, cmd.ExternalID); err != nil {
			return err
		}
		o, err = tx.Orders().Get(ctx, p.OrderID)
		return err
	})
	if err != nil {
		run.Reject("PAYMENT_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if cmd.UserID != "" && o.UserID != cmd.UserID {
		run.Reject("PAYMENT_LOOKUP_FAILED")
		return nil, dompay.ErrNotFound
	}
	if cmd.OrderID != "" && cmd.OrderID != o.ID {
		run.Reject("ORDER_MISMATCH")
		return nil, dompay.ErrOrderMismatch
	}
	run.With("order_id", o.ID)
	run.With("payment_id", p.ID)

	if p.Status.Settled() {
		run.Status("ALREADY_SETTLED")
		return &ConfirmResult{Outcome: OutcomeDuplicate, Order: o, Payment: p}, nil
	}

	gw, err := uc.registry.Gateway(cmd.Provider)
	if err != nil {
		run.Reject("PROVIDER_NOT_CONFIGURED")
		return nil, err
	}
	res, err := gw.Confirm(ctx, cmd.ExternalID, o)
	if err != nil {
		switch {
		case errors.Is(err, dompay.ErrNotCompleted):
			run.Reject("PAYMENT_NOT_COMPLETED")
		case errors.Is(err, dompay.ErrOrderMismatch):
			run.Reject("ORDER_MISMATCH")
		default:
			run.Fail("PROVIDER_CONFIRM_FAILED")
		}
		return nil, err
	}

	meta := map[string]string{metadataConfirmSource: "client"}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	st := settlement{
		Provider:   cmd.Provider,
		Kind:       dompay.EventSucceeded,
		ExternalID: cmd.ExternalID,
		OrderID:    o.ID,
		Amount:     res.Amount,
		Currency:   res.Currency,
		Reference:  res.Reference,
		Metadata:   meta,
	}
	var out *settleResult
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = uc.settler.apply(ctx, tx, st, run.Log)
		return err
	})
	if err != nil {
		run.Fail("SETTLE_FAILED")
		return nil, wrapRepositoryError(err)
	}

	run.Status("SETTLE_" + strings.ToUpper(string(out.Outcome)))
	run.Publish(ctx, uc.publisher, out.Events...)
	return &ConfirmResult{Outcome: out.Outcome, Order: out.Order, Payment: out.Payment}, nil
}
