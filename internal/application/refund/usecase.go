// Package refund unwinds captured payments.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	refundService = "refund-service"
	useCaseRefund = "payment.refund"

	// inFlightLease is how long a pending refund with no recorded attempt is
	// assumed to still be at the provider.
	inFlightLease = 2 * time.Minute
)

var ErrRepository = errors.New("refund: repository failure")

// UseCase runs a refund in three steps. A pending refund is reserved under the order
// lock so concurrent refunds can never exceed the payment; the provider is called
// outside any transaction; the outcome is then applied under the lock again.
// Only a definitive provider refusal frees the reservation. Timeouts and retryable
// failures leave it pending, and the next request for that payment resumes it under
// the same refund id, which is also the provider idempotency key.
// Refunds never return stock to the ledger.
type UseCase struct {
	store     store.Store
	registry  *dompay.Registry
	ids       application.IDGenerator
	publisher domoutbox.Publisher
	in        *application.Instruments
}

func NewUseCase(
	st store.Store,
	registry *dompay.Registry,
	ids application.IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *UseCase {
	return &UseCase{
		store:     st,
		registry:  registry,
		ids:       ids,
		publisher: publisher,
		in:        application.NewInstruments(tel, refundService),
	}
}

type Input struct {
	PaymentID string
	// Amount in minor units; zero refunds whatever remains.
	Amount      int64
	Reason      string
	ProcessedBy string
}

type Result struct {
	Refund  *dompay.Refund
	Payment *dompay.Payment
	Order   *domorder.Order
}

func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseRefund, "RefundPayment",
		attribute.String("payment.id", cmd.PaymentID),
		attribute.Int64("refund.amount_requested", cmd.Amount),
	)
	defer func() { run.End(err) }()

	if cmd.PaymentID == "" {
		run.Reject("PAYMENT_ID_REQUIRED")
		return nil, application.Invalid("payment_id", "is required")
	}
	if cmd.Amount < 0 {
		run.Reject("AMOUNT_INVALID")
		return nil, application.Invalid("amount", "must not be negative")
	}

	var p *dompay.Payment
	err = uc.store.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.Payments().Get(ctx, cmd.PaymentID)
		return err
	})
	if err != nil {
		run.Reject("PAYMENT_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	gw, err := uc.registry.Gateway(p.Provider)
	if err != nil {
		run.Reject("PROVIDER_NOT_CONFIGURED")
		return nil, err
	}
	refunder, ok := gw.(dompay.Refunder)
	if !ok {
		run.Reject("PROVIDER_CANNOT_REFUND")
		return nil, fmt.Errorf("%w: %s does not support refunds", dompay.ErrUnsupportedProvider, p.Provider)
	}

	rf, resumed, err := uc.reserve(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, dompay.ErrNotRefundable), errors.Is(err, dompay.ErrRefundExceedsAmount),
			errors.Is(err, domorder.ErrInvalidStateTransition), errors.Is(err, dompay.ErrConflict):
			run.Reject("REFUND_REJECTED")
			return nil, err
		}
		run.Fail("REFUND_RESERVE_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.With("refund_id", rf.ID)
	run.With("order_id", rf.OrderID)
	if resumed {
		run.Log.Info("refund_resumed", observability.F("amount", rf.Amount))
	}

	providerRes, perr := refunder.Refund(ctx, dompay.RefundRequest{
		RefundID: rf.ID,
		Payment:  p,
		Amount:   rf.Amount,
		Reason:   rf.Reason,
	})

	// The provider already acted (or refused); record it even if the caller went away.
	settleCtx := context.WithoutCancel(ctx)
	if perr != nil {
		if !definitive(perr) {
			if serr := uc.stall(settleCtx, rf, perr); serr != nil {
				run.Log.Error("refund_stall_record_failed", observability.F("error", serr.Error()))
			}
			run.Log.Warn("refund_left_pending", observability.F("error", perr.Error()))
			run.Fail("PROVIDER_REFUND_UNCERTAIN")
			return nil, uncertain(p.Provider, perr)
		}
		if ferr := uc.fail(settleCtx, rf, perr); ferr != nil {
			run.Log.Error("refund_fail_record_failed",
				observability.F("refund_id", rf.ID),
				observability.F("error", ferr.Error()),
			)
		}
		run.Fail("PROVIDER_REFUND_FAILED")
		return nil, perr
	}

	res, err := uc.complete(settleCtx, rf, providerRes, run.Log)
	if err != nil {
		run.Fail("REFUND_APPLY_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if res.already {
		run.Status("REFUND_ALREADY_APPLIED")
		return &res.Result, nil
	}

	events := []domoutbox.Event{dompay.NewPaymentRefundedEvent(res.Payment, res.Refund)}
	if res.orderFrom != res.Order.Status {
		events = append(events, domorder.NewOrderStatusChangedEvent(res.Order, res.orderFrom))
	}
	run.Publish(ctx, uc.publisher, events...)
	run.Span.SetAttributes(
		attribute.String("refund.id", rf.ID),
		attribute.String("payment.status", string(res.Payment.Status)),
	)
	return &res.Result, nil
}

// reserve inserts a pending refund, or hands back the payment's existing pending
// refund when the request matches it so the provider sees the same idempotency key.
func (uc *UseCase) reserve(ctx context.Context, cmd Input) (rf *dompay.Refund, resumed bool, err error) {
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Payments().Get(ctx, cmd.PaymentID)
		if err != nil {
			return err
		}
		o, err := tx.Orders().Lock(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if p, err = tx.Payments().Get(ctx, cmd.PaymentID); err != nil {
			return err
		}
		if p.Status != dompay.StatusCompleted && p.Status != dompay.StatusPartiallyRefunded {
			return fmt.Errorf("%w: payment is %s", dompay.ErrNotRefundable, p.Status)
		}

		refunds, err := tx.Refunds().ListByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, r := range refunds {
			if r.Status != dompay.RefundPending {
				continue
			}
			if !r.Resumable(time.Now(), inFlightLease) {
				return fmt.Errorf("%w: refund %s is in flight", dompay.ErrConflict, r.ID)
			}
			if cmd.Amount != 0 && cmd.Amount != r.Amount {
				return fmt.Errorf("%w: refund %s of %d is still pending", dompay.ErrConflict, r.ID, r.Amount)
			}
			rf, resumed = r, true
			return nil
		}

		reserved, err := tx.Refunds().SumActive(ctx, p.ID)
		if err != nil {
			return err
		}
		remaining := p.Amount - reserved
		amount := cmd.Amount
		if amount == 0 {
			amount = remaining
		}
		if amount <= 0 || amount > remaining {
			return fmt.Errorf("%w: requested %d, refundable %d of %d", dompay.ErrRefundExceedsAmount, amount, remaining, p.Amount)
		}

		// A cancelled order still gets its money back; any other state must accept a refund.
		if o.Status != domorder.StatusCancelled {
			trial := o.Clone()
			if _, err := trial.Refund(reserved+amount >= p.Amount, time.Now()); err != nil {
				return err
			}
		}

		rf = dompay.NewRefund(uc.ids.NewID(), p, amount, cmd.Reason, cmd.ProcessedBy)
		return tx.Refunds().Insert(ctx, rf)
	})
	return rf, resumed, err
}

// definitive reports whether the provider certainly did not refund. Anything else,
// including a timeout, may have reached the provider.
func definitive(err error) bool {
	var perr *dompay.ProviderError
	if errors.As(err, &perr) {
		return !perr.Retryable
	}
	return errors.Is(err, dompay.ErrNotRefundable) || errors.Is(err, dompay.ErrUnsupportedProvider)
}

func uncertain(provider dompay.Provider, err error) error {
	var perr *dompay.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	return &dompay.ProviderError{Provider: provider, Op: "refund", Retryable: true, Err: err}
}

func (uc *UseCase) fail(ctx context.Context, rf *dompay.Refund, cause error) error {
	return uc.whilePending(ctx, rf, func() { rf.Fail(cause.Error(), time.Now()) })
}

func (uc *UseCase) stall(ctx context.Context, rf *dompay.Refund, cause error) error {
	return uc.whilePending(ctx, rf, func() { rf.Stall(cause.Error(), time.Now()) })
}

// whilePending applies mutate and saves rf unless another request already settled it.
func (uc *UseCase) whilePending(ctx context.Context, rf *dompay.Refund, mutate func()) error {
	return uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Orders().Lock(ctx, rf.OrderID); err != nil {
			return err
		}
		current, err := findRefund(ctx, tx, rf)
		if err != nil || current.Status != dompay.RefundPending {
			return err
		}
		mutate()
		return tx.Refunds().Update(ctx, rf)
	})
}

func findRefund(ctx context.Context, tx store.Tx, rf *dompay.Refund) (*dompay.Refund, error) {
	refunds, err := tx.Refunds().ListByPayment(ctx, rf.PaymentID)
	if err != nil {
		return nil, err
	}
	for _, r := range refunds {
		if r.ID == rf.ID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: refund %s", dompay.ErrNotFound, rf.ID)
}

type applied struct {
	Result
	orderFrom domorder.Status
	// already is set when a concurrent resume completed the refund first.
	already bool
}

func (uc *UseCase) complete(ctx context.Context, rf *dompay.Refund, pr *dompay.RefundResult, log observability.Logger) (*applied, error) {
	out := &applied{}
	err := uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Lock(ctx, rf.OrderID)
		if err != nil {
			return err
		}
		p, err := tx.Payments().Get(ctx, rf.PaymentID)
		if err != nil {
			return err
		}
		current, err := findRefund(ctx, tx, rf)
		if err != nil {
			return err
		}
		if current.Status == dompay.RefundCompleted {
			out.already = true
			out.Result = Result{Refund: current, Payment: p, Order: o}
			return nil
		}

		now := time.Now().UTC()
		ref := ""
		if pr != nil {
			ref = pr.Reference
		}
		rf.Complete(ref, now)
		if err := tx.Refunds().Update(ctx, rf); err != nil {
			return err
		}

		refunds, err := tx.Refunds().ListByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		var refunded int64
		for _, r := range refunds {
			if r.Status == dompay.RefundCompleted {
				refunded += r.Amount
			}
		}
		p.ApplyRefunded(refunded, now)
		if err := tx.Payments().Update(ctx, p); err != nil {
			return err
		}

		out.orderFrom = o.Status
		changed, err := o.Refund(p.Status == dompay.StatusRefunded, now)
		switch {
		case errors.Is(err, domorder.ErrInvalidStateTransition):
			log.Warn("refund_order_status_unchanged",
				observability.F("order_id", o.ID),
				observability.F("order_status", string(o.Status)),
			)
		case err != nil:
			return err
		case changed:
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
		}
		out.Result = Result{Refund: rf, Payment: p, Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dompay.ErrNotFound), errors.Is(err, domorder.ErrNotFound):
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}
