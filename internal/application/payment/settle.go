package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Outcome is what settling a provider result did to local state.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
)

// settlement is a provider result in local vocabulary, from either the synchronous
// confirm call or a verified webhook.
type settlement struct {
	Provider      dompay.Provider
	Kind          dompay.EventKind
	ExternalID    string
	OrderID       string
	Amount        int64
	Currency      string
	Reference     string
	FailureReason string
	Metadata      map[string]string
}

type settleResult struct {
	Outcome Outcome
	Order   *domorder.Order
	Payment *dompay.Payment
	Events  []domoutbox.Event
}

// settler applies settlements. Both the confirm and webhook paths go through it so
// they converge on the same state no matter which arrives first.
type settler struct {
	ids application.IDGenerator
}

// apply must run inside store.Atomic. It locks the order before touching the payment.
func (s settler) apply(ctx context.Context, tx store.Tx, st settlement, log observability.Logger) (*settleResult, error) {
	if st.Kind == dompay.EventIgnored {
		return &settleResult{Outcome: OutcomeIgnored}, nil
	}

	p, err := tx.Payments().FindByExternalID(ctx, st.Provider, st.ExternalID)
	switch {
	case errors.Is(err, dompay.ErrNotFound):
		if st.OrderID == "" || st.Kind != dompay.EventSucceeded {
			return &settleResult{Outcome: OutcomeUnmatched}, nil
		}
		p, err = s.adopt(ctx, tx, st)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return &settleResult{Outcome: OutcomeUnmatched}, nil
		}
	case err != nil:
		return nil, fmt.Errorf("payment: find by external id: %w", err)
	}

	o, err := tx.Orders().Lock(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	// Re-read under the order lock so concurrent settlements see each other.
	if p, err = tx.Payments().Get(ctx, p.ID); err != nil {
		return nil, err
	}
	if st.OrderID != "" && st.OrderID != p.OrderID {
		log.Warn("payment_order_mismatch",
			observability.F("payment_id", p.ID),
			observability.F("order_id", p.OrderID),
			observability.F("claimed_order_id", st.OrderID),
		)
	}

	now := time.Now().UTC()
	res := &settleResult{Order: o, Payment: p}
	switch st.Kind {
	case dompay.EventSucceeded:
		return s.succeed(ctx, tx, st, res, now, log)
	case dompay.EventFailed, dompay.EventCancelled:
		return s.fail(ctx, tx, st, res, now, log)
	}
	res.Outcome = OutcomeIgnored
	return res, nil
}

func (s settler) succeed(ctx context.Context, tx store.Tx, st settlement, res *settleResult, now time.Time, log observability.Logger) (*settleResult, error) {
	p, o := res.Payment, res.Order
	if p.Status.Settled() {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	amountOff := st.Amount > 0 && st.Amount != p.Amount
	currencyOff := st.Currency != "" && !strings.EqualFold(st.Currency, p.Currency)
	if amountOff || currencyOff {
		log.Error("payment_amount_mismatch",
			observability.F("payment_id", p.ID),
			observability.F("expected", p.Amount),
			observability.F("expected_currency", p.Currency),
			observability.F("received", st.Amount),
			observability.F("received_currency", st.Currency),
		)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	settled, err := tx.Payments().FindSettledByOrder(ctx, o.ID)
	switch {
	case err == nil && settled.ID != p.ID:
		// A second provider capture for an already paid order needs an operator refund.
		log.Warn("payment_second_capture",
			observability.F("order_id", o.ID),
			observability.F("payment_id", p.ID),
			observability.F("settled_payment_id", settled.ID),
		)
		p.SetMeta("second_capture", "true")
		p.SetMeta("second_capture_reference", st.Reference)
		p.UpdatedAt = now
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeDuplicate
		return res, nil
	case err != nil && !errors.Is(err, dompay.ErrNotFound):
		return nil, err
	}

	p.Complete(st.Reference, now)
	for k, v := range st.Metadata {
		p.SetMeta(k, v)
	}
	if err := tx.Payments().Update(ctx, p); err != nil {
		return nil, err
	}
	res.Outcome = OutcomeApplied
	res.Events = append(res.Events, dompay.NewPaymentCompletedEvent(p))

	changed, err := o.PaymentSucceeded(now)
	switch {
	case errors.Is(err, domorder.ErrInvalidStateTransition):
		// Money arrived for an order that can no longer be confirmed, e.g. cancelled.
		log.Warn("payment_late_success",
			observability.F("order_id", o.ID),
			observability.F("order_status", string(o.Status)),
			observability.F("payment_id", p.ID),
		)
		return res, nil
	case err != nil:
		return nil, err
	}
	if changed {
		if err := tx.Orders().Update(ctx, o); err != nil {
			return nil, err
		}
		res.Events = append(res.Events, domorder.NewOrderConfirmedEvent(o, p.ID, string(p.Provider)))
	}
	return res, nil
}

func (s settler) fail(ctx context.Context, tx store.Tx, st settlement, res *settleResult, now time.Time, log observability.Logger) (*settleResult, error) {
	p, o := res.Payment, res.Order
	reason := st.FailureReason
	if reason == "" {
		reason = string(st.Kind)
	}

	var changed bool
	if st.Kind == dompay.EventCancelled {
		changed = p.Cancel(reason, now)
	} else {
		changed = p.Fail(reason, now)
	}
	if !changed {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	if err := tx.Payments().Update(ctx, p); err != nil {
		return nil, err
	}
	res.Outcome = OutcomeApplied

	// Another payment for the order may still succeed; only a pending order fails.
	orderChanged, err := o.PaymentFailed(reason, now)
	switch {
	case errors.Is(err, domorder.ErrInvalidStateTransition):
		log.Debug("payment_failure_not_applied",
			observability.F("order_id", o.ID),
			observability.F("order_status", string(o.Status)),
		)
		return res, nil
	case err != nil:
		return nil, err
	}
	if orderChanged {
		if err := tx.Orders().Update(ctx, o); err != nil {
			return nil, err
		}
		res.Events = append(res.Events, domorder.NewOrderPaymentFailedEvent(o))
	}
	return res, nil
}

// adopt records a provider payment we never created a handle for, as happens when a
// hosted checkout spawns its own intent. The order id comes from provider metadata.
func (s settler) adopt(ctx context.Context, tx store.Tx, st settlement) (*dompay.Payment, error) {
	o, err := tx.Orders().Get(ctx, st.OrderID)
	if errors.Is(err, domorder.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Payments().FindSettledByOrder(ctx, o.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, dompay.ErrNotFound) {
		return nil, err
	}
	currency := st.Currency
	if currency == "" {
		currency = o.Currency
	}
	p := dompay.New(s.ids.NewID(), o.ID, o.UserID, st.Provider, st.ExternalID, o.Totals.Total, currency)
	p.SetMeta("source", "webhook")
	if err := tx.Payments().Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
