// Package notification turns domain events into customer notifications. Delivery is
// fire-and-forget: a failed send is logged and counted, never retried.
package notification

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	workerService = "notification-worker"
	useCaseNotify = "notification.dispatch"
)

type Notification struct {
	Kind    string
	UserID  string
	OrderID string
	Subject string
	Data    map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Middleware wraps every subscribed handler, e.g. to attach an event-scoped logger.
type Middleware func(eventName string, h domoutbox.Handler) domoutbox.Handler

type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	wrap       Middleware
	in         *application.Instruments
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, wrap Middleware, tel observability.Observability) *Worker {
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		wrap:       wrap,
		in:         application.NewInstruments(tel, workerService),
	}
}

// Events lists the event names the worker reacts to.
func Events() []string {
	return []string{
		domorder.OrderCreatedEvent{}.EventName(),
		domorder.OrderConfirmedEvent{}.EventName(),
		domorder.OrderPaymentFailedEvent{}.EventName(),
		domorder.OrderCancelledEvent{}.EventName(),
		domorder.OrderStatusChangedEvent{}.EventName(),
		dompay.PaymentRefundedEvent{}.EventName(),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	for _, name := range Events() {
		h := domoutbox.Handler(w.Handle)
		if w.wrap != nil {
			h = w.wrap(name, h)
		}
		w.subscriber.Subscribe(name, h)
	}
}

func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) (err error) {
	ctx, run := w.in.Begin(ctx, useCaseNotify, "Notify",
		attribute.String("event", e.EventName()),
	)
	defer func() { run.End(err) }()

	n, ok := render(e)
	if !ok {
		run.Status("IGNORED")
		return nil
	}
	run.With("order_id", n.OrderID)
	if err := w.notifier.Notify(ctx, n); err != nil {
		run.Fail("NOTIFY_FAILED")
		return fmt.Errorf("notification: %s: %w", n.Kind, err)
	}
	return nil
}

func render(e domoutbox.Event) (Notification, bool) {
	switch evt := e.(type) {
	case domorder.OrderCreatedEvent:
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "We received your order",
			Data:    map[string]string{"total": money.Format(evt.Total, evt.Currency), "currency": evt.Currency},
		}, true
	case domorder.OrderConfirmedEvent:
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "Payment received, your order is confirmed",
			Data:    map[string]string{"provider": evt.Provider},
		}, true
	case domorder.OrderPaymentFailedEvent:
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "Your payment did not go through",
			Data:    map[string]string{"reason": evt.Reason},
		}, true
	case domorder.OrderCancelledEvent:
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "Your order was cancelled",
		}, true
	case domorder.OrderStatusChangedEvent:
		data := map[string]string{"from": string(evt.From), "to": string(evt.To)}
		if evt.TrackingNumber != "" {
			data["tracking_number"] = evt.TrackingNumber
			data["carrier"] = evt.Carrier
		}
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "Your order is now " + string(evt.To),
			Data:    data,
		}, true
	case dompay.PaymentRefundedEvent:
		return Notification{
			Kind: evt.EventName(), UserID: evt.UserID, OrderID: evt.OrderID,
			Subject: "Your refund is on its way",
			Data: map[string]string{
				"amount":    money.Format(evt.Amount, evt.Currency),
				"currency":  evt.Currency,
				"refund_id": evt.RefundID,
			},
		}, true
	}
	return Notification{}, false
}
