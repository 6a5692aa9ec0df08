package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	got  []notification.Notification
	fail error
}

func (i *inbox) Notify(_ context.Context, n notification.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail != nil {
		return i.fail
	}
	i.got = append(i.got, n)
	return nil
}

func (i *inbox) all() []notification.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]notification.Notification(nil), i.got...)
}

type unrelated struct{}

func (unrelated) EventName() string { return "something.else" }

func TestWorkerNotifiesFromBus(t *testing.T) {
	bus := outbox.NewBus(observability.NopLogger())
	box := &inbox{}
	var wrapped []string
	var mu sync.Mutex
	wrap := func(name string, h domoutbox.Handler) domoutbox.Handler {
		mu.Lock()
		wrapped = append(wrapped, name)
		mu.Unlock()
		return h
	}
	notification.NewWorker(bus, box, wrap, observability.Nop()).Start()
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), domorder.OrderCreatedEvent{
		OrderID: "o-1", UserID: "u1", Total: 12345, Currency: "usd",
	}))
	require.NoError(t, bus.Publish(context.Background(), dompay.PaymentRefundedEvent{
		OrderID: "o-1", UserID: "u1", RefundID: "r-1", Amount: 4000, Currency: "jpy",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(ctx))

	got := box.all()
	require.Len(t, got, 2)
	byKind := map[string]notification.Notification{}
	for _, n := range got {
		byKind[n.Kind] = n
	}
	assert.Equal(t, "123.45", byKind["order.created"].Data["total"])
	assert.Equal(t, "4000", byKind["payment.refunded"].Data["amount"])
	assert.Equal(t, "jpy", byKind["payment.refunded"].Data["currency"])
	assert.Equal(t, "u1", byKind["payment.refunded"].UserID)
	assert.ElementsMatch(t, notification.Events(), wrapped)
}

func TestWorkerHandle(t *testing.T) {
	box := &inbox{}
	w := notification.NewWorker(nil, box, nil, observability.Nop())

	require.NoError(t, w.Handle(context.Background(), unrelated{}))
	assert.Empty(t, box.all())

	require.NoError(t, w.Handle(context.Background(), domorder.OrderStatusChangedEvent{
		OrderID: "o-1", UserID: "u1", From: domorder.StatusProcessing, To: domorder.StatusShipped,
		TrackingNumber: "1Z999", Carrier: "UPS",
	}))
	got := box.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Your order is now shipped", got[0].Subject)
	assert.Equal(t, "1Z999", got[0].Data["tracking_number"])

	box.fail = errors.New("smtp down")
	err := w.Handle(context.Background(), domorder.OrderCancelledEvent{OrderID: "o-2", UserID: "u1"})
	assert.ErrorContains(t, err, "smtp down")
}
