package payment_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	ordapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	payapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox/outboxtest"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment/paymenttest"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore/sqlstoretest"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *sqlstore.Store
	gw        *paymenttest.Gateway
	events    *outboxtest.Recorder
	create    *ordapp.CreateOrderUseCase
	handle    *payapp.CreateHandleUseCase
	confirm   *payapp.ConfirmUseCase
	reconcile *payapp.ReconcileUseCase
	history   *payapp.HistoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := sqlstoretest.Open(t)
	gw := paymenttest.New(dompay.ProviderStripe)
	reg := dompay.NewRegistry(gw)
	rec := &outboxtest.Recorder{}
	ids := id.NewUUIDGenerator()
	tel := observability.Nop()
	pricing := domorder.Pricing{Currency: "usd", TaxRate: decimal.Zero}
	return &fixture{
		store:     s,
		gw:        gw,
		events:    rec,
		create:    ordapp.NewCreateOrderUseCase(s, pricing, ids, memory.NewIdempotencyStore(time.Hour), rec, tel),
		handle:    payapp.NewCreateHandleUseCase(s, reg, ids, payapp.URLs{Return: "https://shop.test/ok", Cancel: "https://shop.test/cancel"}, tel),
		confirm:   payapp.NewConfirmUseCase(s, reg, ids, rec, tel),
		reconcile: payapp.NewReconcileUseCase(s, reg, ids, rec, tel),
		history:   payapp.NewHistoryService(s),
	}
}

// pendingCardOrder places a $100 card order for u1 and opens its payment handle.
func (f *fixture) pendingCardOrder(t *testing.T) (*domorder.Order, *payapp.CreateHandleResult) {
	t.Helper()
	sqlstoretest.Product(t, f.store, "p1", "Kettle", "100.00", 5)
	sqlstoretest.AddToCart(t, f.store, "u1", "p1", "", 1)
	res, err := f.create.Execute(context.Background(), ordapp.CreateOrderInput{
		UserID:          "u1",
		ShippingAddress: domorder.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   domorder.MethodCard,
	})
	require.NoError(t, err)
	h, err := f.handle.Execute(context.Background(), payapp.CreateHandleInput{OrderID: res.Order.ID, UserID: "u1"})
	require.NoError(t, err)
	f.events.Reset()
	return res.Order, h
}

func (f *fixture) order(t *testing.T, id string) *domorder.Order {
	t.Helper()
	var o *domorder.Order
	err := f.store.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	require.NoError(t, err)
	return o
}

func TestCreateHandleRecordsPendingPayment(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	assert.Equal(t, int64(10000), h.Amount)
	assert.Equal(t, "stripe_1", h.Handle.ExternalID)
	require.Len(t, f.gw.Handles, 1)
	assert.Equal(t, "https://shop.test/ok", f.gw.Handles[0].ReturnURL)

	ps, err := f.history.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, dompay.StatusPending, ps[0].Status)
	assert.Equal(t, h.PaymentID, ps[0].ID)
	assert.Equal(t, o.ID, ps[0].OrderID)
}

func TestCreateHandleRejectsOfflineMethodAndStrangers(t *testing.T) {
	f := newFixture(t)
	sqlstoretest.Product(t, f.store, "p1", "Kettle", "100.00", 5)
	sqlstoretest.AddToCart(t, f.store, "u1", "p1", "", 1)
	res, err := f.create.Execute(context.Background(), ordapp.CreateOrderInput{
		UserID:          "u1",
		ShippingAddress: domorder.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   domorder.MethodCashOnDelivery,
	})
	require.NoError(t, err)

	_, err = f.handle.Execute(context.Background(), payapp.CreateHandleInput{OrderID: res.Order.ID, UserID: "u1"})
	assert.ErrorIs(t, err, dompay.ErrUnsupportedProvider)

	_, err = f.handle.Execute(context.Background(), payapp.CreateHandleInput{OrderID: res.Order.ID, UserID: "u2"})
	assert.ErrorIs(t, err, domorder.ErrNotFound)
	assert.Empty(t, f.gw.Handles)
}

func TestReconcileAppliesEventOnce(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_1", Type: "payment_intent.succeeded", Kind: dompay.EventSucceeded,
		ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 10000, Reference: "ch_1",
	})
	in := payapp.ReconcileInput{Provider: dompay.ProviderStripe, Payload: body, Header: header}

	first, err := f.reconcile.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeApplied, first.Outcome)
	assert.Equal(t, o.ID, first.OrderID)

	second, err := f.reconcile.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeDuplicate, second.Outcome)

	assert.Equal(t, domorder.StatusConfirmed, f.order(t, o.ID).Status)
	assert.Equal(t, 1, f.events.Count("order.confirmed"))
	assert.Equal(t, 1, f.events.Count("payment.completed"))
}

func TestReconcileBadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_1", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 10000,
	})
	forged := http.Header{}
	forged.Set(paymenttest.SignatureHeader, "guess")

	_, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: forged,
	})
	require.ErrorIs(t, err, dompay.ErrSignature)
	assert.Equal(t, domorder.StatusPending, f.order(t, o.ID).Status)
	assert.Empty(t, f.events.Names())

	// The event id was not burned by the forged delivery.
	res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeApplied, res.Outcome)
}

func TestReconcileUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{Provider: dompay.ProviderPayPal})
	assert.ErrorIs(t, err, dompay.ErrUnsupportedProvider)
}

func TestReconcileFailureMarksOrder(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_f", Kind: dompay.EventFailed, ExternalID: h.Handle.ExternalID, FailureReason: "card_declined",
	})
	res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeApplied, res.Outcome)

	got := f.order(t, o.ID)
	assert.Equal(t, domorder.StatusPaymentFailed, got.Status)
	assert.Equal(t, "card_declined", got.FailureReason)
	assert.Equal(t, 1, f.events.Count("order.payment_failed"))
}

func TestReconcileIgnoresAndUnmatched(t *testing.T) {
	f := newFixture(t)
	f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{ID: "evt_i", Type: "charge.updated", Kind: dompay.EventIgnored})
	res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{Provider: dompay.ProviderStripe, Payload: body, Header: header})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeIgnored, res.Outcome)

	body, header = f.gw.Webhook(dompay.Event{ID: "evt_u", Kind: dompay.EventFailed, ExternalID: "stripe_999"})
	res, err = f.reconcile.Execute(context.Background(), payapp.ReconcileInput{Provider: dompay.ProviderStripe, Payload: body, Header: header})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeUnmatched, res.Outcome)
	assert.Empty(t, f.events.Names())
}

func TestConfirmAndWebhookConverge(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	_, err := f.confirm.Execute(context.Background(), payapp.ConfirmInput{
		Provider: dompay.ProviderStripe, ExternalID: h.Handle.ExternalID, OrderID: o.ID, UserID: "u1",
	})
	require.ErrorIs(t, err, dompay.ErrNotCompleted)

	f.gw.Capture(h.Handle.ExternalID, 10000)
	res, err := f.confirm.Execute(context.Background(), payapp.ConfirmInput{
		Provider: dompay.ProviderStripe, ExternalID: h.Handle.ExternalID, OrderID: o.ID, UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeApplied, res.Outcome)
	assert.Equal(t, domorder.StatusConfirmed, res.Order.Status)
	assert.Equal(t, dompay.StatusCompleted, res.Payment.Status)
	assert.Equal(t, "ref_"+h.Handle.ExternalID, res.Payment.Reference)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_late", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 10000,
	})
	late, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeDuplicate, late.Outcome)
	assert.Equal(t, 1, f.events.Count("order.confirmed"))

	again, err := f.confirm.Execute(context.Background(), payapp.ConfirmInput{
		Provider: dompay.ProviderStripe, ExternalID: h.Handle.ExternalID, UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeDuplicate, again.Outcome)
}

func TestConcurrentConfirmAndWebhookSettleOnce(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)
	f.gw.Capture(h.Handle.ExternalID, 10000)
	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_race", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 10000,
	})

	var (
		wg         sync.WaitGroup
		confirmed  *payapp.ConfirmResult
		reconciled *payapp.ReconcileResult
		cerr, rerr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmed, cerr = f.confirm.Execute(context.Background(), payapp.ConfirmInput{
			Provider: dompay.ProviderStripe, ExternalID: h.Handle.ExternalID, OrderID: o.ID, UserID: "u1",
		})
	}()
	go func() {
		defer wg.Done()
		reconciled, rerr = f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
			Provider: dompay.ProviderStripe, Payload: body, Header: header,
		})
	}()
	wg.Wait()

	require.NoError(t, cerr)
	require.NoError(t, rerr)
	assert.ElementsMatch(t,
		[]payapp.Outcome{payapp.OutcomeApplied, payapp.OutcomeDuplicate},
		[]payapp.Outcome{confirmed.Outcome, reconciled.Outcome})
	assert.Equal(t, domorder.StatusConfirmed, f.order(t, o.ID).Status)
	assert.Equal(t, 1, f.events.Count("order.confirmed"))
	assert.Equal(t, 1, f.events.Count("payment.completed"))
}

func TestConcurrentCancelAndWebhookStayConsistent(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)
	cancel := ordapp.NewCancelOrderUseCase(f.store, f.events, observability.Nop())
	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_cancel_race", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 10000,
	})

	var (
		wg         sync.WaitGroup
		cerr, rerr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cerr = cancel.Execute(context.Background(), ordapp.CancelOrderInput{OrderID: o.ID, UserID: "u1"})
	}()
	go func() {
		defer wg.Done()
		_, rerr = f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
			Provider: dompay.ProviderStripe, Payload: body, Header: header,
		})
	}()
	wg.Wait()
	require.NoError(t, cerr)
	require.NoError(t, rerr)

	// Whichever ran first, the order ends cancelled with its stock back and the
	// captured payment on record for an operator refund.
	assert.Equal(t, domorder.StatusCancelled, f.order(t, o.ID).Status)
	assert.Equal(t, 5, sqlstoretest.Stock(t, f.store, "p1", ""))
	assert.Equal(t, 1, f.events.Count("order.cancelled"))
	assert.Equal(t, 1, f.events.Count("payment.completed"))

	ps, err := f.history.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, dompay.StatusCompleted, ps[0].Status)
}

func TestConfirmRejectsOtherOrder(t *testing.T) {
	f := newFixture(t)
	_, h := f.pendingCardOrder(t)

	_, err := f.confirm.Execute(context.Background(), payapp.ConfirmInput{
		Provider: dompay.ProviderStripe, ExternalID: h.Handle.ExternalID, OrderID: "someone-else", UserID: "u1",
	})
	assert.ErrorIs(t, err, dompay.ErrOrderMismatch)
	assert.Empty(t, f.gw.Confirms)
}

func TestSettleIgnoresAmountMismatch(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_m", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID, Amount: 100,
	})
	res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeIgnored, res.Outcome)
	assert.Equal(t, domorder.StatusPending, f.order(t, o.ID).Status)
}

func TestSettleIgnoresCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	o, h := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{
		ID: "evt_eur", Kind: dompay.EventSucceeded, ExternalID: h.Handle.ExternalID, OrderID: o.ID,
		Amount: 10000, Currency: "EUR",
	})
	res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
		Provider: dompay.ProviderStripe, Payload: body, Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, payapp.OutcomeIgnored, res.Outcome)
	assert.Equal(t, domorder.StatusPending, f.order(t, o.ID).Status)
	assert.Empty(t, f.events.Names())
}

func TestReconcileAcksUnreadableEvent(t *testing.T) {
	f := newFixture(t)
	o, _ := f.pendingCardOrder(t)

	body, header := f.gw.Webhook(dompay.Event{Type: "payment_intent.succeeded", Kind: dompay.EventIgnored, FailureReason: "malformed event"})
	for range 2 {
		res, err := f.reconcile.Execute(context.Background(), payapp.ReconcileInput{
			Provider: dompay.ProviderStripe, Payload: body, Header: header,
		})
		require.NoError(t, err)
		assert.Equal(t, payapp.OutcomeIgnored, res.Outcome)
	}
	assert.Equal(t, domorder.StatusPending, f.order(t, o.ID).Status)
	assert.Empty(t, f.events.Names())
}
