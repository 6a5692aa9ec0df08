package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore/sqlstoretest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLedgerNeverOversells(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 10)

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "p1"}, 1)
			})
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return nil
			}
			if err == nil {
				wins.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), wins.Load())
	assert.Equal(t, 0, sqlstoretest.Stock(t, s, "p1", ""))
}

func TestLedgerReportsAvailableOnShortfall(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 3,
		sqlstore.CatalogVariant{ID: "v-red", Name: "Red", PriceModifier: "2.50", Stock: 1})

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "p1", VariantID: "v-red"}, 2)
	})
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, "Mug (Red)", short.ProductName)
	assert.Equal(t, 3, sqlstoretest.Stock(t, s, "p1", ""))

	err = s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "nope"}, 1)
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 5)

	boom := errors.New("boom")
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "p1"}, 4))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, sqlstoretest.Stock(t, s, "p1", ""))
}

func TestCartMergesQuantitiesAndPricesLive(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 5,
		sqlstore.CatalogVariant{ID: "v-big", Name: "Large", PriceModifier: "1.50", Stock: 5})

	sqlstoretest.AddToCart(t, s, "u1", "p1", "", 1)
	sqlstoretest.AddToCart(t, s, "u1", "p1", "", 2)
	sqlstoretest.AddToCart(t, s, "u1", "p1", "v-big", 1)

	snap := readCart(t, s, "u1")
	lines := snap.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, int64(1000), lines[0].UnitPrice)
	assert.Equal(t, int64(150), lines[1].VariantSurcharge)
	assert.Equal(t, "Large", lines[1].VariantName)
	assert.Equal(t, int64(3*1000+1150), snap.Subtotal())

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Carts().AddItem(ctx, cart.Item{UserID: "u1", ProductID: "ghost", Quantity: 1})
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Carts().Clear(ctx, "u1")
	}))
	assert.True(t, readCart(t, s, "u1").Empty())
}

func TestOrderRoundTripAndLock(t *testing.T) {
	s := sqlstoretest.Open(t)
	o := newOrder(t, "u1")
	insertOrder(t, s, o)

	var got *order.Order
	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		got, err = tx.Orders().Lock(ctx, o.ID)
		if err != nil {
			return err
		}
		if _, err := got.PaymentSucceeded(time.Now()); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, got)
	}))

	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		got, err = tx.Orders().Get(ctx, o.ID)
		return err
	}))
	assert.Equal(t, order.StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, o.Totals, got.Totals)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "Mug", got.Lines[0].ProductName)

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Orders().Lock(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, order.ErrNotFound)

	var list []*order.Order
	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		list, err = tx.Orders().ListByUser(ctx, "u1", 10, 0)
		return err
	}))
	require.Len(t, list, 1)
	assert.Len(t, list[0].Lines, 2)
}

func TestPaymentUniqueness(t *testing.T) {
	s := sqlstoretest.Open(t)
	o := newOrder(t, "u1")
	insertOrder(t, s, o)

	first := payment.New(uuid.NewString(), o.ID, o.UserID, payment.ProviderStripe, "pi_1", o.Totals.Total, "usd")
	first.SetMeta("client", "web")
	second := payment.New(uuid.NewString(), o.ID, o.UserID, payment.ProviderStripe, "pi_2", o.Totals.Total, "usd")
	dup := payment.New(uuid.NewString(), o.ID, o.UserID, payment.ProviderStripe, "pi_1", o.Totals.Total, "usd")

	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Payments().Insert(ctx, first); err != nil {
			return err
		}
		return tx.Payments().Insert(ctx, second)
	}))

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Payments().Insert(ctx, dup)
	})
	assert.ErrorIs(t, err, payment.ErrConflict)

	now := time.Now()
	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		first.Complete("ch_1", now)
		return tx.Payments().Update(ctx, first)
	}))
	err = s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		second.Complete("ch_2", now)
		return tx.Payments().Update(ctx, second)
	})
	assert.ErrorIs(t, err, payment.ErrConflict)

	var settled *payment.Payment
	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		settled, err = tx.Payments().FindSettledByOrder(ctx, o.ID)
		return err
	}))
	assert.Equal(t, first.ID, settled.ID)
	assert.Equal(t, "web", settled.Metadata["client"])
	assert.Equal(t, "ch_1", settled.Reference)
}

func TestEventLogRejectsDuplicates(t *testing.T) {
	s := sqlstoretest.Open(t)
	ev := &payment.Event{ID: "evt_1", Type: "payment_intent.succeeded", Provider: payment.ProviderStripe, Kind: payment.EventSucceeded}

	record := func() error {
		return s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.Events().Record(ctx, ev)
		})
	}
	require.NoError(t, record())
	assert.ErrorIs(t, record(), payment.ErrDuplicateEvent)
}

func TestCouponRedeemStopsAtLimit(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Coupon(t, s, sqlstore.CatalogCoupon{Code: "save10", Type: "percentage", Value: 10, UsageLimit: 1})

	redeem := func(code string) error {
		return s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.Coupons().Redeem(ctx, code)
		})
	}
	require.NoError(t, redeem("SAVE10"))
	assert.ErrorIs(t, redeem("SAVE10"), coupon.ErrExhausted)
	assert.ErrorIs(t, redeem("NOPE"), coupon.ErrNotFound)

	var c *coupon.Coupon
	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = tx.Coupons().Get(ctx, "save10")
		return err
	}))
	assert.Equal(t, 1, c.UsedCount)
	assert.Equal(t, coupon.TypePercentage, c.Type)
	assert.True(t, c.Active)
	assert.True(t, c.ValidUntil.IsZero())
}

func TestRefundSumIgnoresFailed(t *testing.T) {
	s := sqlstoretest.Open(t)
	o := newOrder(t, "u1")
	insertOrder(t, s, o)
	p := payment.New(uuid.NewString(), o.ID, o.UserID, payment.ProviderStripe, "pi_1", 10000, "usd")

	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Payments().Insert(ctx, p); err != nil {
			return err
		}
		ok := payment.NewRefund(uuid.NewString(), p, 4000, "damaged", "admin")
		failed := payment.NewRefund(uuid.NewString(), p, 3000, "dup", "admin")
		failed.Fail("provider declined", time.Now())
		if err := tx.Refunds().Insert(ctx, ok); err != nil {
			return err
		}
		return tx.Refunds().Insert(ctx, failed)
	}))

	var sum int64
	var refunds []*payment.Refund
	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if sum, err = tx.Refunds().SumActive(ctx, p.ID); err != nil {
			return err
		}
		refunds, err = tx.Refunds().ListByPayment(ctx, p.ID)
		return err
	}))
	assert.Equal(t, int64(4000), sum)
	assert.Len(t, refunds, 2)
}

func TestSeedKeepsStock(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 5)
	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "p1"}, 2)
	}))

	sqlstoretest.Product(t, s, "p1", "Mug v2", "12.00", 5)

	assert.Equal(t, 3, sqlstoretest.Stock(t, s, "p1", ""))
}

func newOrder(t *testing.T, userID string) *order.Order {
	t.Helper()
	snap := cart.Freeze(userID, []cart.Line{
		{ProductID: "p1", ProductName: "Mug", Quantity: 2, UnitPrice: 1000},
		{ProductID: "p2", ProductName: "Plate", Quantity: 1, UnitPrice: 2500},
	}, time.Now())
	o, err := order.New(uuid.NewString(), uuid.NewString, order.Draft{
		Snapshot:        snap,
		ShippingAddress: order.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   order.MethodCard,
		Currency:        "usd",
		Totals:          order.DefaultPricing().Quote(snap.Subtotal(), 0),
	})
	require.NoError(t, err)
	return o
}

func insertOrder(t *testing.T, s store.Store, o *order.Order) {
	t.Helper()
	require.NoError(t, s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Orders().Insert(ctx, o)
	}), fmt.Sprintf("insert order %s", o.ID))
}

func readCart(t *testing.T, s store.Store, userID string) cart.Snapshot {
	t.Helper()
	var snap cart.Snapshot
	require.NoError(t, s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		snap, err = tx.Carts().Snapshot(ctx, userID, time.Now())
		return err
	}))
	return snap
}
