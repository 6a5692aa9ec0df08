package cart_test

import (
	"context"
	"testing"

	cartapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/cart"
	domcart "github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore/sqlstoretest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryQuotesLiveCart(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "20.00", 10,
		sqlstore.CatalogVariant{ID: "v-xl", Name: "XL", PriceModifier: "5.00", Stock: 10})
	svc := cartapp.NewService(s, domorder.DefaultPricing())
	ctx := context.Background()

	empty, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, empty.Lines)
	assert.Zero(t, empty.Totals.Total)

	require.NoError(t, svc.AddItem(ctx, domcart.Item{UserID: "u1", ProductID: "p1", Quantity: 1}))
	require.NoError(t, svc.AddItem(ctx, domcart.Item{UserID: "u1", ProductID: "p1", VariantID: "v-xl", Quantity: 2}))

	sum, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sum.Lines, 2)
	// 20.00 + 2 x 25.00 = 70.00, 16% tax, flat 10.00 shipping under 100.00.
	assert.Equal(t, int64(7000), sum.Totals.Subtotal)
	assert.Equal(t, int64(1120), sum.Totals.Tax)
	assert.Equal(t, int64(1000), sum.Totals.Shipping)
	assert.Equal(t, int64(9120), sum.Totals.Total)
}

func TestAddItemValidates(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "20.00", 10)
	svc := cartapp.NewService(s, domorder.DefaultPricing())
	ctx := context.Background()

	assert.ErrorIs(t, svc.AddItem(ctx, domcart.Item{UserID: "u1", ProductID: "p1"}), domcart.ErrInvalidQuantity)
	assert.ErrorIs(t, svc.AddItem(ctx, domcart.Item{UserID: "u1", ProductID: "nope", Quantity: 1}), dominv.ErrNotFound)
}
