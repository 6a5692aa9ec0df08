// Package sqlstoretest opens throwaway SQLite stores for tests.
package sqlstoretest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated store in t.TempDir, closed on cleanup.
func Open(t testing.TB) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Options{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Product seeds one product. price is in major units ("10.00").
func Product(t testing.TB, s *sqlstore.Store, id, name, price string, stock int, variants ...sqlstore.CatalogVariant) {
	t.Helper()
	require.NoError(t, s.Seed(context.Background(), sqlstore.Catalog{
		Products: []sqlstore.CatalogProduct{{ID: id, Name: name, Price: price, Stock: stock, Variants: variants}},
	}))
}

func Coupon(t testing.TB, s *sqlstore.Store, c sqlstore.CatalogCoupon) {
	t.Helper()
	require.NoError(t, s.Seed(context.Background(), sqlstore.Catalog{Coupons: []sqlstore.CatalogCoupon{c}}))
}

func AddToCart(t testing.TB, s store.Store, userID, productID, variantID string, qty int) {
	t.Helper()
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Carts().AddItem(ctx, cart.Item{UserID: userID, ProductID: productID, VariantID: variantID, Quantity: qty})
	})
	require.NoError(t, err)
}

// Stock reads the current quantity of a unit.
func Stock(t testing.TB, s store.Store, productID, variantID string) int {
	t.Helper()
	var n int
	err := s.Read(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.Stock().Available(ctx, inventory.Unit{ProductID: productID, VariantID: variantID})
		return err
	})
	require.NoError(t, err)
	return n
}
