package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore/sqlstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
products:
  - id: tee
    name: T-Shirt
    price: "19.99"
    stock: 4
    variants:
      - id: tee-xl
        name: XL
        price_modifier: "2.00"
        stock: 2
coupons:
  - code: welcome
    type: percentage
    value: 15
    maximum_discount: "5.00"
    usage_limit: 100
`

func TestLoadCatalogAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := sqlstore.LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Products, 1)
	require.Len(t, c.Products[0].Variants, 1)
	require.Len(t, c.Coupons, 1)
	assert.Equal(t, "19.99", c.Products[0].Price)
	assert.Equal(t, int64(15), c.Coupons[0].Value)

	s := sqlstoretest.Open(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, c))
	assert.Equal(t, 4, sqlstoretest.Stock(t, s, "tee", ""))
	assert.Equal(t, 2, sqlstoretest.Stock(t, s, "tee", "tee-xl"))

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Stock().DecrementIfAvailable(ctx, inventory.Unit{ProductID: "tee"}, 3)
	}))
	// Reseeding on restart leaves stock alone.
	require.NoError(t, s.Seed(ctx, c))
	assert.Equal(t, 1, sqlstoretest.Stock(t, s, "tee", ""))
}

func TestSeedUsesCatalogCurrencyDecimals(t *testing.T) {
	s := sqlstoretest.Open(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, sqlstore.Catalog{
		Currency: "jpy",
		Products: []sqlstore.CatalogProduct{{ID: "tea", Name: "Sencha", Price: "1500", Stock: 3}},
	}))
	sqlstoretest.AddToCart(t, s, "u1", "tea", "", 1)

	var snap cart.Snapshot
	require.NoError(t, s.Read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		snap, err = tx.Carts().Snapshot(ctx, "u1", time.Now())
		return err
	}))
	require.Len(t, snap.Lines(), 1)
	assert.Equal(t, int64(1500), snap.Lines()[0].UnitPrice)
}

func TestLoadCatalogErrors(t *testing.T) {
	_, err := sqlstore.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products: ["), 0o600))
	_, err = sqlstore.LoadCatalog(path)
	require.Error(t, err)

	s := sqlstoretest.Open(t)
	err = s.Seed(context.Background(), sqlstore.Catalog{Products: []sqlstore.CatalogProduct{{ID: "x", Name: "X", Price: "abc"}}})
	require.Error(t, err)
}
