package inventory_test

import (
	"context"
	"testing"

	invapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox/outboxtest"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore/sqlstoretest"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestockReturnsUnits(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 1,
		sqlstore.CatalogVariant{ID: "v-red", Name: "Red", Stock: 0})
	rec := &outboxtest.Recorder{}
	uc := invapp.NewRestockUseCase(s, rec, observability.Nop())

	res, err := uc.Execute(context.Background(), invapp.RestockInput{
		OrderID: "o-1",
		Lines: []invapp.RestockLine{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p1", VariantID: "v-red", Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Available[dominv.Unit{ProductID: "p1"}])
	assert.Equal(t, 3, res.Available[dominv.Unit{ProductID: "p1", VariantID: "v-red"}])
	assert.Equal(t, []string{"inventory.stock_restored"}, rec.Names())

	n, err := invapp.NewService(s).Available(context.Background(), "p1", "v-red")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRestockRejectsBadLines(t *testing.T) {
	s := sqlstoretest.Open(t)
	sqlstoretest.Product(t, s, "p1", "Mug", "10.00", 1)
	uc := invapp.NewRestockUseCase(s, nil, observability.Nop())

	_, err := uc.Execute(context.Background(), invapp.RestockInput{})
	assert.Error(t, err)

	_, err = uc.Execute(context.Background(), invapp.RestockInput{Lines: []invapp.RestockLine{{ProductID: "p1", Quantity: 0}}})
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)

	_, err = uc.Execute(context.Background(), invapp.RestockInput{Lines: []invapp.RestockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	}})
	assert.ErrorIs(t, err, dominv.ErrNotFound)
	assert.Equal(t, 1, sqlstoretest.Stock(t, s, "p1", ""), "partial restock rolls back")
}
