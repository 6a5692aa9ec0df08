package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redisstore.IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(redisstore.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewIdempotencyStore(client, redisstore.Options{TTL: time.Hour, Prefix: "test:"}), mr
}

func TestReserveCompleteReplay(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	require.NoError(t, s.Ping(ctx))

	id, err := s.Reserve(ctx, "u1:abc")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = s.Reserve(ctx, "u1:abc")
	assert.ErrorIs(t, err, order.ErrRequestInFlight)

	require.NoError(t, s.Complete(ctx, "u1:abc", "order-9"))
	id, err = s.Reserve(ctx, "u1:abc")
	require.NoError(t, err)
	assert.Equal(t, "order-9", id)

	got, err := mr.Get("test:u1:abc")
	require.NoError(t, err)
	assert.Equal(t, "order:order-9", got)
	assert.Equal(t, time.Hour, mr.TTL("test:u1:abc"))
}

func TestReleaseOnlyDropsPendingClaims(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	_, err := s.Reserve(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k1"))
	assert.False(t, mr.Exists("test:k1"))

	_, err = s.Reserve(ctx, "k2")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "k2", "order-1"))
	require.NoError(t, s.Release(ctx, "k2"))
	assert.True(t, mr.Exists("test:k2"))
}

func TestExpiredClaimCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	_, err := s.Reserve(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	id, err := s.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, id)
}
