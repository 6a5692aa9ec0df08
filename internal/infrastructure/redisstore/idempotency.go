// Package redisstore shares checkout idempotency keys between instances through Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/go-redis/redis/v8"
)

const (
	defaultPrefix = "minishop:idem:"
	pendingValue  = "pending"
	orderPrefix   = "order:"
)

// releaseScript deletes the key only while it still holds the pending marker, so a
// late Release can never drop a completed key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type IdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

func NewIdempotencyStore(client *redis.Client, opts Options) *IdempotencyStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, error) {
	k := s.prefix + key
	ok, err := s.client.SetNX(ctx, k, pendingValue, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redisstore: reserve: %w", err)
	}
	if ok {
		return "", nil
	}

	v, err := s.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; try once more.
		ok, err := s.client.SetNX(ctx, k, pendingValue, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redisstore: reserve: %w", err)
		}
		if !ok {
			return "", domorder.ErrRequestInFlight
		}
		return "", nil
	case err != nil:
		return "", fmt.Errorf("redisstore: reserve: %w", err)
	}
	if id, found := strings.CutPrefix(v, orderPrefix); found {
		return id, nil
	}
	return "", domorder.ErrRequestInFlight
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, s.prefix+key, orderPrefix+orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: complete: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, pendingValue).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstore: release: %w", err)
	}
	return nil
}
