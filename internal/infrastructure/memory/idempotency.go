// Package memory holds in-process adapters for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type idemEntry struct {
	orderID string
	expires time.Time
}

// IdempotencyStore keeps checkout idempotency keys in a map. An empty orderID marks
// a claim whose request is still running.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]idemEntry
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]idemEntry),
	}
}

func (s *IdempotencyStore) Reserve(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.orderID == "" {
			return "", domorder.ErrRequestInFlight
		}
		return e.orderID, nil
	}
	s.entries[key] = idemEntry{expires: now.Add(s.ttl)}
	s.sweep(now)
	return "", nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{orderID: orderID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.orderID == "" {
		delete(s.entries, key)
	}
	return nil
}

// sweep drops expired entries; callers hold mu.
func (s *IdempotencyStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
