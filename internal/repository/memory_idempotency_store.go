package repository

import (
	"context"
	"sync"
	"time"
)

type idempotencyEntry struct {
	invoiceID string
	expiresAt time.Time
}

// MemoryIdempotencyStore is the in-process counterpart of
// RedisIdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, key, invoiceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.invoiceID, false, nil
	}
	s.entries[key] = idempotencyEntry{invoiceID: invoiceID, expiresAt: now.Add(s.ttl)}
	return invoiceID, true, nil
}
