package session

import (
	"context"
	"sync"
	"time"
)

// TTLStore is the keyed ephemeral store backing the token blacklist and
// OTP codes. Entries self-expire; no cleanup job is required of callers.
type TTLStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// InMemoryTTL implements TTLStore for tests and single-node runs.
// Expired entries are dropped lazily on read.
type InMemoryTTL struct {
	mu    sync.Mutex
	items map[string]ttlItem
	now   func() time.Time
}

type ttlItem struct {
	value     string
	expiresAt time.Time
}

var _ TTLStore = (*InMemoryTTL)(nil)

// NewInMemoryTTL creates an empty TTL store.
func NewInMemoryTTL() *InMemoryTTL {
	return &InMemoryTTL{items: make(map[string]ttlItem), now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (s *InMemoryTTL) WithClock(fn func() time.Time) *InMemoryTTL {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemoryTTL) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = ttlItem{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryTTL) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if s.now().After(item.expiresAt) {
		delete(s.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (s *InMemoryTTL) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
