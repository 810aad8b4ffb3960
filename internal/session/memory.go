package session

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

type memoryEntry struct {
	cart    cart.Cart
	expires time.Time
}

// MemoryStore keeps carts in process memory. It is meant for tests and
// single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cartKey(sessionID)
	e, ok := s.entries[key]
	if !ok {
		return cart.Cart{}, nil
	}
	if s.now().After(e.expires) {
		delete(s.entries, key)
		return cart.Cart{}, nil
	}
	return e.cart.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, c cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cartKey(sessionID)
	if c.IsEmpty() {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = memoryEntry{cart: c.Clone(), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, cartKey(sessionID))
	return nil
}
