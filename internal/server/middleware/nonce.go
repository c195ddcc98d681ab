package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
)

// DefaultNonceCapacity is the number of live signatures a MemoryNonces
// remembers.
const DefaultNonceCapacity = 65536

// MemoryNonces is a process-local domain.NonceStore. When full it evicts
// expired entries oldest first and refuses new keys while the oldest entry
// is still live.
type MemoryNonces struct {
	mu       sync.Mutex
	seen     lru.BasicLRU[string, time.Time]
	capacity int
	now      func() time.Time
}

// NewMemoryNonces returns a store holding at most capacity live keys.
func NewMemoryNonces(capacity int, now func() time.Time) *MemoryNonces {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryNonces{
		seen:     lru.NewBasicLRU[string, time.Time](capacity),
		capacity: capacity,
		now:      now,
	}
}

// ErrNoncesFull is returned by Claim when every remembered key is still live.
var ErrNoncesFull = errors.New("nonce store full")

// Claim implements domain.NonceStore.
func (m *MemoryNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expires, ok := m.seen.Peek(key); ok {
		if now.Before(expires) {
			return false, nil
		}
		m.seen.Remove(key)
	}
	for m.seen.Len() >= m.capacity {
		_, expires, ok := m.seen.GetOldest()
		if !ok {
			break
		}
		if now.Before(expires) {
			return false, ErrNoncesFull
		}
		m.seen.RemoveOldest()
	}
	m.seen.Add(key, now.Add(ttl))
	return true, nil
}
