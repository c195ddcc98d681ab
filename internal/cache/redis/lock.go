package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// releaseLua deletes KEYS[1] only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release round trip, which runs after the caller's
// context may already be gone.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token-checked
// release, so replicas sharing one engine identity never run attempts
// concurrently.
type LockManager struct {
	rdb     redis.Cmdable
	release *redis.Script
	keys    keyspace
	token   func() string
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return newLockManager(c.rdb, keyspace(c.namespace))
}

func newLockManager(rdb redis.Cmdable, keys keyspace) *LockManager {
	return &LockManager{
		rdb:     rdb,
		release: redis.NewScript(releaseLua),
		keys:    keys,
		token:   uuid.NewString,
	}
}

// Acquire takes the lock named key for ttl. It returns domain.ErrLockHeld
// while another holder owns it. The returned release func is safe to call
// more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := lm.keys.key("lock", key)
	token := lm.token()

	won, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !won {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
