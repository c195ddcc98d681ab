package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX so every replica
// behind the same Redis refuses a signature any of them has accepted.
type NonceStore struct {
	rdb  redis.Cmdable
	keys keyspace
}

// NewNonceStore creates a NonceStore on c.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.rdb, keys: keyspace(c.namespace)}
}

// Claim records key for ttl and reports whether it was new.
func (n *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := n.rdb.SetNX(ctx, n.keys.key("sig", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim signature: %w", err)
	}
	return fresh, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
