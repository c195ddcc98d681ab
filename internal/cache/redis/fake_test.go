package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type setNXCall struct {
	key   string
	value interface{}
	ttl   time.Duration
}

type evalCall struct {
	sha  string
	keys []string
	args []interface{}
}

// fakeRedis answers the few commands the components issue and records them.
// Any other command panics on the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable

	mu       sync.Mutex
	setNX    []setNXCall
	setNXOK  bool
	setNXErr error
	evals    []evalCall
	evalVal  interface{}
	evalErr  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setNX = append(f.setNX, setNXCall{key: key, value: value, ttl: ttl})
	return redis.NewBoolResult(f.setNXOK, f.setNXErr)
}

func (f *fakeRedis) EvalSha(_ context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, evalCall{sha: sha, keys: keys, args: args})
	return redis.NewCmdResult(f.evalVal, f.evalErr)
}
