package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// releaseScript drops the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// releaseTimeout bounds the release call, which runs detached from the
// caller's context.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token
// checked on release. Keys live under "<prefix>lock:".
type LockManager struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb, prefix: c.prefix + "lock:"}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := lm.prefix + key
	token := uuid.NewString()

	err := lm.rdb.SetArgs(ctx, name, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(ctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
