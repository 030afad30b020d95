package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// slidingWindow keeps one sorted-set member per admitted event scored by its
// time in microseconds. ARGV: now, window, limit, member.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1}
`)

// RateLimiter implements domain.RateLimiter across processes. Keys live
// under "<prefix>ratelimit:".
type RateLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, prefix: c.prefix + "ratelimit:", now: time.Now}
}

// Allow records an event for key when fewer than limit events fell inside
// the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	now := rl.now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, rl.rdb, []string{rl.prefix + key},
		now, window.Microseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
