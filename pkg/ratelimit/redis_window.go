package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript atomically prunes the sorted-set window, admits the
// request if capacity remains, and otherwise returns the milliseconds until
// the oldest member leaves the window.
//
// KEYS[1] window key
// ARGV[1] now (unix milliseconds)
// ARGV[2] window length (milliseconds)
// ARGV[3] max requests
// ARGV[4] member id
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return window - (now - tonumber(oldest[2]))
`)

// redisWindow shares one sliding window across gateway replicas via a Redis
// sorted set. It uses the Redis server clock for scoring, so it trades the
// in-process window's monotonic-clock immunity for cross-replica fairness.
type redisWindow struct {
	redis       *redis.Client
	key         string
	maxRequests int
	window      time.Duration
}

// RedisWindowKey is the sorted set holding the shared admission window.
const RedisWindowKey = "psa:rate_limit:window"

func newRedisWindow(client *redis.Client, maxRequests int, window time.Duration) *redisWindow {
	return &redisWindow{
		redis:       client,
		key:         RedisWindowKey,
		maxRequests: maxRequests,
		window:      window,
	}
}

func (w *redisWindow) take(ctx context.Context) (time.Duration, error) {
	now := time.Now().UnixMilli()
	member := uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, w.redis, []string{w.key},
		now, w.window.Milliseconds(), w.maxRequests, member).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis sliding window: %w", err)
	}

	if res <= 0 {
		return 0, nil
	}
	return time.Duration(res) * time.Millisecond, nil
}
