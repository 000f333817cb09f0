package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket algorithm atomically in
// Redis.
// KEYS[1] = bucket key ("limiter:<actor>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, fractional)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// scripter is the slice of the redis client the store uses; tests
// stub it.
type scripter interface {
	redis.Scripter
}

// RedisLimiterStore implements LimiterStore on a shared Redis token
// bucket, so replicas of the server enforce one combined limit per
// actor.
type RedisLimiterStore struct {
	client scripter
	rps    float64
	burst  int
}

// NewRedisLimiterStore connects to Redis at addr.
func NewRedisLimiterStore(addr string, rps float64, burst int) *RedisLimiterStore {
	return &RedisLimiterStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		rps:    rps,
		burst:  burst,
	}
}

// Allow executes the Lua script to check and update the bucket.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string) (bool, error) {
	key := fmt.Sprintf("limiter:%s", actorID)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key}, s.rps, s.burst, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
