package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript runs the whole admission in one round trip. Scores are unix milliseconds.
// Returns {allowed, count including the new entry, oldest score}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window * 2)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisLimiter keeps one sorted set per key in Redis.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisClock sets the clock whose readings are written as scores.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) { l.now = now }
}

// NewRedisLimiter returns a limiter storing windows under prefix+key (e.g. "rate_limit:10.0.0.1").
func NewRedisLimiter(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{redis: client, prefix: prefix, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	res, err := slidingWindowLua.Run(ctx, l.redis, []string{l.prefix + key},
		nowMs, window.Milliseconds(), limit, member).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldest, _ := res[2].(int64)
	return decide(allowed == 1, limit, int(count), time.UnixMilli(oldest), now, window), nil
}
