package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are kept in thousandths so the script only ever returns integers;
// redis truncates fractional Lua numbers in replies.
const tokenBucketScript = `
local rate_milli = tonumber(ARGV[1])
local burst_milli = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local t = redis.call("TIME")
local now_ms = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "ts")
local milli = tonumber(state[1]) or burst_milli
local ts = tonumber(state[2]) or now_ms

local elapsed = math.max(0, now_ms - ts)
milli = math.min(burst_milli, milli + math.floor(elapsed * rate_milli / 1000))

local allowed = 0
local retry_ms = 0
if milli >= 1000 then
  allowed = 1
  milli = milli - 1000
else
  retry_ms = math.ceil((1000 - milli) * 1000 / rate_milli)
end

redis.call("HSET", KEYS[1], "milli", milli, "ts", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)

return {allowed, milli, retry_ms, now_ms}
`

var (
	ErrBucketNotConfigured = errors.New("token bucket not configured")
	ErrInvalidBucket       = errors.New("token bucket key, rate and burst are required")
)

// TokenBucket is a redis-side token bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from key, refilling at rate tokens per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return &RateLimitResult{}, ErrBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return &RateLimitResult{}, ErrInvalidBucket
	}

	rateMilli := int64(math.Max(1, math.Round(rate*1000)))
	reply, err := t.script.Run(ctx, t.client, []string{key},
		rateMilli,
		int64(burst)*1000,
		bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return &RateLimitResult{}, err
	}
	if len(reply) != 4 {
		return &RateLimitResult{}, errors.New("unexpected token bucket reply")
	}
	return bucketResult(reply, burst), nil
}

func bucketResult(reply []int64, burst int) *RateLimitResult {
	retryAfter := time.Duration(reply[2]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		Limit:      burst,
		Remaining:  int(reply[1] / 1000),
		ResetTime:  time.UnixMilli(reply[3]).Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

// bucketTTL keeps an idle bucket for twice the time it takes to refill.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(burst) / rate * 2)
	return time.Duration(math.Max(1, seconds)) * time.Second
}
