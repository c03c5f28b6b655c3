package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	keyTracker = "karma:rl:%s:%s"
	keyActions = "karma:rl:%s:actions"
	keyActive  = "karma:rl:active"
)

// fixedWindowScript mirrors SQLLimiter: reset an expired window, deny at the
// limit without writing, otherwise increment.
const fixedWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local data = redis.call("HMGET", KEYS[1], "count", "ws")
local count = tonumber(data[1])
local ws = tonumber(data[2])

if count == nil or ws == nil or (now - ws) > window then
  count = 0
  ws = now
end

if count >= limit then
  return {0, count, ws}
end

count = count + 1
redis.call("HSET", KEYS[1], "count", count, "ws", ws, "last", now)
redis.call("EXPIRE", KEYS[1], window * 2)
redis.call("SADD", KEYS[2], ARGV[4])
redis.call("EXPIRE", KEYS[2], window * 2)
redis.call("ZADD", KEYS[3], "GT", ws, ARGV[5])
redis.call("ZREMRANGEBYSCORE", KEYS[3], "-inf", now - window * 2)

return {1, count, ws}
`

// RedisLimiter keeps trackers in redis. Increments are not rolled back when
// the calling transaction fails.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	if client == nil {
		return nil
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (l *RedisLimiter) Backend() string { return "redis" }

func (l *RedisLimiter) CheckAndConsume(ctx context.Context, _ *gorm.DB, principal string, action Action, karma int64, now int64) (Decision, error) {
	if action == "" {
		return Decision{}, ErrInvalidAction
	}
	limit := EffectiveLimit(action, karma)

	res, err := l.script.Run(
		ctx,
		l.client,
		[]string{trackerKey(principal, action), actionsKey(principal), keyActive},
		now,
		WindowSeconds,
		limit,
		string(action),
		principal,
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 3 {
		return Decision{}, fmt.Errorf("invalid rate limit script response: %v", res)
	}
	return decide(action, res[1], res[2], limit, res[0] == 1), nil
}

func (l *RedisLimiter) Status(ctx context.Context, principal string, action Action, karma int64, now int64) (Decision, error) {
	if action == "" {
		return Decision{}, ErrInvalidAction
	}
	limit := EffectiveLimit(action, karma)

	tracker, err := l.load(ctx, principal, action)
	if err != nil {
		return Decision{}, err
	}
	if tracker == nil || windowExpired(tracker.WindowStart, now) {
		return decide(action, 0, now, limit, true), nil
	}
	return decide(action, tracker.Count, tracker.WindowStart, limit, tracker.Count < limit), nil
}

func (l *RedisLimiter) Activity(ctx context.Context, _ *gorm.DB, principal string, now int64) (Activity, error) {
	actions, err := l.client.SMembers(ctx, actionsKey(principal)).Result()
	if err != nil {
		return Activity{}, err
	}

	trackers := make([]Tracker, 0, len(actions))
	for _, action := range actions {
		tracker, err := l.load(ctx, principal, Action(action))
		if err != nil {
			return Activity{}, err
		}
		if tracker != nil {
			trackers = append(trackers, *tracker)
		}
	}
	return aggregate(trackers, now), nil
}

// ActivePrincipalsSince reads the sorted set of principals scored by their
// latest window start.
func (l *RedisLimiter) ActivePrincipalsSince(ctx context.Context, since int64, limit int) ([]string, error) {
	return l.client.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:     keyActive,
		Start:   strconv.FormatInt(since, 10),
		Stop:    "+inf",
		ByScore: true,
		Rev:     true,
		Count:   int64(limit),
	}).Result()
}

func (l *RedisLimiter) load(ctx context.Context, principal string, action Action) (*Tracker, error) {
	var row struct {
		Count       int64 `redis:"count"`
		WindowStart int64 `redis:"ws"`
		LastAction  int64 `redis:"last"`
	}
	cmd := l.client.HGetAll(ctx, trackerKey(principal, action))
	values, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	if err := cmd.Scan(&row); err != nil {
		return nil, err
	}
	return &Tracker{
		Principal:   principal,
		ActionType:  string(action),
		Count:       row.Count,
		WindowStart: row.WindowStart,
		LastAction:  row.LastAction,
	}, nil
}

func trackerKey(principal string, action Action) string {
	return fmt.Sprintf(keyTracker, principal, action)
}

func actionsKey(principal string) string {
	return fmt.Sprintf(keyActions, principal)
}
