package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records in one atomic
// step so concurrent replicas never admit past the limit.
//
// KEYS[1] window key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member
//
// Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then score = tonumber(oldest[2]) end
  return {0, count, score}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, 0}
`)

// RedisWindowStore runs the sliding-window log in Redis so every gateway
// replica shares one window per client. Keys expire after a full idle window,
// so unlike the in-memory store it does not accumulate stale clients.
type RedisWindowStore struct {
	rdb     redis.Scripter
	rule    domain.Rule
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisTimeout bounds every Redis round trip.
func WithRedisTimeout(d time.Duration) RedisWindowOption {
	return func(s *RedisWindowStore) { s.timeout = d }
}

func WithRedisClock(now func() time.Time) RedisWindowOption {
	return func(s *RedisWindowStore) { s.now = now }
}

func NewRedisWindowStore(rdb redis.Scripter, rule domain.Rule, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:     rdb,
		rule:    rule,
		prefix:  "ratelimit:window",
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) Rule() domain.Rule { return s.rule }

// Admit implements domain.LimiterStore.
func (s *RedisWindowStore) Admit(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	nowMS := s.now().UnixMilli()
	windowMS := s.rule.Window.Milliseconds()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, s.rdb,
		[]string{s.prefix + ":" + string(key)},
		nowMS, windowMS, s.rule.Requests, member,
	).Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return domain.Decision{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, res)
	}

	allowed := toInt64(res[0]) == 1
	count := int(toInt64(res[1]))

	if allowed {
		return domain.Decision{
			Allowed:   true,
			Limit:     s.rule.Requests,
			Remaining: max(s.rule.Requests-count, 0),
		}, nil
	}

	oldestMS := toInt64(res[2])
	retry := time.Duration(oldestMS+windowMS-nowMS) * time.Millisecond
	return domain.Decision{
		Allowed:    false,
		Limit:      s.rule.Requests,
		RetryAfter: ceilSeconds(retry),
	}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return int64(f)
	default:
		return 0
	}
}
