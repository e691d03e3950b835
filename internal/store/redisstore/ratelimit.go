package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/ids"
	"pulseops.app/internal/ratelimit"
)

var _ ratelimit.Limiter = (*Limiter)(nil)

// slidingWindow prunes, counts and records in one atomic step.
// Returns {1, 0} when admitted or {0, retry_ms} when rejected.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// Limiter is a sliding-window limiter over sorted sets.
type Limiter struct{ s *Store }

func (s *Store) Limiter() *Limiter { return &Limiter{s: s} }

func (l *Limiter) CheckAndRecord(ctx context.Context, identifier string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return apperr.InvalidInput("limit", "limit and window must be positive")
	}
	now := l.s.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, ids.New())
	res, err := slidingWindow.Run(ctx, l.s.rdb, []string{l.s.key("rl", identifier)},
		now, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return apperr.Unavailable("ratelimit", err)
	}
	if len(res) != 2 {
		return apperr.Unavailable("ratelimit", fmt.Errorf("unexpected script reply %v", res))
	}
	if res[0] == 1 {
		return nil
	}
	return apperr.RateLimited(apperr.CodeRateLimitExceeded, time.Duration(res[1])*time.Millisecond)
}
