package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// acquireScript increments the window counter unless it already reached
// ARGV[1]; the first increment sets the window TTL (ARGV[2], ms).
// Returns {allowed, count, pttl}.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RateLimitRepo implements biz.RateLimitRepo interface.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type RateLimitRepo struct {
	rdb    *redis.Client
	logger *log.Helper
	now    func() time.Time
}

// NewRateLimitRepo creates a new rate limit repository.
func NewRateLimitRepo(rdb *redis.Client, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
}

// Acquire takes one slot of the session's fixed window when available.
// Check and increment run atomically in a Lua script so concurrent callers
// never exceed max.
func (r *RateLimitRepo) Acquire(ctx context.Context, sessionID string, max int, window time.Duration) (bool, int, time.Time, error) {
	if r.rdb == nil {
		return false, 0, time.Time{}, fmt.Errorf("redis client is nil")
	}

	key := getRateLimitKey(sessionID)
	res, err := acquireScript.Run(ctx, r.rdb, []string{key}, max, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to acquire rate window: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate window reply: %v", res)
	}

	count := int(res[1])
	resetAt := r.resetAt(res[2], window)
	if res[0] == 0 {
		r.logger.Debugw("msg", "rate window full", "session_id", sessionID, "count", count, "max", max)
		return false, count, resetAt, nil
	}
	return true, count, resetAt, nil
}

// Peek reads the current window without consuming a slot.
// Returns 0 if the window does not exist.
func (r *RateLimitRepo) Peek(ctx context.Context, sessionID string, window time.Duration) (int, time.Time, error) {
	if r.rdb == nil {
		return 0, time.Time{}, fmt.Errorf("redis client is nil")
	}

	key := getRateLimitKey(sessionID)
	pipe := r.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate window: %w", err)
	}

	count, err := getCmd.Int()
	if err == redis.Nil {
		return 0, r.now().Add(window), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to parse rate window: %w", err)
	}
	pttl := ttlCmd.Val().Milliseconds()
	if ttlCmd.Val() < 0 {
		pttl = -1
	}
	return count, r.resetAt(pttl, window), nil
}

func (r *RateLimitRepo) resetAt(pttlMs int64, window time.Duration) time.Time {
	if pttlMs < 0 {
		// 没有 TTL（不应出现），按完整窗口估算
		return r.now().Add(window)
	}
	return r.now().Add(time.Duration(pttlMs) * time.Millisecond)
}

// getRateLimitKey generates a Redis key for the polling rate window.
// Format: rate:{session_id}:poll
func getRateLimitKey(sessionID string) string {
	return fmt.Sprintf("rate:%s:poll", sessionID)
}
