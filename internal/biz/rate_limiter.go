package biz

import (
	"context"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimitStatus 速率窗口状态
type RateLimitStatus struct {
	Limit            int       `json:"limit"`
	RequestsInWindow int       `json:"requestsInWindow"`
	Remaining        int       `json:"remaining"`
	ResetAt          time.Time `json:"resetAt"`
	Limited          bool      `json:"limited"`
}

// RateLimiterUseCase guards outbound upstream calls with a fixed window per session.
// The window lives in Redis when available; on Redis failure it falls back to
// an in-process window (graceful degradation).
type RateLimiterUseCase struct {
	repo   RateLimitRepo
	local  *localWindows
	max    int
	window time.Duration
	logger *pkglog.LogHelper
}

// NewRateLimiterUseCase creates a new rate limiter use case. With backend
// "memory" the shared repo is never consulted.
func NewRateLimiterUseCase(c *conf.RateLimit, repo RateLimitRepo, logger log.Logger) *RateLimiterUseCase {
	max, window := 120, time.Minute
	if c != nil {
		if c.MaxPerWindow > 0 {
			max = c.MaxPerWindow
		}
		if c.Window > 0 {
			window = c.Window
		}
		if c.Backend == "memory" {
			repo = nil
		}
	}
	return &RateLimiterUseCase{
		repo:   repo,
		local:  newLocalWindows(time.Now),
		max:    max,
		window: window,
		logger: pkglog.NewLogHelper(logger),
	}
}

// Limit returns the configured per-window ceiling.
func (uc *RateLimiterUseCase) Limit() int {
	return uc.max
}

// Allow uses the configured ceiling.
func (uc *RateLimiterUseCase) Allow(ctx context.Context, sessionID string) bool {
	return uc.AllowN(ctx, sessionID, uc.max)
}

// AllowN rejects without counting once the window holds max requests.
func (uc *RateLimiterUseCase) AllowN(ctx context.Context, sessionID string, max int) bool {
	if uc.repo != nil {
		allowed, count, resetAt, err := uc.repo.Acquire(ctx, sessionID, max, uc.window)
		if err == nil {
			if !allowed {
				uc.logger.RateLimit("rate limit exceeded", "session_id", sessionID, "current", count, "limit", max, "reset_at", resetAt)
			}
			return allowed
		}
		uc.logger.Warnf("Redis rate limit check failed for session %s: %v (degraded mode, using local window)", sessionID, err)
	}

	allowed, count, resetAt := uc.local.acquire(sessionID, max, uc.window)
	if !allowed {
		uc.logger.RateLimit("rate limit exceeded", "session_id", sessionID, "current", count, "limit", max, "reset_at", resetAt, "backend", "local")
	}
	return allowed
}

// Status reports the current window without consuming quota.
func (uc *RateLimiterUseCase) Status(ctx context.Context, sessionID string) RateLimitStatus {
	var (
		count   int
		resetAt time.Time
		err     error
	)
	if uc.repo != nil {
		count, resetAt, err = uc.repo.Peek(ctx, sessionID, uc.window)
		if err != nil {
			uc.logger.Warnf("Redis rate limit status failed for session %s: %v (degraded mode)", sessionID, err)
		}
	}
	if uc.repo == nil || err != nil {
		count, resetAt = uc.local.peek(sessionID, uc.window)
	}

	remaining := uc.max - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitStatus{
		Limit:            uc.max,
		RequestsInWindow: count,
		Remaining:        remaining,
		ResetAt:          resetAt,
		Limited:          count >= uc.max,
	}
}

// localWindows is the in-process fixed window, one lock per session.
type localWindows struct {
	windows sync.Map // sessionID → *rateWindow
	now     func() time.Time
}

type rateWindow struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

func newLocalWindows(now func() time.Time) *localWindows {
	return &localWindows{now: now}
}

func (l *localWindows) get(sessionID string) *rateWindow {
	if w, ok := l.windows.Load(sessionID); ok {
		return w.(*rateWindow)
	}
	w, _ := l.windows.LoadOrStore(sessionID, &rateWindow{})
	return w.(*rateWindow)
}

func (l *localWindows) acquire(sessionID string, max int, window time.Duration) (bool, int, time.Time) {
	w := l.get(sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(window)
	}
	if w.count >= max {
		return false, w.count, w.resetAt
	}
	w.count++
	return true, w.count, w.resetAt
}

func (l *localWindows) peek(sessionID string, window time.Duration) (int, time.Time) {
	w := l.get(sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if !now.Before(w.resetAt) {
		return 0, now.Add(window)
	}
	return w.count, w.resetAt
}
