package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"OrderRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockRateLimitRepo is a mock implementation of RateLimitRepo for testing.
type MockRateLimitRepo struct {
	mock.Mock
}

func (m *MockRateLimitRepo) Acquire(ctx context.Context, sessionID string, max int, window time.Duration) (bool, int, time.Time, error) {
	args := m.Called(ctx, sessionID, max, window)
	return args.Bool(0), args.Int(1), args.Get(2).(time.Time), args.Error(3)
}

func (m *MockRateLimitRepo) Peek(ctx context.Context, sessionID string, window time.Duration) (int, time.Time, error) {
	args := m.Called(ctx, sessionID, window)
	return args.Int(0), args.Get(1).(time.Time), args.Error(2)
}

// Helper function to create a test RateLimiterUseCase
func newTestRateLimiter(repo RateLimitRepo, max int) *RateLimiterUseCase {
	logger := log.NewStdLogger(os.Stdout)
	return NewRateLimiterUseCase(&conf.RateLimit{MaxPerWindow: max, Window: time.Minute}, repo, logger)
}

func TestAllow_UsesRepo(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo, 60)
	ctx := context.Background()
	reset := time.Now().Add(time.Minute)

	mockRepo.On("Acquire", ctx, "s1", 60, time.Minute).Return(true, 10, reset, nil).Once()
	mockRepo.On("Acquire", ctx, "s1", 60, time.Minute).Return(false, 60, reset, nil).Once()

	assert.True(t, uc.Allow(ctx, "s1"))
	assert.False(t, uc.Allow(ctx, "s1"))
	mockRepo.AssertExpectations(t)
}

func TestAllow_RedisErrorFallsBackToLocalWindow(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo, 2)
	ctx := context.Background()

	mockRepo.On("Acquire", ctx, "s1", 2, time.Minute).Return(false, 0, time.Time{}, errors.New("connection refused"))

	// degraded mode 仍然限流
	assert.True(t, uc.Allow(ctx, "s1"))
	assert.True(t, uc.Allow(ctx, "s1"))
	assert.False(t, uc.Allow(ctx, "s1"))
}

func TestAllow_LocalWindowSixtyFive(t *testing.T) {
	uc := newTestRateLimiter(nil, 60)
	ctx := context.Background()

	allowed, denied := 0, 0
	for i := 0; i < 65; i++ {
		if uc.Allow(ctx, "s1") {
			allowed++
		} else {
			denied++
		}
	}
	assert.Equal(t, 60, allowed)
	assert.Equal(t, 5, denied)

	status := uc.Status(ctx, "s1")
	assert.Equal(t, 60, status.RequestsInWindow)
	assert.Equal(t, 0, status.Remaining)
	assert.True(t, status.Limited)

	// 其他会话不受影响
	assert.True(t, uc.Allow(ctx, "s2"))
}

func TestAllow_LocalWindowConcurrent(t *testing.T) {
	uc := newTestRateLimiter(nil, 60)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if uc.Allow(ctx, "s1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 60, allowed)
}

func TestLocalWindows_Reset(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := newLocalWindows(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		ok, _, _ := w.acquire("s1", 3, time.Minute)
		assert.True(t, ok)
	}
	ok, count, resetAt := w.acquire("s1", 3, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 3, count)
	assert.Equal(t, now.Add(time.Minute), resetAt)

	now = now.Add(time.Minute)
	ok, count, _ = w.acquire("s1", 3, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestStatus_RepoPeek(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo, 60)
	ctx := context.Background()
	reset := time.Now().Add(30 * time.Second)

	mockRepo.On("Peek", ctx, "s1", time.Minute).Return(45, reset, nil)

	status := uc.Status(ctx, "s1")
	assert.Equal(t, 60, status.Limit)
	assert.Equal(t, 45, status.RequestsInWindow)
	assert.Equal(t, 15, status.Remaining)
	assert.Equal(t, reset, status.ResetAt)
	assert.False(t, status.Limited)
}

func TestNewRateLimiterUseCase_MemoryBackend(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := NewRateLimiterUseCase(&conf.RateLimit{MaxPerWindow: 1, Window: time.Minute, Backend: "memory"}, mockRepo, log.DefaultLogger)

	assert.True(t, uc.Allow(context.Background(), "s1"))
	assert.False(t, uc.Allow(context.Background(), "s1"))
	mockRepo.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
