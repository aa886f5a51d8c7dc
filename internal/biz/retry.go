package biz

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"OrderRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// RetryConfig 重试参数
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the fraction of the delay applied as uniform ± noise.
	Jitter float64
}

// RetryAttempt records one call made by the engine.
type RetryAttempt struct {
	Number      int           `json:"number"`
	Delay       time.Duration `json:"delay"` // wait before this attempt
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Kind        ErrorKind     `json:"kind"`
	ShouldRetry bool          `json:"shouldRetry"`
}

// RetryResult is the structured outcome of ExecuteWithRetry.
type RetryResult struct {
	Success       bool
	Attempts      []RetryAttempt
	FinalAttempt  int
	TotalDuration time.Duration
	// Kind is KindExhausted when every attempt failed with a retryable error.
	Kind     ErrorKind
	LastKind ErrorKind
	Err      error
}

// RetryEngine runs an operation with exponential backoff and jitter.
type RetryEngine struct {
	cfg    RetryConfig
	logger *log.Helper

	mu   sync.Mutex
	rand *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRetryEngine creates a new retry engine from configuration.
func NewRetryEngine(c *conf.Retry, logger log.Logger) *RetryEngine {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: 0.25}
	if c != nil {
		if c.MaxAttempts > 0 {
			cfg.MaxAttempts = c.MaxAttempts
		}
		if c.InitialDelay > 0 {
			cfg.InitialDelay = c.InitialDelay
		}
		if c.MaxDelay > 0 {
			cfg.MaxDelay = c.MaxDelay
		}
		if c.Multiplier >= 1 {
			cfg.Multiplier = c.Multiplier
		}
		if c.Jitter >= 0 && c.Jitter < 1 {
			cfg.Jitter = c.Jitter
		}
	}
	return &RetryEngine{
		cfg:    cfg,
		logger: log.NewHelper(logger),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (e *RetryEngine) Config() RetryConfig {
	return e.cfg
}

// BaseDelay is the pre-jitter delay before attempt k (k >= 2):
// min(maxDelay, initialDelay * multiplier^(k-1)).
func (e *RetryEngine) BaseDelay(k int) time.Duration {
	if k < 2 {
		return 0
	}
	d := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(k-1))
	if d > float64(e.cfg.MaxDelay) {
		return e.cfg.MaxDelay
	}
	return time.Duration(d)
}

func (e *RetryEngine) jittered(d time.Duration) time.Duration {
	if e.cfg.Jitter <= 0 || d <= 0 {
		return d
	}
	e.mu.Lock()
	r := e.rand.Float64()
	e.mu.Unlock()
	out := time.Duration(float64(d) * (1 + e.cfg.Jitter*(2*r-1)))
	if out < 0 {
		return 0
	}
	return out
}

// ExecuteWithRetry calls op until it succeeds, fails with a terminal error,
// maxAttempts is reached or ctx is done.
func (e *RetryEngine) ExecuteWithRetry(ctx context.Context, name string, op func(ctx context.Context, attempt int) error) *RetryResult {
	started := e.now()
	result := &RetryResult{}
	var delay time.Duration

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay = e.jittered(e.BaseDelay(attempt))
			if err := e.sleep(ctx, delay); err != nil {
				result.Err = err
				result.Kind = ClassifyError(err)
				break
			}
		}

		rec := RetryAttempt{Number: attempt, Delay: delay, StartedAt: e.now()}
		err := op(ctx, attempt)
		rec.EndedAt = e.now()
		result.FinalAttempt = attempt

		if err == nil {
			rec.Success = true
			result.Attempts = append(result.Attempts, rec)
			result.Success = true
			result.Kind = KindNone
			result.LastKind = KindNone
			result.Err = nil
			break
		}

		kind := ClassifyError(err)
		rec.Error = err.Error()
		rec.Kind = kind
		rec.ShouldRetry = kind.Retryable() && attempt < e.cfg.MaxAttempts && ctx.Err() == nil
		result.Attempts = append(result.Attempts, rec)
		result.LastKind = kind
		result.Err = err

		if !kind.Retryable() {
			result.Kind = kind
			e.logger.Warnw("msg", "non-retryable failure", "operation", name, "attempt", attempt, "kind", kind.String(), "error", err)
			break
		}
		if !rec.ShouldRetry {
			if attempt == e.cfg.MaxAttempts {
				result.Kind = KindExhausted
				result.Err = newExhaustedError(attempt, err)
				e.logger.Errorw("msg", "retry attempts exhausted", "operation", name, "attempts", attempt, "error", err)
			} else {
				result.Kind = kind
			}
			break
		}
		e.logger.Warnw("msg", "attempt failed, retrying", "operation", name, "attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts, "kind", kind.String(), "error", err)
	}

	result.TotalDuration = e.now().Sub(started)
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
