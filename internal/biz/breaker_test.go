package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestBreakers(repo CircuitStateRepo, audit AuditLogger) (*CircuitBreakers, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreakers(&conf.Breaker{Threshold: 3, Timeout: time.Minute}, repo, audit, log.DefaultLogger)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreaker_Transitions(t *testing.T) {
	audit := &recordingAudit{}
	cb, now := newTestBreakers(nil, audit)
	ctx := context.Background()
	b := cb.Get(ctx, "s1")

	assert.True(t, b.Allow(ctx))
	b.Record(ctx, true)
	b.Record(ctx, true)
	assert.Equal(t, model.CircuitClosed, b.Snapshot().State)
	assert.Equal(t, 2, b.Snapshot().Failures)

	from, to := b.Record(ctx, true)
	assert.Equal(t, model.CircuitClosed, from)
	assert.Equal(t, model.CircuitOpen, to)
	assert.False(t, b.Allow(ctx))

	*now = now.Add(59 * time.Second)
	assert.False(t, b.Allow(ctx))

	*now = now.Add(time.Second)
	assert.True(t, b.Allow(ctx), "first call after timeout is the probe")
	assert.Equal(t, model.CircuitHalfOpen, b.Snapshot().State)
	assert.False(t, b.Allow(ctx), "only one probe while half-open")

	from, to = b.Record(ctx, false)
	assert.Equal(t, model.CircuitHalfOpen, from)
	assert.Equal(t, model.CircuitClosed, to)
	assert.Equal(t, 0, b.Snapshot().Failures)
	assert.True(t, b.Allow(ctx))

	assert.Equal(t, []string{model.AuditCircuitOpened, model.AuditCircuitHalfOpen, model.AuditCircuitClosed}, audit.types())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreakers(nil, nil)
	ctx := context.Background()
	b := cb.Get(ctx, "s1")
	for i := 0; i < 3; i++ {
		b.Record(ctx, true)
	}
	*now = now.Add(time.Minute)
	assert.True(t, b.Allow(ctx))

	_, to := b.Record(ctx, true)
	assert.Equal(t, model.CircuitOpen, to)
	// 计时器重新开始
	assert.False(t, b.Allow(ctx))
	*now = now.Add(time.Minute)
	assert.True(t, b.Allow(ctx))
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreakers(nil, nil)
	ctx := context.Background()
	b := cb.Get(ctx, "s1")

	b.Record(ctx, true)
	b.Record(ctx, true)
	b.Record(ctx, false)
	b.Record(ctx, true)
	assert.Equal(t, model.CircuitClosed, b.Snapshot().State)
	assert.Equal(t, 1, b.Snapshot().Failures)
}

func TestBreaker_SessionsAreIndependent(t *testing.T) {
	cb, _ := newTestBreakers(nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cb.Get(ctx, "s1").Record(ctx, true)
	}
	assert.Equal(t, model.CircuitOpen, cb.Snapshot("s1").State)
	assert.True(t, cb.Get(ctx, "s2").Allow(ctx))
	assert.Len(t, cb.Snapshots(), 2)
}

func TestBreaker_RestoresMirroredState(t *testing.T) {
	repo := new(MockCircuitStateRepo)
	cb, now := newTestBreakers(repo, nil)
	ctx := context.Background()

	repo.On("LoadCircuit", ctx, "s1").Return(&model.CircuitSnapshot{
		State:         model.CircuitOpen,
		Failures:      3,
		LastFailureAt: now.Add(-10 * time.Second),
		ProbeInFlight: true,
	}, nil)
	repo.On("SaveCircuit", ctx, mock.Anything).Return(nil)

	b := cb.Get(ctx, "s1")
	snap := b.Snapshot()
	assert.Equal(t, model.CircuitOpen, snap.State)
	assert.False(t, snap.ProbeInFlight)
	assert.Equal(t, "s1", snap.SessionID)
	assert.False(t, b.Allow(ctx))

	// 第二次 Get 不再读取 Redis
	cb.Get(ctx, "s1")
	repo.AssertNumberOfCalls(t, "LoadCircuit", 1)
}

func TestBreaker_RepoErrorsDegrade(t *testing.T) {
	repo := new(MockCircuitStateRepo)
	cb, _ := newTestBreakers(repo, nil)
	ctx := context.Background()

	repo.On("LoadCircuit", ctx, "s1").Return(nil, errors.New("redis down"))
	repo.On("SaveCircuit", ctx, mock.Anything).Return(errors.New("redis down"))

	b := cb.Get(ctx, "s1")
	for i := 0; i < 3; i++ {
		b.Record(ctx, true)
	}
	assert.Equal(t, model.CircuitOpen, b.Snapshot().State)
	repo.AssertCalled(t, "SaveCircuit", ctx, mock.MatchedBy(func(s model.CircuitSnapshot) bool {
		return s.State == model.CircuitOpen
	}))
}

func TestIsBreakerFailure(t *testing.T) {
	assert.True(t, IsBreakerFailure(KindTransient))
	assert.True(t, IsBreakerFailure(KindTimeout))
	assert.True(t, IsBreakerFailure(KindExhausted))
	assert.False(t, IsBreakerFailure(KindClient))
	assert.False(t, IsBreakerFailure(KindValidation))
	assert.False(t, IsBreakerFailure(KindNone))
}
