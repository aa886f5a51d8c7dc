package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// IsBreakerFailure reports whether a batch outcome counts against the breaker.
// Only failures of the endpoint itself do; a 4xx answer means it is up.
func IsBreakerFailure(kind ErrorKind) bool {
	return kind == KindExhausted || kind.Retryable()
}

// Breaker is the CLOSED/OPEN/HALF_OPEN state machine of one session.
// State is an immutable snapshot swapped with CAS so telemetry can read it
// without taking a lock shared with the acknowledgment path.
type Breaker struct {
	sessionID string
	state     atomic.Pointer[model.CircuitSnapshot]
	owner     *CircuitBreakers
}

// CircuitBreakers is the per-session breaker registry.
type CircuitBreakers struct {
	breakers  sync.Map // sessionID → *Breaker
	threshold int
	timeout   time.Duration

	repo   CircuitStateRepo
	audit  AuditLogger
	logger *pkglog.LogHelper
	now    func() time.Time
}

// NewCircuitBreakers creates the registry. repo and audit may be nil.
func NewCircuitBreakers(c *conf.Breaker, repo CircuitStateRepo, audit AuditLogger, logger log.Logger) *CircuitBreakers {
	threshold, timeout := 3, 60*time.Second
	if c != nil {
		if c.Threshold > 0 {
			threshold = c.Threshold
		}
		if c.Timeout > 0 {
			timeout = c.Timeout
		}
	}
	return &CircuitBreakers{
		threshold: threshold,
		timeout:   timeout,
		repo:      repo,
		audit:     audit,
		logger:    pkglog.NewLogHelper(logger),
		now:       time.Now,
	}
}

// Get returns the breaker of a session, restoring the mirrored snapshot the
// first time the session is seen by this process.
func (cb *CircuitBreakers) Get(ctx context.Context, sessionID string) *Breaker {
	if b, ok := cb.breakers.Load(sessionID); ok {
		return b.(*Breaker)
	}

	b := &Breaker{sessionID: sessionID, owner: cb}
	initial := &model.CircuitSnapshot{SessionID: sessionID, State: model.CircuitClosed, ChangedAt: cb.now()}
	if cb.repo != nil {
		snap, err := cb.repo.LoadCircuit(ctx, sessionID)
		if err != nil {
			cb.logger.Warnf("failed to restore circuit state for session %s: %v (degraded mode)", sessionID, err)
		} else if snap != nil {
			restored := *snap
			restored.SessionID = sessionID
			// 重启后之前的试探请求已不存在
			restored.ProbeInFlight = false
			initial = &restored
			cb.logger.Circuit("circuit state restored", "session_id", sessionID, "state", restored.State, "failures", restored.Failures)
		}
	}
	b.state.Store(initial)

	actual, _ := cb.breakers.LoadOrStore(sessionID, b)
	return actual.(*Breaker)
}

// Snapshot returns the current state without creating a breaker.
func (cb *CircuitBreakers) Snapshot(sessionID string) model.CircuitSnapshot {
	if b, ok := cb.breakers.Load(sessionID); ok {
		return b.(*Breaker).Snapshot()
	}
	return model.CircuitSnapshot{SessionID: sessionID, State: model.CircuitClosed}
}

// Snapshots returns every known breaker.
func (cb *CircuitBreakers) Snapshots() []model.CircuitSnapshot {
	var out []model.CircuitSnapshot
	cb.breakers.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Breaker).Snapshot())
		return true
	})
	return out
}

// Threshold returns the configured failure threshold.
func (cb *CircuitBreakers) Threshold() int {
	return cb.threshold
}

// Snapshot 返回当前状态快照
func (b *Breaker) Snapshot() model.CircuitSnapshot {
	return *b.state.Load()
}

// Allow reports whether a call may proceed. In OPEN it flips to HALF_OPEN
// once the timeout since the last failure has elapsed and grants that
// caller the single probe.
func (b *Breaker) Allow(ctx context.Context) bool {
	for {
		cur := b.state.Load()
		switch cur.State {
		case model.CircuitClosed:
			return true

		case model.CircuitOpen:
			now := b.owner.now()
			if now.Sub(cur.LastFailureAt) < b.owner.timeout {
				return false
			}
			next := *cur
			next.State = model.CircuitHalfOpen
			next.ProbeInFlight = true
			next.ChangedAt = now
			if b.state.CompareAndSwap(cur, &next) {
				b.transitioned(ctx, cur.State, &next)
				return true
			}

		case model.CircuitHalfOpen:
			if cur.ProbeInFlight {
				return false
			}
			next := *cur
			next.ProbeInFlight = true
			if b.state.CompareAndSwap(cur, &next) {
				return true
			}

		default:
			return true
		}
	}
}

// Record feeds one batch outcome and returns the state before and after.
func (b *Breaker) Record(ctx context.Context, failure bool) (model.CircuitState, model.CircuitState) {
	for {
		cur := b.state.Load()
		now := b.owner.now()
		next := *cur
		next.ProbeInFlight = false

		if !failure {
			next.State = model.CircuitClosed
			next.Failures = 0
		} else {
			next.Failures++
			next.LastFailureAt = now
			switch cur.State {
			case model.CircuitHalfOpen:
				next.State = model.CircuitOpen
			case model.CircuitClosed:
				if next.Failures >= b.owner.threshold {
					next.State = model.CircuitOpen
				}
			}
		}
		if next.State != cur.State {
			next.ChangedAt = now
		}

		if b.state.CompareAndSwap(cur, &next) {
			if next.State != cur.State {
				b.transitioned(ctx, cur.State, &next)
			} else if next.Failures != cur.Failures {
				b.persist(ctx, &next)
			}
			return cur.State, next.State
		}
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset(ctx context.Context) {
	cur := b.state.Swap(&model.CircuitSnapshot{SessionID: b.sessionID, State: model.CircuitClosed, ChangedAt: b.owner.now()})
	if cur.State != model.CircuitClosed {
		b.transitioned(ctx, cur.State, b.state.Load())
	}
}

func (b *Breaker) transitioned(ctx context.Context, from model.CircuitState, snap *model.CircuitSnapshot) {
	cb := b.owner
	cb.logger.Circuit("circuit state changed",
		"session_id", b.sessionID,
		"from", from,
		"to", snap.State,
		"failures", snap.Failures)

	if cb.audit != nil {
		var event string
		switch snap.State {
		case model.CircuitOpen:
			event = model.AuditCircuitOpened
		case model.CircuitHalfOpen:
			event = model.AuditCircuitHalfOpen
		default:
			event = model.AuditCircuitClosed
		}
		cb.audit.Log(ctx, model.AuditEntry{
			SessionID: b.sessionID,
			EventType: event,
			Reason:    string(from) + " -> " + string(snap.State),
			Metadata:  map[string]interface{}{"failures": snap.Failures},
		})
	}
	b.persist(ctx, snap)
}

func (b *Breaker) persist(ctx context.Context, snap *model.CircuitSnapshot) {
	if b.owner.repo == nil {
		return
	}
	if err := b.owner.repo.SaveCircuit(ctx, *snap); err != nil {
		b.owner.logger.Warnf("failed to mirror circuit state for session %s: %v (degraded mode)", b.sessionID, err)
	}
}
