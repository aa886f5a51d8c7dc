package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const circuitMirrorTTL = 24 * time.Hour

// CircuitStateRepo mirrors breaker snapshots to a Redis hash so they survive
// a restart. It implements biz.CircuitStateRepo.
type CircuitStateRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewCircuitStateRepo creates a new circuit state repository
func NewCircuitStateRepo(rdb *redis.Client, logger log.Logger) *CircuitStateRepo {
	return &CircuitStateRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
	}
}

// SaveCircuit writes the snapshot to circuit:{session_id} and refreshes the TTL.
func (r *CircuitStateRepo) SaveCircuit(ctx context.Context, snap model.CircuitSnapshot) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := getCircuitKey(snap.SessionID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"state":           string(snap.State),
			"failures":        snap.Failures,
			"last_failure_at": unixMilli(snap.LastFailureAt),
			"changed_at":      unixMilli(snap.ChangedAt),
		})
		pipe.Expire(ctx, key, circuitMirrorTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save circuit state: %w", err)
	}
	return nil
}

// LoadCircuit returns the mirrored snapshot, nil when none is stored.
func (r *CircuitStateRepo) LoadCircuit(ctx context.Context, sessionID string) (*model.CircuitSnapshot, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	fields, err := r.rdb.HGetAll(ctx, getCircuitKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load circuit state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	state := model.CircuitState(fields["state"])
	switch state {
	case model.CircuitClosed, model.CircuitOpen, model.CircuitHalfOpen:
	default:
		r.logger.Warnw("msg", "ignoring circuit mirror with unknown state", "session_id", sessionID, "state", fields["state"])
		return nil, nil
	}

	failures, _ := strconv.Atoi(fields["failures"])
	return &model.CircuitSnapshot{
		SessionID:     sessionID,
		State:         state,
		Failures:      failures,
		LastFailureAt: fromUnixMilli(fields["last_failure_at"]),
		ChangedAt:     fromUnixMilli(fields["changed_at"]),
	}, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// getCircuitKey Format: circuit:{session_id}
func getCircuitKey(sessionID string) string {
	return fmt.Sprintf("circuit:%s", sessionID)
}
