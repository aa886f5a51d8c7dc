package biz

import (
	"context"
	"time"

	"OrderRelay/internal/model"
)

// Interfaces below are implemented in the data layer.

// EventSource polls the upstream platform and acknowledges events by id.
type EventSource interface {
	Poll(ctx context.Context, token string, merchantIDs []string) (*model.PollResult, error)
	Acknowledge(ctx context.Context, token string, eventIDs []string) (*model.AckResponse, error)
}

// EventStore is the durable store for events and pipeline telemetry.
type EventStore interface {
	// UpsertEvents is idempotent by event id and returns the ids that were newly inserted.
	UpsertEvents(ctx context.Context, events []*model.Event) ([]string, error)
	MarkAcknowledged(ctx context.Context, ids []string, batchID string, at time.Time) error
	// MarkAcknowledgmentFailed counts one failed attempt per id and returns
	// the ids that reached maxAttempts and are now ACK_FAILED.
	MarkAcknowledgmentFailed(ctx context.Context, ids []string, batchID, reason string, maxAttempts int, at time.Time) ([]string, error)
	RecordBatch(ctx context.Context, batch *model.AcknowledgmentBatch) error
	RecordPollingCycle(ctx context.Context, log *model.PollingLog) error
	// GetPendingAcknowledgments returns pending ids oldest first; limit <= 0 means all.
	GetPendingAcknowledgments(ctx context.Context, sessionID string, limit int) ([]string, error)
	PollingStatistics(ctx context.Context, sessionID string, since time.Time) (*model.PollingStatistics, error)
	AcknowledgmentStatistics(ctx context.Context, sessionID string, since time.Time) (*model.AcknowledgmentStatistics, error)
	ResetFailedAcknowledgments(ctx context.Context, sessionID string) (int64, error)
}

// CredentialProvider resolves the upstream credential and merchant set of a session.
type CredentialProvider interface {
	GetCredential(ctx context.Context, sessionID string) (*model.Credential, error)
	GetMerchantIDs(ctx context.Context, sessionID string) ([]string, error)
}

// RateLimitRepo is a shared fixed-window counter.
type RateLimitRepo interface {
	// Acquire increments the window counter unless it already reached max.
	Acquire(ctx context.Context, sessionID string, max int, window time.Duration) (allowed bool, count int, resetAt time.Time, err error)
	Peek(ctx context.Context, sessionID string, window time.Duration) (count int, resetAt time.Time, err error)
}

// CircuitStateRepo mirrors breaker snapshots so they survive a restart.
type CircuitStateRepo interface {
	SaveCircuit(ctx context.Context, snap model.CircuitSnapshot) error
	LoadCircuit(ctx context.Context, sessionID string) (*model.CircuitSnapshot, error)
}

// AuditLogger writes the audit trail; implementations must not block.
type AuditLogger interface {
	Log(ctx context.Context, entry model.AuditEntry)
}

// AlertRepo persists alerts.
type AlertRepo interface {
	SaveAlert(ctx context.Context, alert *model.Alert) error
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error
	DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertNotifier is the external escalation channel for alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, alert *model.Alert) error
}
