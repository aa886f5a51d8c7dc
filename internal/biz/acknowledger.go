package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	"OrderRelay/pkg/ifood"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// MaxAckBatchSize is the upstream limit of ids per acknowledgment call.
const MaxAckBatchSize = ifood.MaxAckBatch

// BatchResult is the outcome of one acknowledgment batch.
type BatchResult struct {
	BatchID      string
	SessionID    string
	Requested    int
	Acknowledged []string
	// Failed ids stay pending unless they are also in Exhausted.
	Failed    []string
	Exhausted []string
	Success   bool
	Partial   bool
	Kind      ErrorKind
	Err       error
	Attempts  int
	Status    int
	Latency   time.Duration
	Circuit   model.CircuitState
}

// DrainResult summarizes a ProcessPending run.
type DrainResult struct {
	TotalBatches       int       `json:"totalBatches"`
	SuccessfulBatches  int       `json:"successfulBatches"`
	FailedBatches      int       `json:"failedBatches"`
	TotalEvents        int       `json:"totalEvents"`
	AcknowledgedEvents int       `json:"acknowledgedEvents"`
	FailedEvents       int       `json:"failedEvents"`
	Exhausted          []string  `json:"exhausted,omitempty"`
	Kind               ErrorKind `json:"-"`
	Err                error     `json:"-"`
}

// Acknowledger validates, guards and sends acknowledgment batches, then
// records their outcome per event.
type Acknowledger struct {
	source     EventSource
	store      EventStore
	creds      *CredentialCache
	limiter    *RateLimiterUseCase
	breakers   *CircuitBreakers
	retry      *RetryEngine
	compliance *ComplianceMonitor
	audit      AuditLogger
	metrics    *Metrics

	batchSize   int
	maxAttempts int
	timeout     time.Duration

	logger *pkglog.LogHelper
	now    func() time.Time

	// inflight sessionID -> chan struct{}，容量 1
	inflight sync.Map
}

func NewAcknowledger(
	c *conf.Acknowledgment,
	source EventSource,
	store EventStore,
	creds *CredentialCache,
	limiter *RateLimiterUseCase,
	breakers *CircuitBreakers,
	retry *RetryEngine,
	compliance *ComplianceMonitor,
	audit AuditLogger,
	metrics *Metrics,
	logger log.Logger,
) *Acknowledger {
	batchSize, maxAttempts, timeout := MaxAckBatchSize, 3, 10*time.Second
	if c != nil {
		if c.BatchSize > 0 && c.BatchSize <= MaxAckBatchSize {
			batchSize = c.BatchSize
		}
		if c.MaxAttempts > 0 {
			maxAttempts = c.MaxAttempts
		}
		if c.Timeout > 0 {
			timeout = c.Timeout
		}
	}
	return &Acknowledger{
		source:      source,
		store:       store,
		creds:       creds,
		limiter:     limiter,
		breakers:    breakers,
		retry:       retry,
		compliance:  compliance,
		audit:       audit,
		metrics:     metrics,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		logger:      pkglog.NewLogHelper(logger),
		now:         time.Now,
	}
}

// BatchSize returns the effective batch size.
func (a *Acknowledger) BatchSize() int {
	return a.batchSize
}

// validateBatch drops repeated ids and rejects the batch on any invalid one.
func (a *Acknowledger) validateBatch(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, newValidationError("no event ids to acknowledge")
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ifood.ValidateEventID(id); err != nil {
			return nil, newValidationError("invalid event id %q: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > a.batchSize {
		return nil, newValidationError("batch of %d ids exceeds limit %d", len(out), a.batchSize)
	}
	return out, nil
}

// Acknowledge sends one batch of at most BatchSize ids.
func (a *Acknowledger) Acknowledge(ctx context.Context, sessionID string, eventIDs []string) *BatchResult {
	started := a.now()
	res := &BatchResult{BatchID: uuid.NewString(), SessionID: sessionID, Requested: len(eventIDs)}

	ids, err := a.validateBatch(eventIDs)
	if err != nil {
		res.Kind, res.Err = KindValidation, err
		a.logger.AckFailure(ctx, "acknowledgment batch rejected", "batch_id", res.BatchID, "error", err)
		a.finish(ctx, res, eventIDs, started, nil)
		return res
	}

	cred, err := a.creds.GetCredential(ctx, sessionID)
	if err != nil {
		res.Kind, res.Err = KindAuth, err
		a.finish(ctx, res, ids, started, nil)
		return res
	}

	if !a.limiter.Allow(ctx, sessionID) {
		res.Kind = KindRateLimited
		res.Err = newRateLimitedError(sessionID, a.limiter.Status(ctx, sessionID))
		a.finish(ctx, res, ids, started, nil)
		return res
	}

	breaker := a.breakers.Get(ctx, sessionID)
	if !breaker.Allow(ctx) {
		res.Kind, res.Err = KindCircuitOpen, newCircuitOpenError(sessionID)
		res.Circuit = breaker.Snapshot().State
		a.logger.Circuit("acknowledgment skipped, circuit open", "session_id", sessionID, "events", len(ids))
		a.finish(ctx, res, ids, started, nil)
		return res
	}

	var resp *model.AckResponse
	rr := a.retry.ExecuteWithRetry(ctx, "acknowledge", func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		r, err := a.source.Acknowledge(callCtx, cred.AccessToken, ids)
		if r != nil {
			res.Status = r.StatusCode
			res.Latency = r.Latency
			a.compliance.API().Record(EndpointAcknowledge, r.Latency)
		}
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	res.Attempts = rr.FinalAttempt

	at := a.now()
	if rr.Success {
		failed := make(map[string]string)
		for _, id := range ids {
			if reason, ok := resp.Failed[id]; ok {
				failed[id] = reason
				res.Failed = append(res.Failed, id)
			} else {
				res.Acknowledged = append(res.Acknowledged, id)
			}
		}
		if len(res.Acknowledged) > 0 {
			if err := a.store.MarkAcknowledged(ctx, res.Acknowledged, res.BatchID, at); err != nil {
				a.logger.Errorf("failed to mark %d events acknowledged (batch %s): %v", len(res.Acknowledged), res.BatchID, err)
			}
		}
		if len(res.Failed) > 0 {
			res.Partial = true
			res.Err = fmt.Errorf("%d of %d events rejected upstream", len(res.Failed), len(ids))
			res.Exhausted = a.markFailed(ctx, res.BatchID, res.Failed, summarizeReasons(failed), at)
		} else {
			res.Success = true
		}
		res.Kind = KindNone
	} else {
		res.Kind, res.Err = rr.Kind, rr.Err
		res.Failed = ids
		if rr.LastKind == KindAuth {
			// 凭证问题不计入事件的确认次数
			a.creds.Invalidate(sessionID)
		} else {
			res.Exhausted = a.markFailed(ctx, res.BatchID, ids, errString(rr.Err), at)
		}
	}

	from, to := breaker.Record(ctx, IsBreakerFailure(res.Kind))
	res.Circuit = to
	if from != to && to == model.CircuitOpen {
		snap := breaker.Snapshot()
		a.compliance.Alerts().Raise(ctx, sessionID, model.AlertCircuitBreakerOpen, model.SeverityHigh,
			"Circuit breaker opened",
			fmt.Sprintf("acknowledgment endpoint failing for session %s after %d consecutive failures", sessionID, snap.Failures),
			map[string]interface{}{"failures": snap.Failures, "last_error": errString(res.Err)})
	}

	a.finish(ctx, res, ids, started, resp)
	return res
}

func (a *Acknowledger) markFailed(ctx context.Context, batchID string, ids []string, reason string, at time.Time) []string {
	exhausted, err := a.store.MarkAcknowledgmentFailed(ctx, ids, batchID, reason, a.maxAttempts, at)
	if err != nil {
		a.logger.Errorf("failed to record acknowledgment failure for %d events (batch %s): %v", len(ids), batchID, err)
		return nil
	}
	return exhausted
}

// finish records the batch row, feeds telemetry and escalates exhausted events.
func (a *Acknowledger) finish(ctx context.Context, res *BatchResult, ids []string, started time.Time, resp *model.AckResponse) {
	batch := &model.AcknowledgmentBatch{
		ID:             res.BatchID,
		SessionID:      res.SessionID,
		EventIDs:       ids,
		StartedAt:      started,
		CompletedAt:    a.now(),
		Success:        res.Success,
		SucceededCount: len(res.Acknowledged),
		FailedCount:    len(ids) - len(res.Acknowledged),
		Attempts:       res.Attempts,
		APILatency:     res.Latency,
		StatusCode:     res.Status,
		ErrorMessage:   errString(res.Err),
	}
	if res.Kind != KindNone {
		batch.ErrorKind = res.Kind.String()
	}
	if resp != nil {
		batch.RawResponse = resp.Raw
	}
	if err := a.store.RecordBatch(ctx, batch); err != nil {
		a.logger.Errorf("failed to record acknowledgment batch %s: %v", res.BatchID, err)
	}

	if a.metrics != nil {
		a.metrics.ObserveBatch(res.Kind, len(res.Acknowledged), len(res.Exhausted))
		if res.Circuit != "" {
			a.metrics.SetCircuitState(res.SessionID, res.Circuit)
		}
	}
	if res.Attempts > 0 {
		a.compliance.RecordAcknowledgment(res.SessionID, len(ids), len(res.Acknowledged))
	}

	if res.Success {
		a.logger.Acknowledgment(ctx, "events acknowledged",
			"batch_id", res.BatchID,
			"events", len(res.Acknowledged),
			"attempts", res.Attempts,
			"latency_ms", res.Latency.Milliseconds())
	} else if res.Attempts > 0 {
		a.logger.AckFailure(ctx, "acknowledgment batch failed",
			"batch_id", res.BatchID,
			"kind", res.Kind.String(),
			"acknowledged", len(res.Acknowledged),
			"failed", len(res.Failed),
			"exhausted", len(res.Exhausted),
			"attempts", res.Attempts,
			"error", errString(res.Err))
	}

	if len(res.Exhausted) == 0 {
		return
	}
	if a.audit != nil {
		a.audit.Log(ctx, model.AuditEntry{
			SessionID: res.SessionID,
			EventType: model.AuditEventsAckFailed,
			Reason:    errString(res.Err),
			Metadata:  map[string]interface{}{"batch_id": res.BatchID, "event_ids": res.Exhausted},
		})
	}
	a.compliance.Alerts().Raise(ctx, res.SessionID, model.AlertAcknowledgmentFailure, model.SeverityCritical,
		"Events could not be acknowledged",
		fmt.Sprintf("%d events reached %d acknowledgment attempts and need manual intervention", len(res.Exhausted), a.maxAttempts),
		map[string]interface{}{"batch_id": res.BatchID, "event_ids": res.Exhausted, "error": errString(res.Err)})
}

// ProcessPending acknowledges up to limit pending events of a session,
// oldest first, in chunks of BatchSize. limit <= 0 drains everything.
// It stops early when the session is rate limited or its circuit is open.
func (a *Acknowledger) ProcessPending(ctx context.Context, sessionID string, limit int) *DrainResult {
	dr := &DrainResult{}
	unlock, err := a.lockSession(ctx, sessionID)
	if err != nil {
		dr.Kind, dr.Err = ClassifyError(err), err
		return dr
	}
	defer unlock()

	ids, err := a.store.GetPendingAcknowledgments(ctx, sessionID, limit)
	if err != nil {
		dr.Kind, dr.Err = ClassifyError(err), err
		a.logger.Errorf("failed to load pending acknowledgments for session %s: %v", sessionID, err)
		return dr
	}

	ids = a.rejectInvalid(ctx, sessionID, ids, dr)

	for start := 0; start < len(ids); start += a.batchSize {
		end := start + a.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		res := a.Acknowledge(ctx, sessionID, ids[start:end])
		dr.TotalBatches++
		dr.TotalEvents += end - start
		dr.AcknowledgedEvents += len(res.Acknowledged)
		dr.Exhausted = append(dr.Exhausted, res.Exhausted...)
		if res.Success {
			dr.SuccessfulBatches++
			continue
		}
		dr.FailedBatches++
		dr.FailedEvents += len(res.Failed)
		if res.Kind != KindNone {
			dr.Kind, dr.Err = res.Kind, res.Err
		}
		switch res.Kind {
		case KindRateLimited, KindCircuitOpen, KindAuth:
			return dr
		}
		if ctx.Err() != nil {
			return dr
		}
	}
	return dr
}

// lockSession 同一会话的待确认队列同一时间只允许一个消费者
func (a *Acknowledger) lockSession(ctx context.Context, sessionID string) (func(), error) {
	v, _ := a.inflight.LoadOrStore(sessionID, make(chan struct{}, 1))
	slot := v.(chan struct{})
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rejectInvalid terminally fails stored ids that can never be sent.
func (a *Acknowledger) rejectInvalid(ctx context.Context, sessionID string, ids []string, dr *DrainResult) []string {
	var bad []string
	valid := ids[:0:0]
	for _, id := range ids {
		if ifood.ValidateEventID(id) != nil {
			bad = append(bad, id)
			continue
		}
		valid = append(valid, id)
	}
	if len(bad) == 0 {
		return ids
	}
	exhausted, err := a.store.MarkAcknowledgmentFailed(ctx, bad, "", "invalid event id", 1, a.now())
	if err != nil {
		a.logger.Errorf("failed to reject %d invalid event ids: %v", len(bad), err)
	}
	dr.TotalEvents += len(bad)
	dr.FailedEvents += len(bad)
	dr.Exhausted = append(dr.Exhausted, exhausted...)
	a.logger.AckFailure(ctx, "invalid stored event ids failed terminally", "session_id", sessionID, "count", len(bad))
	return valid
}

// ProcessAllPending drains the whole backlog of a session.
func (a *Acknowledger) ProcessAllPending(ctx context.Context, sessionID string) *DrainResult {
	return a.ProcessPending(ctx, sessionID, 0)
}

// RetryFailed moves terminally failed events back to pending.
func (a *Acknowledger) RetryFailed(ctx context.Context, sessionID string) (int64, error) {
	n, err := a.store.ResetFailedAcknowledgments(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if n > 0 && a.audit != nil {
		a.audit.Log(ctx, model.AuditEntry{
			SessionID: sessionID,
			EventType: model.AuditEventsRequeued,
			Reason:    "manual retry of failed acknowledgments",
			Metadata:  map[string]interface{}{"count": n},
		})
	}
	a.logger.Acknowledgment(ctx, "failed events requeued", "session_id", sessionID, "count", n)
	return n, nil
}

func summarizeReasons(failed map[string]string) string {
	seen := make(map[string]struct{})
	var reasons []string
	for _, r := range failed {
		if r == "" {
			r = "rejected"
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		reasons = append(reasons, r)
		if len(reasons) == 5 {
			break
		}
	}
	return strings.Join(reasons, "; ")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
