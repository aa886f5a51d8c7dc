package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// CycleResult is the outcome of one poll cycle.
type CycleResult struct {
	SessionID    string
	CycleID      string
	StartedAt    time.Time
	Duration     time.Duration
	Received     int
	Stored       int
	Duplicated   int
	Rejected     int
	Acknowledged int
	AckFailed    int
	Success      bool
	Kind         ErrorKind
	Err          error
	NextDelay    time.Duration
	Drift        time.Duration
	Accuracy     float64
	AutoStopped  bool
}

// HealthStatus is the service level health view.
type HealthStatus struct {
	Status          string                `json:"status"`
	RunningSessions int                   `json:"runningSessions"`
	IdleSessions    int                   `json:"idleSessions"`
	StartedAt       time.Time             `json:"startedAt"`
	UptimeSeconds   int64                 `json:"uptimeSeconds"`
	MemoryUsageMB   float64               `json:"memoryUsageMb"`
	Config          HealthConfig          `json:"config"`
	Dedup           DedupStats            `json:"dedup"`
	Cache           CacheStats            `json:"cache"`
	Alerts          model.AlertStatistics `json:"alerts"`
}

// HealthConfig 生效的轮询配置
type HealthConfig struct {
	IntervalMs       int64 `json:"intervalMs"`
	ToleranceMs      int64 `json:"toleranceMs"`
	TimeoutMs        int64 `json:"timeoutMs"`
	MaxEventsPerPoll int   `json:"maxEventsPerPoll"`
	BatchSize        int   `json:"batchSize"`
	ErrorCeiling     int   `json:"errorCeiling"`
}

type pollingConfig struct {
	interval        time.Duration
	tolerance       time.Duration
	timeout         time.Duration
	maxEvents       int
	errorCeiling    int
	correctionCap   time.Duration
	timingSamples   int
	maxPendingCycle int
}

// pollingSession is owned by its cycle loop; mu only guards reads from
// the control surface.
type pollingSession struct {
	id    string
	task  *RepeatingTask
	timer *DriftTimer

	mu                sync.Mutex
	running           bool
	startedAt         time.Time
	lastPollAt        *time.Time
	nextPollAt        *time.Time
	consecutiveErrors int
	stoppedReason     string
	perf              model.PerformanceMetrics
}

// SessionManager runs one polling loop per session.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*pollingSession

	cfg        pollingConfig
	source     EventSource
	store      EventStore
	creds      *CredentialCache
	dedup      *Deduplicator
	limiter    *RateLimiterUseCase
	breakers   *CircuitBreakers
	acker      *Acknowledger
	compliance *ComplianceMonitor
	audit      AuditLogger
	metrics    *Metrics

	startedAt time.Time
	logger    *pkglog.LogHelper
	now       func() time.Time
}

func NewSessionManager(
	c *conf.Polling,
	ac *conf.Acknowledgment,
	source EventSource,
	store EventStore,
	creds *CredentialCache,
	dedup *Deduplicator,
	limiter *RateLimiterUseCase,
	breakers *CircuitBreakers,
	acker *Acknowledger,
	compliance *ComplianceMonitor,
	audit AuditLogger,
	metrics *Metrics,
	logger log.Logger,
) *SessionManager {
	cfg := pollingConfig{
		interval:        30 * time.Second,
		tolerance:       100 * time.Millisecond,
		timeout:         10 * time.Second,
		maxEvents:       1000,
		errorCeiling:    5,
		correctionCap:   500 * time.Millisecond,
		timingSamples:   50,
		maxPendingCycle: 4000,
	}
	if c != nil {
		if c.Interval > 0 {
			cfg.interval = c.Interval
		}
		if c.Tolerance > 0 {
			cfg.tolerance = c.Tolerance
		}
		if c.Timeout > 0 {
			cfg.timeout = c.Timeout
		}
		if c.MaxEventsPerPoll > 0 {
			cfg.maxEvents = c.MaxEventsPerPoll
		}
		if c.ErrorCeiling > 0 {
			cfg.errorCeiling = c.ErrorCeiling
		}
		if c.DriftCorrectionCap > 0 {
			cfg.correctionCap = c.DriftCorrectionCap
		}
		if c.TimingSamples > 0 {
			cfg.timingSamples = c.TimingSamples
		}
	}
	if ac != nil && ac.MaxPendingPerCycle > 0 {
		cfg.maxPendingCycle = ac.MaxPendingPerCycle
	}
	return &SessionManager{
		sessions:   make(map[string]*pollingSession),
		cfg:        cfg,
		source:     source,
		store:      store,
		creds:      creds,
		dedup:      dedup,
		limiter:    limiter,
		breakers:   breakers,
		acker:      acker,
		compliance: compliance,
		audit:      audit,
		metrics:    metrics,
		startedAt:  time.Now(),
		logger:     pkglog.NewLogHelper(logger),
		now:        time.Now,
	}
}

// Start begins polling for a session. The first cycle runs immediately.
func (sm *SessionManager) Start(ctx context.Context, sessionID string) (*model.SessionStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newValidationError("session id is required")
	}

	sm.mu.Lock()
	prev, ok := sm.sessions[sessionID]
	if ok && prev.isRunning() {
		sm.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	sm.mu.Unlock()

	// 上一次停止时可能仍有周期在执行，等它结束再启动新任务
	if ok {
		if err := prev.wait(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := sm.creds.GetCredential(ctx, sessionID); err != nil {
		sm.logger.Warnf("cannot start session %s: %v", sessionID, err)
		return nil, ErrNoCredential
	}
	merchants, err := sm.creds.GetMerchantIDs(ctx, sessionID)
	if err != nil || len(merchants) == 0 {
		if err != nil {
			sm.logger.Warnf("cannot load merchants for session %s: %v", sessionID, err)
		}
		return nil, ErrNoMerchants
	}

	s := &pollingSession{
		id:        sessionID,
		timer:     NewDriftTimer(sm.cfg.interval, sm.cfg.tolerance, sm.cfg.correctionCap, sm.cfg.timingSamples),
		running:   true,
		startedAt: sm.now(),
	}

	sm.mu.Lock()
	// 并发 Start 只有一个生效
	if cur, ok := sm.sessions[sessionID]; ok && cur.isRunning() {
		sm.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	sm.sessions[sessionID] = s
	s.mu.Lock()
	s.task = StartRepeatingTask(func() (time.Duration, bool) {
		res := sm.runCycle(s)
		return res.NextDelay, !res.AutoStopped
	})
	s.task.OnDone(func() { sm.compliance.Forget(sessionID) })
	s.mu.Unlock()
	running := sm.runningCountLocked()
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.SetSessionsRunning(running)
	}
	sm.logger.Scheduler("polling session started",
		"session_id", sessionID,
		"merchants", len(merchants),
		"interval_ms", sm.cfg.interval.Milliseconds())
	sm.auditLog(ctx, sessionID, model.AuditSessionStarted, "started", map[string]interface{}{"merchants": len(merchants)})
	return sm.statusOf(s), nil
}

// Stop cancels the next scheduled cycle; an in-flight cycle still completes
// and is recorded. It returns the statistics of the last 24h.
func (sm *SessionManager) Stop(ctx context.Context, sessionID string) (*model.PollingStatistics, error) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok || !s.isRunning() {
		return nil, ErrNotRunning
	}

	sm.stopSession(s, "stopped by operator")
	sm.auditLog(ctx, sessionID, model.AuditSessionStopped, "stopped by operator", nil)

	stats, err := sm.store.PollingStatistics(ctx, sessionID, sm.now().Add(-24*time.Hour))
	if err != nil {
		sm.logger.Errorf("failed to load polling statistics for session %s: %v", sessionID, err)
		stats = &model.PollingStatistics{}
	}
	stats.IsCurrentlyRunning = false
	return stats, nil
}

func (sm *SessionManager) stopSession(s *pollingSession, reason string) {
	s.mu.Lock()
	s.running = false
	s.stoppedReason = reason
	s.nextPollAt = nil
	task := s.task
	s.mu.Unlock()

	// 合规状态在任务结束后由 OnDone 清理
	inFlight := false
	if task != nil {
		inFlight = task.Stop()
	} else {
		sm.compliance.Forget(s.id)
	}

	sm.mu.Lock()
	running := sm.runningCountLocked()
	sm.mu.Unlock()
	if sm.metrics != nil {
		sm.metrics.SetSessionsRunning(running)
	}
	sm.logger.Scheduler("polling session stopped", "session_id", s.id, "reason", reason, "cycle_in_flight", inFlight)
}

// Status returns the state of a known session, running or not.
func (sm *SessionManager) Status(sessionID string) (*model.SessionStatus, error) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return nil, newSessionNotFoundError(sessionID)
	}
	return sm.statusOf(s), nil
}

// List returns the running sessions ordered by id.
func (sm *SessionManager) List() []*model.SessionStatus {
	sm.mu.Lock()
	var running []*pollingSession
	for _, s := range sm.sessions {
		if s.isRunning() {
			running = append(running, s)
		}
	}
	sm.mu.Unlock()

	out := make([]*model.SessionStatus, 0, len(running))
	for _, s := range running {
		out = append(out, sm.statusOf(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// EmergencyStopAll stops every running session and returns how many were stopped.
func (sm *SessionManager) EmergencyStopAll(ctx context.Context) int {
	sm.mu.Lock()
	var running []*pollingSession
	for _, s := range sm.sessions {
		if s.isRunning() {
			running = append(running, s)
		}
	}
	sm.mu.Unlock()

	for _, s := range running {
		sm.stopSession(s, "emergency stop")
		sm.auditLog(ctx, s.id, model.AuditSessionStopped, "emergency stop", nil)
	}
	sm.logger.Warnf("emergency stop: %d sessions stopped", len(running))
	return len(running)
}

// Shutdown stops all sessions and waits for in-flight cycles until ctx is done.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	var tasks []*RepeatingTask
	for _, s := range sm.sessions {
		if s.isRunning() {
			s.mu.Lock()
			tasks = append(tasks, s.task)
			s.mu.Unlock()
		}
	}
	sm.mu.Unlock()

	sm.EmergencyStopAll(ctx)
	for _, t := range tasks {
		if t == nil {
			continue
		}
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Health reports service status and effective configuration.
func (sm *SessionManager) Health(ctx context.Context) *HealthStatus {
	sm.mu.Lock()
	running := sm.runningCountLocked()
	idle := len(sm.sessions) - running
	sm.mu.Unlock()

	status := "IDLE"
	if running > 0 {
		status = "ACTIVE"
	}
	return &HealthStatus{
		Status:          status,
		RunningSessions: running,
		IdleSessions:    idle,
		StartedAt:       sm.startedAt,
		UptimeSeconds:   int64(sm.now().Sub(sm.startedAt).Seconds()),
		MemoryUsageMB:   sm.compliance.Resources().Current(),
		Config: HealthConfig{
			IntervalMs:       sm.cfg.interval.Milliseconds(),
			ToleranceMs:      sm.cfg.tolerance.Milliseconds(),
			TimeoutMs:        sm.cfg.timeout.Milliseconds(),
			MaxEventsPerPoll: sm.cfg.maxEvents,
			BatchSize:        sm.acker.BatchSize(),
			ErrorCeiling:     sm.cfg.errorCeiling,
		},
		Dedup:  sm.dedup.Stats(),
		Cache:  sm.creds.Stats(),
		Alerts: sm.compliance.Alerts().Statistics(),
	}
}

// ComplianceReport builds the compliance report of a known session.
func (sm *SessionManager) ComplianceReport(ctx context.Context, sessionID string) (*ComplianceReport, error) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	sm.mu.Unlock()

	var timing model.TimingMetrics
	if ok {
		timing = s.timer.Metrics()
	}
	r := sm.compliance.Report(sessionID, timing)
	r.Circuit = sm.breakers.Snapshot(sessionID)
	r.RateLimit = sm.limiter.Status(ctx, sessionID)
	r.ActiveAlerts = sm.compliance.Alerts().Active(sessionID)

	stats, err := sm.store.AcknowledgmentStatistics(ctx, sessionID, sm.now().Add(-24*time.Hour))
	if err != nil {
		sm.logger.Errorf("failed to load acknowledgment statistics for session %s: %v", sessionID, err)
	} else {
		r.Stored24h = stats
	}
	return r, nil
}

// MonitorTick samples memory and refreshes the per-session gauges.
func (sm *SessionManager) MonitorTick(ctx context.Context) {
	sm.compliance.CheckResources(ctx)
	if sm.metrics == nil {
		return
	}
	for _, st := range sm.List() {
		sm.metrics.SetTimingAccuracy(st.SessionID, st.Timing.AccuracyPercent)
		sm.metrics.SetAckRate(st.SessionID, sm.compliance.AckRate(st.SessionID))
		sm.metrics.SetCircuitState(st.SessionID, st.Circuit.State)
	}
}

// ProcessAllPending drains the pending backlog of a session. Cancellation of
// ctx is ignored; every call is still bounded by the acknowledgment timeout.
func (sm *SessionManager) ProcessAllPending(ctx context.Context, sessionID string) *DrainResult {
	return sm.acker.ProcessAllPending(context.WithoutCancel(ctx), sessionID)
}

// RetryFailed requeues terminally failed events of a session.
func (sm *SessionManager) RetryFailed(ctx context.Context, sessionID string) (int64, error) {
	return sm.acker.RetryFailed(ctx, sessionID)
}

// runCycle is one poll → dedup → persist → acknowledge → schedule pass.
func (sm *SessionManager) runCycle(s *pollingSession) *CycleResult {
	ctx := pkglog.WithCycleContext(context.Background(), s.id)
	started := sm.now()
	res := &CycleResult{SessionID: s.id, CycleID: pkglog.GetCycleID(ctx), StartedAt: started}
	res.Drift, res.Accuracy = s.timer.RecordExecution(started)

	plog := &model.PollingLog{
		ID:               uuid.NewString(),
		SessionID:        s.id,
		PollingTimestamp: started,
		StartedAt:        started,
	}

	pollErr := sm.pollAndStore(ctx, s, res, plog)

	// 本周期轮询失败时仍然处理积压的待确认事件
	drain := sm.acker.ProcessPending(ctx, s.id, sm.cfg.maxPendingCycle)
	res.Acknowledged = drain.AcknowledgedEvents
	res.AckFailed = len(drain.Exhausted)

	res.Success = pollErr == nil
	if pollErr != nil {
		res.Err = pollErr
		res.Kind = ClassifyError(pollErr)
	}

	completed := sm.now()
	res.Duration = completed.Sub(started)
	res.NextDelay = s.timer.NextDelay(res.Duration)
	next := completed.Add(res.NextDelay)

	plog.CompletedAt = completed
	plog.PollingDurationMs = res.Duration.Milliseconds()
	plog.NextPollingAt = &next
	plog.EventsReceived = res.Received
	plog.EventsProcessed = res.Stored
	plog.EventsDuplicated = res.Duplicated
	plog.EventsAcknowledged = res.Acknowledged
	plog.EventsFailed = res.Rejected + res.AckFailed
	plog.Success = res.Success
	plog.ErrorMessage = errString(res.Err)
	plog.MemoryUsageMB = sm.compliance.Resources().Current()
	plog.TimingAccuracy = res.Accuracy
	plog.DriftMs = res.Drift.Milliseconds()
	if err := sm.store.RecordPollingCycle(ctx, plog); err != nil {
		sm.logger.Errorf("failed to record polling log for session %s: %v", s.id, err)
		sm.compliance.Alerts().Raise(ctx, s.id, model.AlertDatabaseError, model.SeverityHigh,
			"Polling log not recorded", err.Error(), map[string]interface{}{"cycle_id": res.CycleID})
	}

	sm.compliance.RecordCycle(s.id, res.Success)
	sm.compliance.EvaluateCycle(ctx, s.id, s.timer.Metrics())
	if sm.metrics != nil {
		sm.metrics.ObserveCycle(res.Success, res.Received, res.Duplicated)
	}

	sm.updateSession(ctx, s, res, completed, next)

	sm.logger.Polling(ctx, "poll cycle completed",
		"success", res.Success,
		"received", res.Received,
		"stored", res.Stored,
		"duplicated", res.Duplicated,
		"acknowledged", res.Acknowledged,
		"duration_ms", res.Duration.Milliseconds(),
		"drift_ms", res.Drift.Milliseconds(),
		"accuracy", fmt.Sprintf("%.2f", res.Accuracy),
		"next_delay_ms", res.NextDelay.Milliseconds())
	return res
}

// pollAndStore fetches new events and persists the unseen ones. A nil
// return means the poll part of the cycle succeeded.
func (sm *SessionManager) pollAndStore(ctx context.Context, s *pollingSession, res *CycleResult, plog *model.PollingLog) error {
	cred, err := sm.creds.GetCredential(ctx, s.id)
	if err != nil {
		return ErrNoCredential
	}
	merchants, err := sm.creds.GetMerchantIDs(ctx, s.id)
	if err != nil {
		return err
	}
	if len(merchants) == 0 {
		return ErrNoMerchants
	}
	plog.MerchantFilter = strings.Join(merchants, ",")

	if !sm.limiter.Allow(ctx, s.id) {
		status := sm.limiter.Status(ctx, s.id)
		sm.compliance.Alerts().Raise(ctx, s.id, model.AlertRateLimitExceeded, model.SeverityMedium,
			"Polling rate limited",
			fmt.Sprintf("%d/%d requests in the current window", status.RequestsInWindow, status.Limit),
			map[string]interface{}{"reset_at": status.ResetAt})
		return newRateLimitedError(s.id, status)
	}

	pollCtx, cancel := context.WithTimeout(ctx, sm.cfg.timeout)
	result, err := sm.source.Poll(pollCtx, cred.AccessToken, merchants)
	cancel()
	if result != nil {
		plog.APIStatusCode = result.StatusCode
		plog.APIResponseTimeMs = result.Latency.Milliseconds()
		sm.compliance.API().Record(EndpointPoll, result.Latency)
	}
	if err != nil {
		plog.APIErrorMessage = err.Error()
		sm.pollFailed(ctx, s.id, err)
		return err
	}

	events := result.Events
	res.Rejected = result.Rejected
	if len(events) > sm.cfg.maxEvents {
		sm.logger.Warnf("session %s: poll returned %d events, keeping %d", s.id, len(events), sm.cfg.maxEvents)
		events = events[:sm.cfg.maxEvents]
	}
	res.Received = len(events)

	now := sm.now()
	fresh := make([]*model.Event, 0, len(events))
	freshIDs := make([]string, 0, len(events))
	for _, e := range events {
		if sm.dedup.IsDuplicate(s.id, e.ID) {
			res.Duplicated++
			continue
		}
		e.SessionID = s.id
		e.ReceivedAt = now
		if e.AckStatus == "" {
			e.AckStatus = model.AckPending
		}
		fresh = append(fresh, e)
		freshIDs = append(freshIDs, e.ID)
	}
	if len(fresh) == 0 {
		return nil
	}

	inserted, err := sm.store.UpsertEvents(ctx, fresh)
	if err != nil {
		// 未持久化的事件下次投递时不能被当作重复
		sm.dedup.Forget(s.id, freshIDs)
		sm.compliance.Alerts().Raise(ctx, s.id, model.AlertDatabaseError, model.SeverityHigh,
			"Events not stored", err.Error(), map[string]interface{}{"events": len(fresh)})
		return fmt.Errorf("store events: %w", err)
	}
	res.Stored = len(inserted)
	res.Duplicated += len(fresh) - len(inserted)
	sm.compliance.RecordStored(s.id, len(inserted))
	return nil
}

func (sm *SessionManager) pollFailed(ctx context.Context, sessionID string, err error) {
	switch ClassifyError(err) {
	case KindTimeout:
		sm.compliance.Alerts().Raise(ctx, sessionID, model.AlertPollingTimeout, model.SeverityMedium,
			"Polling request timed out", err.Error(), map[string]interface{}{"timeout_ms": sm.cfg.timeout.Milliseconds()})
	case KindTransient:
		sm.compliance.Alerts().Raise(ctx, sessionID, model.AlertAPIUnavailable, model.SeverityHigh,
			"Upstream API unavailable", err.Error(), nil)
	case KindAuth:
		sm.creds.Invalidate(sessionID)
	}
}

// updateSession applies the cycle outcome to the session record and
// auto-stops it at the error ceiling.
func (sm *SessionManager) updateSession(ctx context.Context, s *pollingSession, res *CycleResult, completed, next time.Time) {
	countsAsError := !res.Success && res.Kind != KindRateLimited

	s.mu.Lock()
	p := &s.perf
	p.TotalCycles++
	if res.Success {
		p.SuccessfulCycles++
	} else {
		p.FailedCycles++
	}
	p.EventsReceived += int64(res.Received)
	p.EventsDuplicated += int64(res.Duplicated)
	p.EventsAcknowledged += int64(res.Acknowledged)
	p.EventsAckFailed += int64(res.AckFailed)
	n := float64(p.TotalCycles)
	p.AvgCycleDurationMs += (float64(res.Duration.Milliseconds()) - p.AvgCycleDurationMs) / n
	if lat := sm.compliance.API().Stats(EndpointPoll); lat.Samples > 0 {
		p.AvgAPILatencyMs = lat.AvgMs
	}

	last := res.StartedAt
	s.lastPollAt = &last
	if s.running {
		s.nextPollAt = &next
	}
	if res.Success {
		s.consecutiveErrors = 0
	} else if countsAsError {
		s.consecutiveErrors++
	}
	errorsNow := s.consecutiveErrors
	stillRunning := s.running
	s.mu.Unlock()

	if !stillRunning || errorsNow < sm.cfg.errorCeiling {
		return
	}

	reason := fmt.Sprintf("auto-stopped after %d consecutive errors: %s", errorsNow, errString(res.Err))
	res.AutoStopped = true
	sm.stopSession(s, reason)
	sm.auditLog(ctx, s.id, model.AuditSessionAutoStopped, reason, map[string]interface{}{"consecutive_errors": errorsNow})
	sm.compliance.Alerts().Raise(ctx, s.id, model.AlertSessionAutoStopped, model.SeverityHigh,
		"Polling session auto-stopped", reason,
		map[string]interface{}{"consecutive_errors": errorsNow, "last_error": errString(res.Err)})
}

func (sm *SessionManager) statusOf(s *pollingSession) *model.SessionStatus {
	s.mu.Lock()
	st := &model.SessionStatus{
		SessionID:         s.id,
		Running:           s.running,
		TargetIntervalMs:  sm.cfg.interval.Milliseconds(),
		ConsecutiveErrors: s.consecutiveErrors,
		LastPollAt:        s.lastPollAt,
		NextPollAt:        s.nextPollAt,
		StoppedReason:     s.stoppedReason,
		Performance:       s.perf,
	}
	started := s.startedAt
	st.StartedAt = &started
	s.mu.Unlock()

	st.Timing = s.timer.Metrics()
	st.Circuit = sm.breakers.Snapshot(s.id)
	return st
}

// wait blocks until the session's task has finished.
func (s *pollingSession) wait(ctx context.Context) error {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	if task == nil {
		return nil
	}
	select {
	case <-task.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pollingSession) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (sm *SessionManager) runningCountLocked() int {
	n := 0
	for _, s := range sm.sessions {
		if s.isRunning() {
			n++
		}
	}
	return n
}

func (sm *SessionManager) auditLog(ctx context.Context, sessionID, event, reason string, meta map[string]interface{}) {
	if sm.audit == nil {
		return
	}
	sm.audit.Log(ctx, model.AuditEntry{SessionID: sessionID, EventType: event, Reason: reason, Metadata: meta})
}
