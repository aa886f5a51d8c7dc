package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// ComplianceReport is the compliance view of one session.
type ComplianceReport struct {
	SessionID   string    `json:"sessionId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Compliant   bool      `json:"compliant"`
	Violations  []string  `json:"violations,omitempty"`

	// AcknowledgmentRate is the rolling-window rate and drives alerting.
	AcknowledgmentRate float64 `json:"acknowledgmentRate"`
	// BatchAcknowledgmentRate 批次维度（诊断用）
	BatchAcknowledgmentRate float64 `json:"batchAcknowledgmentRate"`
	EventsStored            int64   `json:"eventsStored"`
	EventsAcknowledged      int64   `json:"eventsAcknowledged"`

	Timing           model.TimingMetrics `json:"timing"`
	FailureStreak    int                 `json:"failureStreak"`
	MaxFailureStreak int                 `json:"maxFailureStreak"`
	TotalCycles      int64               `json:"totalCycles"`
	FailedCycles     int64               `json:"failedCycles"`
	ErrorRate        float64             `json:"errorRate"`

	Endpoints       []EndpointStats `json:"endpoints"`
	AvgAPILatencyMs float64         `json:"avgApiLatencyMs"`
	MemoryUsageMB   float64         `json:"memoryUsageMb"`
	MemoryTrendMB   float64         `json:"memoryTrendMb"`
	MemoryLeak      bool            `json:"memoryLeak"`

	Score float64 `json:"score"`
	Grade string  `json:"grade"`

	Circuit      model.CircuitSnapshot           `json:"circuit"`
	Stored24h    *model.AcknowledgmentStatistics `json:"stored24h,omitempty"`
	ActiveAlerts []*model.Alert                  `json:"activeAlerts"`
	RateLimit    RateLimitStatus                 `json:"rateLimit"`
}

type ackBucket struct {
	minute   time.Time
	stored   int64
	acked    int64
	attempts int64
}

type sessionCompliance struct {
	mu      sync.Mutex
	buckets []ackBucket

	cycles       int64
	failedCycles int64
	streak       int
	maxStreak    int
}

// ComplianceMonitor aggregates acknowledgment, timing, failure and memory
// signals per session and raises alerts through the AlertManager.
type ComplianceMonitor struct {
	sessions    sync.Map // sessionID → *sessionCompliance
	window      time.Duration
	minAccuracy float64

	alerts    *AlertManager
	api       *APIResponseMonitor
	resources *ResourceMonitor
	metrics   *Metrics
	logger    *pkglog.LogHelper
	now       func() time.Time
}

func NewComplianceMonitor(c *conf.Compliance, alerts *AlertManager, api *APIResponseMonitor, resources *ResourceMonitor, metrics *Metrics, logger log.Logger) *ComplianceMonitor {
	window, minAccuracy := 24*time.Hour, 99.0
	if c != nil {
		if c.AckRateWindow > 0 {
			window = c.AckRateWindow
		}
		if c.MinTimingAccuracy > 0 {
			minAccuracy = c.MinTimingAccuracy
		}
	}
	return &ComplianceMonitor{
		window:      window,
		minAccuracy: minAccuracy,
		alerts:      alerts,
		api:         api,
		resources:   resources,
		metrics:     metrics,
		logger:      pkglog.NewLogHelper(logger),
		now:         time.Now,
	}
}

func (m *ComplianceMonitor) session(sessionID string) *sessionCompliance {
	if s, ok := m.sessions.Load(sessionID); ok {
		return s.(*sessionCompliance)
	}
	s, _ := m.sessions.LoadOrStore(sessionID, &sessionCompliance{})
	return s.(*sessionCompliance)
}

// bucketLocked returns the bucket of the current minute, pruning expired ones.
func (m *ComplianceMonitor) bucketLocked(s *sessionCompliance) *ackBucket {
	now := m.now()
	minute := now.Truncate(time.Minute)
	cutoff := now.Add(-m.window)

	i := 0
	for i < len(s.buckets) && s.buckets[i].minute.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.buckets = append(s.buckets[:0], s.buckets[i:]...)
	}
	if n := len(s.buckets); n == 0 || !s.buckets[n-1].minute.Equal(minute) {
		s.buckets = append(s.buckets, ackBucket{minute: minute})
	}
	return &s.buckets[len(s.buckets)-1]
}

// RecordStored counts newly stored events.
func (m *ComplianceMonitor) RecordStored(sessionID string, n int) {
	if n <= 0 {
		return
	}
	s := m.session(sessionID)
	s.mu.Lock()
	m.bucketLocked(s).stored += int64(n)
	s.mu.Unlock()
}

// RecordAcknowledgment counts one batch: attempted ids and acknowledged ids.
func (m *ComplianceMonitor) RecordAcknowledgment(sessionID string, attempted, acked int) {
	s := m.session(sessionID)
	s.mu.Lock()
	b := m.bucketLocked(s)
	b.attempts += int64(attempted)
	b.acked += int64(acked)
	s.mu.Unlock()
}

// RecordCycle tracks failure streaks.
func (m *ComplianceMonitor) RecordCycle(sessionID string, success bool) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	if success {
		s.streak = 0
		return
	}
	s.failedCycles++
	s.streak++
	if s.streak > s.maxStreak {
		s.maxStreak = s.streak
	}
}

type ackTotals struct {
	stored, acked, attempts int64
}

func (m *ComplianceMonitor) totals(sessionID string) ackTotals {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.bucketLocked(s)
	var t ackTotals
	for _, b := range s.buckets {
		t.stored += b.stored
		t.acked += b.acked
		t.attempts += b.attempts
	}
	return t
}

func (t ackTotals) rate() float64 {
	if t.stored == 0 {
		return 100
	}
	r := float64(t.acked) / float64(t.stored) * 100
	if r > 100 {
		return 100
	}
	return r
}

func (t ackTotals) batchRate() float64 {
	if t.attempts == 0 {
		return 100
	}
	return float64(t.acked) / float64(t.attempts) * 100
}

// AckRate is the rolling-window acknowledgment rate (acked / stored).
func (m *ComplianceMonitor) AckRate(sessionID string) float64 {
	return m.totals(sessionID).rate()
}

// EvaluateCycle checks the acknowledgment rate and timing accuracy of a
// session and returns the violations found. Called at the end of every cycle.
func (m *ComplianceMonitor) EvaluateCycle(ctx context.Context, sessionID string, timing model.TimingMetrics) []string {
	var violations []string
	t := m.totals(sessionID)
	rate := t.rate()

	if m.metrics != nil {
		m.metrics.SetAckRate(sessionID, rate)
		m.metrics.SetTimingAccuracy(sessionID, timing.AccuracyPercent)
	}

	if rate < 100 {
		msg := fmt.Sprintf("acknowledgment rate %.2f%% (%d/%d)", rate, t.acked, t.stored)
		violations = append(violations, msg)
		m.alerts.Raise(ctx, sessionID, model.AlertComplianceViolation, model.SeverityCritical,
			"Acknowledgment compliance violation", msg,
			map[string]interface{}{"rate": rate, "stored": t.stored, "acknowledged": t.acked})
	}

	if timing.Samples > 0 && timing.AccuracyPercent < m.minAccuracy {
		severity := model.SeverityMedium
		if timing.AccuracyPercent < 95 {
			severity = model.SeverityHigh
		}
		msg := fmt.Sprintf("timing accuracy %.2f%% below %.0f%%", timing.AccuracyPercent, m.minAccuracy)
		violations = append(violations, msg)
		m.alerts.Raise(ctx, sessionID, model.AlertTimingDriftCritical, severity,
			"Polling timing drift", msg,
			map[string]interface{}{"accuracy": timing.AccuracyPercent, "avg_interval_ms": timing.AverageIntervalMs})
	}
	return violations
}

// CheckResources samples memory and raises a leak alert on a growing trend.
func (m *ComplianceMonitor) CheckResources(ctx context.Context) MemorySnapshot {
	snap := m.resources.Sample()
	growth, leak := m.resources.Trend()
	m.logger.Performance("memory sample", "heap_mb", fmt.Sprintf("%.1f", snap.HeapMB), "goroutines", snap.Goroutines, "trend_mb", fmt.Sprintf("%.1f", growth))
	if leak {
		m.alerts.Raise(ctx, "", model.AlertMemoryLeakDetected, model.SeverityHigh,
			"Memory growth detected",
			fmt.Sprintf("heap grew %.1fMB over the last %d samples", growth, memoryTrendWindow),
			map[string]interface{}{"heap_mb": snap.HeapMB, "growth_mb": growth})
	}
	return snap
}

// Report builds the compliance report of one session. The caller adds the
// circuit, store and rate-limit views.
func (m *ComplianceMonitor) Report(sessionID string, timing model.TimingMetrics) *ComplianceReport {
	t := m.totals(sessionID)

	s := m.session(sessionID)
	s.mu.Lock()
	cycles, failed, streak, maxStreak := s.cycles, s.failedCycles, s.streak, s.maxStreak
	s.mu.Unlock()

	r := &ComplianceReport{
		SessionID:               sessionID,
		GeneratedAt:             m.now(),
		AcknowledgmentRate:      t.rate(),
		BatchAcknowledgmentRate: t.batchRate(),
		EventsStored:            t.stored,
		EventsAcknowledged:      t.acked,
		Timing:                  timing,
		FailureStreak:           streak,
		MaxFailureStreak:        maxStreak,
		TotalCycles:             cycles,
		FailedCycles:            failed,
		Endpoints:               m.api.All(),
		AvgAPILatencyMs:         m.api.AverageMs(),
		MemoryUsageMB:           m.resources.Current(),
	}
	if cycles > 0 {
		r.ErrorRate = float64(failed) / float64(cycles) * 100
	}
	r.MemoryTrendMB, r.MemoryLeak = m.resources.Trend()

	accuracy := timing.AccuracyPercent
	if timing.Samples == 0 {
		accuracy = 100
	}
	r.Score, r.Grade = Grade(accuracy, r.AcknowledgmentRate, r.AvgAPILatencyMs, r.ErrorRate)

	if r.AcknowledgmentRate < 100 {
		r.Violations = append(r.Violations, fmt.Sprintf("acknowledgment rate %.2f%% below 100%%", r.AcknowledgmentRate))
	}
	if accuracy < m.minAccuracy {
		r.Violations = append(r.Violations, fmt.Sprintf("timing accuracy %.2f%% below %.0f%%", accuracy, m.minAccuracy))
	}
	if r.MemoryLeak {
		r.Violations = append(r.Violations, fmt.Sprintf("memory grew %.1fMB", r.MemoryTrendMB))
	}
	r.Compliant = len(r.Violations) == 0
	return r
}

// Forget drops the state of a session.
func (m *ComplianceMonitor) Forget(sessionID string) {
	m.sessions.Delete(sessionID)
	if m.metrics != nil {
		m.metrics.ForgetSession(sessionID)
	}
}

// API exposes the response monitor for the cycle loop.
func (m *ComplianceMonitor) API() *APIResponseMonitor {
	return m.api
}

// Resources exposes the resource monitor.
func (m *ComplianceMonitor) Resources() *ResourceMonitor {
	return m.resources
}

// Alerts exposes the alert manager.
func (m *ComplianceMonitor) Alerts() *AlertManager {
	return m.alerts
}
