package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

type alertKey struct {
	sessionID string
	alertType model.AlertType
}

// AlertManager raises, suppresses and tracks alerts. Identical
// (session, type) pairs are suppressed for the cooldown window.
type AlertManager struct {
	mu         sync.Mutex
	alerts     map[string]*model.Alert
	lastRaised map[alertKey]time.Time

	cooldown  time.Duration
	retention time.Duration

	repo     AlertRepo
	notifier AlertNotifier
	metrics  *Metrics
	logger   *pkglog.LogHelper
	now      func() time.Time
}

// NewAlertManager repo, notifier and metrics may be nil.
func NewAlertManager(c *conf.Compliance, repo AlertRepo, notifier AlertNotifier, metrics *Metrics, logger log.Logger) *AlertManager {
	cooldown, retention := 5*time.Minute, 24*time.Hour
	if c != nil {
		if c.AlertCooldown > 0 {
			cooldown = c.AlertCooldown
		}
		if c.AlertRetention > 0 {
			retention = c.AlertRetention
		}
	}
	return &AlertManager{
		alerts:     make(map[string]*model.Alert),
		lastRaised: make(map[alertKey]time.Time),
		cooldown:   cooldown,
		retention:  retention,
		repo:       repo,
		notifier:   notifier,
		metrics:    metrics,
		logger:     pkglog.NewLogHelper(logger),
		now:        time.Now,
	}
}

// Raise records a new alert unless one of the same (session, type) was
// raised within the cooldown. It returns the alert and whether it was raised.
func (m *AlertManager) Raise(ctx context.Context, sessionID string, t model.AlertType, severity model.AlertSeverity, title, message string, details map[string]interface{}) (*model.Alert, bool) {
	now := m.now()
	key := alertKey{sessionID: sessionID, alertType: t}

	m.mu.Lock()
	if last, ok := m.lastRaised[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debugw("msg", "alert suppressed", "session_id", sessionID, "alert_type", t)
		return nil, false
	}
	alert := &model.Alert{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      t,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Details:   details,
		CreatedAt: now,
	}
	m.lastRaised[key] = now
	m.alerts[alert.ID] = alert
	m.mu.Unlock()

	m.logger.Alert(title,
		"alert_id", alert.ID,
		"session_id", sessionID,
		"alert_type", t,
		"severity", severity,
		"message", message)

	if m.metrics != nil {
		m.metrics.IncAlert(t, severity)
	}
	if m.repo != nil {
		if err := m.repo.SaveAlert(ctx, alert); err != nil {
			m.logger.Errorf("failed to persist alert %s: %v", alert.ID, err)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.logger.Warnf("alert notifier failed for %s: %v", alert.ID, err)
		}
	}
	return alert, true
}

// Acknowledge marks an alert as handled by an operator.
func (m *AlertManager) Acknowledge(ctx context.Context, id, by string) (*model.Alert, error) {
	now := m.now()

	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return nil, newAlertNotFoundError(id)
	}
	alert.Acknowledged = true
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now
	cp := *alert
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.AcknowledgeAlert(ctx, id, by, now); err != nil {
			m.logger.Warnf("failed to persist alert acknowledgment %s: %v", id, err)
		}
	}
	m.logger.Infow("msg", "alert acknowledged", "alert_id", id, "by", by)
	return &cp, nil
}

// Active returns unacknowledged alerts, newest first. An empty sessionID
// matches every session.
func (m *AlertManager) Active(sessionID string) []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Alert
	for _, a := range m.alerts {
		if a.Acknowledged || (sessionID != "" && a.SessionID != sessionID) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Statistics 按类型和级别统计
func (m *AlertManager) Statistics() model.AlertStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := model.AlertStatistics{
		ByType:     make(map[model.AlertType]int),
		BySeverity: make(map[model.AlertSeverity]int),
	}
	for _, a := range m.alerts {
		stats.Total++
		if a.Acknowledged {
			stats.Acknowledged++
		} else {
			stats.Active++
		}
		stats.ByType[a.Type]++
		stats.BySeverity[a.Severity]++
	}
	return stats
}

// Cleanup drops alerts older than the retention, in memory and in the store.
func (m *AlertManager) Cleanup(ctx context.Context) int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	removed := 0
	for id, a := range m.alerts {
		if a.CreatedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	for k, at := range m.lastRaised {
		if m.now().Sub(at) >= m.cooldown {
			delete(m.lastRaised, k)
		}
	}
	m.mu.Unlock()

	if m.repo != nil {
		if n, err := m.repo.DeleteAlertsBefore(ctx, cutoff); err != nil {
			m.logger.Warnf("failed to purge stored alerts: %v", err)
		} else if n > 0 {
			m.logger.Database("purged stored alerts", "count", n)
		}
	}
	if removed > 0 {
		m.logger.Infow("msg", "alert cleanup", "removed", removed)
	}
	return removed
}
