package model

import "time"

type AlertType string

const (
	AlertAcknowledgmentFailure AlertType = "ACKNOWLEDGMENT_FAILURE"
	AlertPollingTimeout        AlertType = "POLLING_TIMEOUT"
	AlertRateLimitExceeded     AlertType = "RATE_LIMIT_EXCEEDED"
	AlertAPIUnavailable        AlertType = "API_UNAVAILABLE"
	AlertDatabaseError         AlertType = "DATABASE_ERROR"
	AlertCircuitBreakerOpen    AlertType = "CIRCUIT_BREAKER_OPEN"
	AlertMemoryLeakDetected    AlertType = "MEMORY_LEAK_DETECTED"
	AlertTimingDriftCritical   AlertType = "TIMING_DRIFT_CRITICAL"
	AlertSessionAutoStopped    AlertType = "SESSION_AUTO_STOPPED"
	AlertComplianceViolation   AlertType = "COMPLIANCE_VIOLATION"
)

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is data; escalation is left to the AlertNotifier.
type Alert struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"sessionId"`
	Type           AlertType              `json:"type"`
	Severity       AlertSeverity          `json:"severity"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy string                 `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledgedAt,omitempty"`
}

// AlertStatistics 告警统计
type AlertStatistics struct {
	Total        int                   `json:"total"`
	Active       int                   `json:"active"`
	Acknowledged int                   `json:"acknowledged"`
	ByType       map[AlertType]int     `json:"byType"`
	BySeverity   map[AlertSeverity]int `json:"bySeverity"`
}
