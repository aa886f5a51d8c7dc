package model

import "time"

// TimingMetrics 轮询节奏指标
type TimingMetrics struct {
	TargetIntervalMs  int64   `json:"targetIntervalMs"`
	AverageIntervalMs float64 `json:"averageIntervalMs"`
	LastDriftMs       int64   `json:"lastDriftMs"`
	AccumulatedDrift  int64   `json:"accumulatedDriftMs"`
	AccuracyPercent   float64 `json:"accuracyPercent"`
	Samples           int     `json:"samples"`
	WithinTolerance   bool    `json:"withinTolerance"`
}

// PerformanceMetrics are the per-session counters maintained by the cycle loop.
type PerformanceMetrics struct {
	TotalCycles        int64   `json:"totalCycles"`
	SuccessfulCycles   int64   `json:"successfulCycles"`
	FailedCycles       int64   `json:"failedCycles"`
	EventsReceived     int64   `json:"eventsReceived"`
	EventsDuplicated   int64   `json:"eventsDuplicated"`
	EventsAcknowledged int64   `json:"eventsAcknowledged"`
	EventsAckFailed    int64   `json:"eventsAckFailed"`
	AvgCycleDurationMs float64 `json:"avgCycleDurationMs"`
	AvgAPILatencyMs    float64 `json:"avgApiLatencyMs"`
}

// SessionStatus is the externally visible state of a polling session.
type SessionStatus struct {
	SessionID         string             `json:"sessionId"`
	Running           bool               `json:"running"`
	TargetIntervalMs  int64              `json:"targetIntervalMs"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	LastPollAt        *time.Time         `json:"lastPollAt,omitempty"`
	NextPollAt        *time.Time         `json:"nextPollAt,omitempty"`
	StoppedReason     string             `json:"stoppedReason,omitempty"`
	Timing            TimingMetrics      `json:"timing"`
	Performance       PerformanceMetrics `json:"performance"`
	Circuit           CircuitSnapshot    `json:"circuit"`
}

// Credential 会话访问上游的凭证
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}
