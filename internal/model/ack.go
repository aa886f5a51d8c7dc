package model

import "time"

// AcknowledgmentBatch is the audit record of one outbound acknowledgment call.
// It is written once, after the call completes.
type AcknowledgmentBatch struct {
	ID             string
	SessionID      string
	EventIDs       []string
	StartedAt      time.Time
	CompletedAt    time.Time
	Success        bool
	SucceededCount int
	FailedCount    int
	Attempts       int
	APILatency     time.Duration
	StatusCode     int
	ErrorKind      string
	ErrorMessage   string
	RawResponse    string
}

// AcknowledgmentStatistics summarizes the last 24h of acknowledgment activity.
type AcknowledgmentStatistics struct {
	TotalEvents        int64   `json:"totalEvents"`
	AcknowledgedEvents int64   `json:"acknowledgedEvents"`
	PendingEvents      int64   `json:"pendingEvents"`
	FailedEvents       int64   `json:"failedEvents"`
	AcknowledgmentRate float64 `json:"acknowledgmentRate"`
	TotalBatches       int64   `json:"totalBatches"`
	SuccessfulBatches  int64   `json:"successfulBatches"`
	AvgBatchLatencyMs  float64 `json:"avgBatchLatencyMs"`
}
