package model

import "time"

// PollingLog is written once per poll cycle, success or failure.
type PollingLog struct {
	ID                 string
	SessionID          string
	PollingTimestamp   time.Time
	PollingDurationMs  int64
	StartedAt          time.Time
	CompletedAt        time.Time
	NextPollingAt      *time.Time
	EventsReceived     int
	EventsProcessed    int
	EventsDuplicated   int
	EventsAcknowledged int
	EventsFailed       int
	APIResponseTimeMs  int64
	APIStatusCode      int
	APIErrorMessage    string
	Success            bool
	ErrorMessage       string
	MerchantFilter     string
	MemoryUsageMB      float64
	TimingAccuracy     float64
	DriftMs            int64
}

// PollingStatistics 会话最近 24 小时的轮询统计
type PollingStatistics struct {
	TotalPolls          int64      `json:"totalPolls"`
	SuccessfulPolls     int64      `json:"successfulPolls"`
	FailedPolls         int64      `json:"failedPolls"`
	SuccessRate         float64    `json:"successRate"`
	TotalEventsReceived int64      `json:"totalEventsReceived"`
	AvgAPIResponseTime  float64    `json:"avgApiResponseTime"`
	AvgPollingDuration  float64    `json:"avgPollingDuration"`
	LastSuccessfulPoll  *time.Time `json:"lastSuccessfulPoll,omitempty"`
	LastFailedPoll      *time.Time `json:"lastFailedPoll,omitempty"`
	IsCurrentlyRunning  bool       `json:"isCurrentlyRunning"`
}
