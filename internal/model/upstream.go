package model

import "time"

// PollResult is one polling call as seen by the pipeline.
type PollResult struct {
	Events     []*Event
	StatusCode int
	Latency    time.Duration
	Rejected   int
}

// AckResponse is one acknowledgment call as seen by the pipeline.
type AckResponse struct {
	StatusCode int
	Latency    time.Duration
	// Failed 上游逐条拒绝的事件 ID → 原因
	Failed map[string]string
	Raw    string
}
