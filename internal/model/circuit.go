package model

import "time"

// CircuitState 熔断器状态
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitSnapshot is an immutable view of one session's breaker.
type CircuitSnapshot struct {
	SessionID     string       `json:"sessionId"`
	State         CircuitState `json:"state"`
	Failures      int          `json:"failures"`
	LastFailureAt time.Time    `json:"lastFailureAt,omitempty"`
	// ProbeInFlight 半开状态下是否已放行试探请求
	ProbeInFlight bool      `json:"probeInFlight"`
	ChangedAt     time.Time `json:"changedAt"`
}
