package model

// Audit event type constants
const (
	AuditSessionStarted     = "SESSION_STARTED"
	AuditSessionStopped     = "SESSION_STOPPED"
	AuditSessionAutoStopped = "SESSION_AUTO_STOPPED"
	AuditCircuitOpened      = "CIRCUIT_OPENED"
	AuditCircuitHalfOpen    = "CIRCUIT_HALF_OPEN"
	AuditCircuitClosed      = "CIRCUIT_CLOSED"
	AuditEventsAckFailed    = "EVENTS_ACK_FAILED"
	AuditEventsRequeued     = "EVENTS_REQUEUED"
)

// AuditEntry is one audit trail record.
type AuditEntry struct {
	SessionID string
	EventType string
	Reason    string
	Metadata  map[string]interface{}
}
