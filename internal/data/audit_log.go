package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const auditBufferSize = 1000

// AuditLog is the GORM model for ifood_audit_logs table
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	SessionID string    `gorm:"column:session_id;size:128;index"`
	EventType string    `gorm:"column:event_type;size:50;not null"`
	Reason    string    `gorm:"column:reason;type:text"`
	Details   string    `gorm:"column:details;type:text"` // JSON string
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "ifood_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface.
// Entries are queued on a buffered channel and written by one goroutine.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	done    chan struct{}
	logger  *log.Helper

	mu     sync.RWMutex
	closed bool
}

// NewAuditLogger creates a new audit logger with async channel.
// The cleanup drains the queue before returning.
func NewAuditLogger(db *gorm.DB, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, auditBufferSize),
		done:    make(chan struct{}),
		logger:  log.NewHelper(logger),
	}

	go al.start()

	return al, al.Close
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"session_id", event.SessionID,
				"event_type", event.EventType,
				"error", err)
		} else {
			a.logger.Debugw("msg", "audit log written",
				"session_id", event.SessionID,
				"event_type", event.EventType)
		}
	}
}

// Log queues one entry; it never blocks and drops the entry when the queue is full.
func (a *AuditLoggerImpl) Log(_ context.Context, entry model.AuditEntry) {
	details := ""
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		} else {
			details = string(raw)
		}
	}

	event := &AuditLog{
		SessionID: entry.SessionID,
		EventType: entry.EventType,
		Reason:    entry.Reason,
		Details:   details,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warnw("msg", "audit logger closed, dropping event", "session_id", entry.SessionID, "event_type", entry.EventType)
		return
	}
	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"session_id", entry.SessionID,
			"event_type", entry.EventType)
	}
}

// Close stops accepting entries and waits for the queued ones to be written.
func (a *AuditLoggerImpl) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.logChan)
	a.mu.Unlock()
	<-a.done
}
