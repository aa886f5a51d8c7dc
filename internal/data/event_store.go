package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"OrderRelay/internal/model"
	pkgerrors "OrderRelay/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

// EventRecord is the GORM model for ifood_events table.
type EventRecord struct {
	ID             string     `gorm:"primaryKey;column:id;size:255"`
	SessionID      string     `gorm:"column:session_id;size:128;not null;index:idx_events_pending,priority:1"`
	MerchantID     string     `gorm:"column:merchant_id;size:128;index"`
	OrderID        string     `gorm:"column:order_id;size:128;index"`
	Code           string     `gorm:"column:code;size:64;not null"`
	FullCode       string     `gorm:"column:full_code;size:128"`
	Category       string     `gorm:"column:category;size:32"`
	OrderStatus    string     `gorm:"column:order_status;size:32"`
	Payload        string     `gorm:"column:payload;type:text"`
	EventCreatedAt time.Time  `gorm:"column:event_created_at"`
	ReceivedAt     time.Time  `gorm:"column:received_at;not null;index:idx_events_pending,priority:3"`
	ReceiveSeq     int64      `gorm:"column:receive_seq;not null;default:0;index:idx_events_pending,priority:4"`
	AckStatus      string     `gorm:"column:ack_status;size:16;not null;default:PENDING;index:idx_events_pending,priority:2"`
	AckAttempts    int        `gorm:"column:ack_attempts;not null;default:0"`
	LastAttemptAt  *time.Time `gorm:"column:last_attempt_at"`
	LastError      string     `gorm:"column:last_error;type:text"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at"`
	BatchID        string     `gorm:"column:batch_id;size:64"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (EventRecord) TableName() string {
	return "ifood_events"
}

func eventRecordFrom(e *model.Event) *EventRecord {
	status := e.AckStatus
	if status == "" {
		status = model.AckPending
	}
	return &EventRecord{
		ID:             e.ID,
		SessionID:      e.SessionID,
		MerchantID:     e.MerchantID,
		OrderID:        e.OrderID,
		Code:           e.Code,
		FullCode:       e.FullCode,
		Category:       string(e.Category),
		OrderStatus:    e.OrderStatus,
		Payload:        string(e.Payload),
		EventCreatedAt: e.CreatedAt,
		ReceivedAt:     e.ReceivedAt,
		AckStatus:      string(status),
		AckAttempts:    e.AckAttempts,
		LastAttemptAt:  e.LastAttemptAt,
		LastError:      e.LastError,
		AcknowledgedAt: e.AcknowledgedAt,
		BatchID:        e.BatchID,
	}
}

// ToModel converts the row back to the domain type.
func (r *EventRecord) ToModel() *model.Event {
	return &model.Event{
		ID:             r.ID,
		SessionID:      r.SessionID,
		MerchantID:     r.MerchantID,
		OrderID:        r.OrderID,
		Code:           r.Code,
		FullCode:       r.FullCode,
		Category:       model.EventCategory(r.Category),
		OrderStatus:    r.OrderStatus,
		Payload:        json.RawMessage(r.Payload),
		CreatedAt:      r.EventCreatedAt,
		ReceivedAt:     r.ReceivedAt,
		AckStatus:      model.AckStatus(r.AckStatus),
		AckAttempts:    r.AckAttempts,
		LastAttemptAt:  r.LastAttemptAt,
		LastError:      r.LastError,
		AcknowledgedAt: r.AcknowledgedAt,
		BatchID:        r.BatchID,
	}
}

// AckBatchRecord is the GORM model for ifood_acknowledgment_batches table.
type AckBatchRecord struct {
	ID             string    `gorm:"primaryKey;column:id;size:64"`
	SessionID      string    `gorm:"column:session_id;size:128;not null;index:idx_batches_session,priority:1"`
	EventIDs       string    `gorm:"column:event_ids;type:text"` // JSON array
	EventCount     int       `gorm:"column:event_count;not null"`
	StartedAt      time.Time `gorm:"column:started_at;not null;index:idx_batches_session,priority:2"`
	CompletedAt    time.Time `gorm:"column:completed_at"`
	Success        bool      `gorm:"column:success;not null"`
	SucceededCount int       `gorm:"column:succeeded_count"`
	FailedCount    int       `gorm:"column:failed_count"`
	Attempts       int       `gorm:"column:attempts"`
	APILatencyMs   int64     `gorm:"column:api_latency_ms"`
	StatusCode     int       `gorm:"column:status_code"`
	ErrorKind      string    `gorm:"column:error_kind;size:32"`
	ErrorMessage   string    `gorm:"column:error_message;type:text"`
	RawResponse    string    `gorm:"column:raw_response;type:text"`
}

// TableName specifies the table name for GORM
func (AckBatchRecord) TableName() string {
	return "ifood_acknowledgment_batches"
}

// PollingLogRecord is the GORM model for ifood_polling_logs table.
type PollingLogRecord struct {
	ID                 string     `gorm:"primaryKey;column:id;size:64"`
	SessionID          string     `gorm:"column:session_id;size:128;not null;index:idx_polling_session,priority:1"`
	PollingTimestamp   time.Time  `gorm:"column:polling_timestamp;not null;index:idx_polling_session,priority:2"`
	PollingDurationMs  int64      `gorm:"column:polling_duration_ms"`
	StartedAt          time.Time  `gorm:"column:started_at"`
	CompletedAt        time.Time  `gorm:"column:completed_at"`
	NextPollingAt      *time.Time `gorm:"column:next_polling_at"`
	EventsReceived     int        `gorm:"column:events_received"`
	EventsProcessed    int        `gorm:"column:events_processed"`
	EventsDuplicated   int        `gorm:"column:events_duplicated"`
	EventsAcknowledged int        `gorm:"column:events_acknowledged"`
	EventsFailed       int        `gorm:"column:events_failed"`
	APIResponseTimeMs  int64      `gorm:"column:api_response_time_ms"`
	APIStatusCode      int        `gorm:"column:api_status_code"`
	APIErrorMessage    string     `gorm:"column:api_error_message;type:text"`
	Success            bool       `gorm:"column:success;not null"`
	ErrorMessage       string     `gorm:"column:error_message;type:text"`
	MerchantFilter     string     `gorm:"column:merchant_filter;type:text"`
	MemoryUsageMB      float64    `gorm:"column:memory_usage_mb"`
	TimingAccuracy     float64    `gorm:"column:timing_accuracy"`
	DriftMs            int64      `gorm:"column:drift_ms"`
}

// TableName specifies the table name for GORM
func (PollingLogRecord) TableName() string {
	return "ifood_polling_logs"
}

// EventStore implements biz.EventStore on gorm.
type EventStore struct {
	db     *gorm.DB
	logger *log.Helper
	// seq 写入序号，以启动时的纳秒时间为起点，重启后仍单调递增
	seq atomic.Int64
}

func NewEventStore(db *gorm.DB, logger log.Logger) *EventStore {
	s := &EventStore{
		db:     db,
		logger: log.NewHelper(logger),
	}
	s.seq.Store(time.Now().UnixNano())
	return s
}

// dbError wraps err with its driver independent classification.
func dbError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, pkgerrors.ClassifyDBError(err))
}

// UpsertEvents inserts the events whose id is not stored yet and returns
// those ids. Rows already present are left untouched.
func (s *EventStore) UpsertEvents(ctx context.Context, events []*model.Event) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	var existing []string
	if err := s.db.WithContext(ctx).Model(&EventRecord{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, dbError("load existing events", err)
	}
	skip := make(map[string]struct{}, len(existing)+len(events))
	for _, id := range existing {
		skip[id] = struct{}{}
	}

	rows := make([]*EventRecord, 0, len(events))
	for _, e := range events {
		if _, ok := skip[e.ID]; ok {
			continue
		}
		skip[e.ID] = struct{}{}
		rows = append(rows, eventRecordFrom(e))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	// 每次调用占用一段连续序号，同一 received_at 内按到达顺序排列
	base := s.seq.Add(int64(len(rows))) - int64(len(rows))
	for i, r := range rows {
		r.ReceiveSeq = base + int64(i)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, upsertBatchSize)
	if res.Error == nil && res.RowsAffected == int64(len(rows)) {
		return recordIDs(rows), nil
	}
	if res.Error != nil && !pkgerrors.IsDuplicateKeyError(res.Error) {
		return nil, dbError("insert events", res.Error)
	}

	// 部分行被并发写入抢先，以库中序号属于本次写入的行为准
	inserted, err := s.ownedRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	s.logger.Warnw("msg", "concurrent writer stored some events first",
		"events", len(rows), "inserted", len(inserted), "error", res.Error)
	return inserted, nil
}

// ownedRows returns the ids of rows whose stored receive_seq is the one this
// call assigned, in input order.
func (s *EventStore) ownedRows(ctx context.Context, rows []*EventRecord) ([]string, error) {
	var stored []struct {
		ID         string
		ReceiveSeq int64
	}
	err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Select("id", "receive_seq").
		Where("id IN ?", recordIDs(rows)).
		Find(&stored).Error
	if err != nil {
		return nil, dbError("reload inserted events", err)
	}
	seqs := make(map[string]int64, len(stored))
	for _, r := range stored {
		seqs[r.ID] = r.ReceiveSeq
	}
	var inserted []string
	for _, r := range rows {
		if seq, ok := seqs[r.ID]; ok && seq == r.ReceiveSeq {
			inserted = append(inserted, r.ID)
		}
	}
	return inserted, nil
}

func recordIDs(rows []*EventRecord) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

// MarkAcknowledged moves the events to ACKNOWLEDGED.
func (s *EventStore) MarkAcknowledged(ctx context.Context, ids []string, batchID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"ack_status":      string(model.AckSuccess),
			"ack_attempts":    gorm.Expr("ack_attempts + 1"),
			"acknowledged_at": at,
			"last_attempt_at": at,
			"batch_id":        batchID,
			"last_error":      "",
		}).Error
	if err != nil {
		return dbError("mark acknowledged", err)
	}
	return nil
}

// MarkAcknowledgmentFailed counts one failed attempt on each pending id and
// moves the ids that reached maxAttempts to ACK_FAILED.
func (s *EventStore) MarkAcknowledgmentFailed(ctx context.Context, ids []string, batchID, reason string, maxAttempts int, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var exhausted []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EventRecord{}).
			Where("id IN ? AND ack_status = ?", ids, string(model.AckPending)).
			Updates(map[string]interface{}{
				"ack_attempts":    gorm.Expr("ack_attempts + 1"),
				"last_attempt_at": at,
				"last_error":      reason,
				"batch_id":        batchID,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&EventRecord{}).
			Where("id IN ? AND ack_status = ? AND ack_attempts >= ?", ids, string(model.AckPending), maxAttempts).
			Order("id").
			Pluck("id", &exhausted).Error; err != nil {
			return err
		}
		if len(exhausted) == 0 {
			return nil
		}
		return tx.Model(&EventRecord{}).
			Where("id IN ?", exhausted).
			Update("ack_status", string(model.AckFailed)).Error
	})
	if err != nil {
		return nil, dbError("mark acknowledgment failed", err)
	}
	return exhausted, nil
}

// RecordBatch writes the batch audit row.
func (s *EventStore) RecordBatch(ctx context.Context, b *model.AcknowledgmentBatch) error {
	ids, err := json.Marshal(b.EventIDs)
	if err != nil {
		return fmt.Errorf("marshal batch event ids: %w", err)
	}
	row := &AckBatchRecord{
		ID:             b.ID,
		SessionID:      b.SessionID,
		EventIDs:       string(ids),
		EventCount:     len(b.EventIDs),
		StartedAt:      b.StartedAt,
		CompletedAt:    b.CompletedAt,
		Success:        b.Success,
		SucceededCount: b.SucceededCount,
		FailedCount:    b.FailedCount,
		Attempts:       b.Attempts,
		APILatencyMs:   b.APILatency.Milliseconds(),
		StatusCode:     b.StatusCode,
		ErrorKind:      b.ErrorKind,
		ErrorMessage:   b.ErrorMessage,
		RawResponse:    b.RawResponse,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return dbError("record acknowledgment batch", err)
	}
	return nil
}

// RecordPollingCycle writes the polling log row of one cycle.
func (s *EventStore) RecordPollingCycle(ctx context.Context, l *model.PollingLog) error {
	row := &PollingLogRecord{
		ID:                 l.ID,
		SessionID:          l.SessionID,
		PollingTimestamp:   l.PollingTimestamp,
		PollingDurationMs:  l.PollingDurationMs,
		StartedAt:          l.StartedAt,
		CompletedAt:        l.CompletedAt,
		NextPollingAt:      l.NextPollingAt,
		EventsReceived:     l.EventsReceived,
		EventsProcessed:    l.EventsProcessed,
		EventsDuplicated:   l.EventsDuplicated,
		EventsAcknowledged: l.EventsAcknowledged,
		EventsFailed:       l.EventsFailed,
		APIResponseTimeMs:  l.APIResponseTimeMs,
		APIStatusCode:      l.APIStatusCode,
		APIErrorMessage:    l.APIErrorMessage,
		Success:            l.Success,
		ErrorMessage:       l.ErrorMessage,
		MerchantFilter:     l.MerchantFilter,
		MemoryUsageMB:      l.MemoryUsageMB,
		TimingAccuracy:     l.TimingAccuracy,
		DriftMs:            l.DriftMs,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return dbError("record polling log", err)
	}
	return nil
}

// GetPendingAcknowledgments returns pending ids oldest first. Events received
// together keep their arrival order.
func (s *EventStore) GetPendingAcknowledgments(ctx context.Context, sessionID string, limit int) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("session_id = ? AND ack_status = ?", sessionID, string(model.AckPending)).
		Order("received_at ASC").
		Order("receive_seq ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, dbError("load pending acknowledgments", err)
	}
	return ids, nil
}

// GetEvent returns one stored event.
func (s *EventStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var row EventRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, dbError("get event", err)
	}
	return row.ToModel(), nil
}

// PollingStatistics aggregates the polling logs of a session since the given time.
func (s *EventStore) PollingStatistics(ctx context.Context, sessionID string, since time.Time) (*model.PollingStatistics, error) {
	var rows []PollingLogRecord
	err := s.db.WithContext(ctx).
		Select("polling_timestamp", "polling_duration_ms", "events_received", "api_response_time_ms", "success").
		Where("session_id = ? AND polling_timestamp >= ?", sessionID, since).
		Order("polling_timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError("load polling logs", err)
	}

	stats := &model.PollingStatistics{}
	var apiTotal, durationTotal int64
	for i := range rows {
		r := &rows[i]
		stats.TotalPolls++
		stats.TotalEventsReceived += int64(r.EventsReceived)
		apiTotal += r.APIResponseTimeMs
		durationTotal += r.PollingDurationMs
		ts := r.PollingTimestamp
		if r.Success {
			stats.SuccessfulPolls++
			stats.LastSuccessfulPoll = &ts
		} else {
			stats.FailedPolls++
			stats.LastFailedPoll = &ts
		}
	}
	if stats.TotalPolls > 0 {
		n := float64(stats.TotalPolls)
		stats.SuccessRate = float64(stats.SuccessfulPolls) / n * 100
		stats.AvgAPIResponseTime = float64(apiTotal) / n
		stats.AvgPollingDuration = float64(durationTotal) / n
	}
	return stats, nil
}

type statusCount struct {
	AckStatus string
	N         int64
}

type batchAggregate struct {
	Total      int64
	Successful int64
	AvgLatency float64
}

// AcknowledgmentStatistics aggregates events and batches of a session since the given time.
func (s *EventStore) AcknowledgmentStatistics(ctx context.Context, sessionID string, since time.Time) (*model.AcknowledgmentStatistics, error) {
	var counts []statusCount
	err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Select("ack_status, COUNT(*) AS n").
		Where("session_id = ? AND received_at >= ?", sessionID, since).
		Group("ack_status").
		Scan(&counts).Error
	if err != nil {
		return nil, dbError("count events by status", err)
	}

	stats := &model.AcknowledgmentStatistics{}
	for _, c := range counts {
		stats.TotalEvents += c.N
		switch model.AckStatus(c.AckStatus) {
		case model.AckSuccess:
			stats.AcknowledgedEvents += c.N
		case model.AckFailed:
			stats.FailedEvents += c.N
		default:
			stats.PendingEvents += c.N
		}
	}
	if stats.TotalEvents > 0 {
		stats.AcknowledgmentRate = float64(stats.AcknowledgedEvents) / float64(stats.TotalEvents) * 100
	}

	var agg batchAggregate
	err = s.db.WithContext(ctx).Model(&AckBatchRecord{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful, COALESCE(AVG(api_latency_ms), 0) AS avg_latency").
		Where("session_id = ? AND started_at >= ?", sessionID, since).
		Scan(&agg).Error
	if err != nil {
		return nil, dbError("aggregate acknowledgment batches", err)
	}
	stats.TotalBatches = agg.Total
	stats.SuccessfulBatches = agg.Successful
	stats.AvgBatchLatencyMs = agg.AvgLatency
	return stats, nil
}

// ResetFailedAcknowledgments moves the ACK_FAILED events of a session back to PENDING.
func (s *EventStore) ResetFailedAcknowledgments(ctx context.Context, sessionID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("session_id = ? AND ack_status = ?", sessionID, string(model.AckFailed)).
		Updates(map[string]interface{}{
			"ack_status":   string(model.AckPending),
			"ack_attempts": 0,
			"last_error":   "",
		})
	if res.Error != nil {
		return 0, dbError("reset failed acknowledgments", res.Error)
	}
	return res.RowsAffected, nil
}
