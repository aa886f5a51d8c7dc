package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"OrderRelay/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockEventSource is a mock implementation of EventSource for testing.
type MockEventSource struct {
	mock.Mock
}

func (m *MockEventSource) Poll(ctx context.Context, token string, merchantIDs []string) (*model.PollResult, error) {
	args := m.Called(ctx, token, merchantIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PollResult), args.Error(1)
}

func (m *MockEventSource) Acknowledge(ctx context.Context, token string, eventIDs []string) (*model.AckResponse, error) {
	args := m.Called(ctx, token, eventIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AckResponse), args.Error(1)
}

// MockCredentialProvider is a mock implementation of CredentialProvider for testing.
type MockCredentialProvider struct {
	mock.Mock
}

func (m *MockCredentialProvider) GetCredential(ctx context.Context, sessionID string) (*model.Credential, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockCredentialProvider) GetMerchantIDs(ctx context.Context, sessionID string) ([]string, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockCircuitStateRepo is a mock implementation of CircuitStateRepo for testing.
type MockCircuitStateRepo struct {
	mock.Mock
}

func (m *MockCircuitStateRepo) SaveCircuit(ctx context.Context, snap model.CircuitSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockCircuitStateRepo) LoadCircuit(ctx context.Context, sessionID string) (*model.CircuitSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CircuitSnapshot), args.Error(1)
}

// recordingAudit keeps audit entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, entry model.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.EventType)
	}
	return out
}

// MockAlertNotifier is a mock implementation of AlertNotifier for testing.
type MockAlertNotifier struct {
	mock.Mock
}

func (m *MockAlertNotifier) Notify(ctx context.Context, alert *model.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// memEventStore is an in-memory EventStore with upsert-by-id semantics.
type memEventStore struct {
	mu       sync.Mutex
	events   map[string]*model.Event
	order    []string
	batches  []*model.AcknowledgmentBatch
	logs     []*model.PollingLog
	upsertFn func([]*model.Event) error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]*model.Event)}
}

func (s *memEventStore) UpsertEvents(_ context.Context, events []*model.Event) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertFn != nil {
		if err := s.upsertFn(events); err != nil {
			return nil, err
		}
	}
	var inserted []string
	for _, e := range events {
		if _, ok := s.events[e.ID]; ok {
			continue
		}
		cp := *e
		if cp.AckStatus == "" {
			cp.AckStatus = model.AckPending
		}
		s.events[e.ID] = &cp
		s.order = append(s.order, e.ID)
		inserted = append(inserted, e.ID)
	}
	return inserted, nil
}

func (s *memEventStore) MarkAcknowledged(_ context.Context, ids []string, batchID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			e.AckStatus = model.AckSuccess
			e.AckAttempts++
			e.BatchID = batchID
			t := at
			e.AcknowledgedAt = &t
		}
	}
	return nil
}

func (s *memEventStore) MarkAcknowledgmentFailed(_ context.Context, ids []string, batchID, reason string, maxAttempts int, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exhausted []string
	for _, id := range ids {
		e, ok := s.events[id]
		if !ok {
			continue
		}
		e.AckAttempts++
		e.LastError = reason
		e.BatchID = batchID
		t := at
		e.LastAttemptAt = &t
		if e.AckAttempts >= maxAttempts {
			e.AckStatus = model.AckFailed
			exhausted = append(exhausted, id)
		}
	}
	return exhausted, nil
}

func (s *memEventStore) RecordBatch(_ context.Context, batch *model.AcknowledgmentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memEventStore) RecordPollingCycle(_ context.Context, log *model.PollingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *memEventStore) GetPendingAcknowledgments(_ context.Context, sessionID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		e := s.events[id]
		if e.SessionID != sessionID || e.AckStatus != model.AckPending {
			continue
		}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memEventStore) PollingStatistics(_ context.Context, sessionID string, _ time.Time) (*model.PollingStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.PollingStatistics{}
	for _, l := range s.logs {
		if l.SessionID != sessionID {
			continue
		}
		stats.TotalPolls++
		if l.Success {
			stats.SuccessfulPolls++
		} else {
			stats.FailedPolls++
		}
		stats.TotalEventsReceived += int64(l.EventsReceived)
	}
	if stats.TotalPolls > 0 {
		stats.SuccessRate = float64(stats.SuccessfulPolls) / float64(stats.TotalPolls) * 100
	}
	return stats, nil
}

func (s *memEventStore) AcknowledgmentStatistics(_ context.Context, sessionID string, _ time.Time) (*model.AcknowledgmentStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.AcknowledgmentStatistics{}
	for _, e := range s.events {
		if e.SessionID != sessionID {
			continue
		}
		stats.TotalEvents++
		switch e.AckStatus {
		case model.AckSuccess:
			stats.AcknowledgedEvents++
		case model.AckFailed:
			stats.FailedEvents++
		default:
			stats.PendingEvents++
		}
	}
	if stats.TotalEvents > 0 {
		stats.AcknowledgmentRate = float64(stats.AcknowledgedEvents) / float64(stats.TotalEvents) * 100
	}
	return stats, nil
}

func (s *memEventStore) ResetFailedAcknowledgments(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if e.SessionID == sessionID && e.AckStatus == model.AckFailed {
			e.AckStatus = model.AckPending
			e.AckAttempts = 0
			n++
		}
	}
	return n, nil
}

func (s *memEventStore) status(id string) model.AckStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		return e.AckStatus
	}
	return ""
}

func (s *memEventStore) attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		return e.AckAttempts
	}
	return 0
}

func (s *memEventStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, len(b.EventIDs))
	}
	sort.Ints(out)
	return out
}

func (s *memEventStore) pollingLogs() []*model.PollingLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.PollingLog(nil), s.logs...)
}
