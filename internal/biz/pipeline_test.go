package biz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
)

type testPipeline struct {
	source     *MockEventSource
	provider   *MockCredentialProvider
	store      *memEventStore
	audit      *recordingAudit
	creds      *CredentialCache
	dedup      *Deduplicator
	limiter    *RateLimiterUseCase
	breakers   *CircuitBreakers
	retry      *RetryEngine
	alerts     *AlertManager
	compliance *ComplianceMonitor
	acker      *Acknowledger
	sessions   *SessionManager
}

type pipelineOptions struct {
	rateLimit    int
	errorCeiling int
}

func newTestPipeline(t *testing.T, opts pipelineOptions) *testPipeline {
	t.Helper()
	if opts.rateLimit == 0 {
		opts.rateLimit = 120
	}
	if opts.errorCeiling == 0 {
		opts.errorCeiling = 5
	}
	logger := log.DefaultLogger
	metrics := NewMetrics(prometheus.NewRegistry())

	p := &testPipeline{
		source:   new(MockEventSource),
		provider: new(MockCredentialProvider),
		store:    newMemEventStore(),
		audit:    &recordingAudit{},
	}
	p.creds = NewCredentialCache(&conf.Cache{}, p.provider, logger)
	p.dedup = NewDeduplicator(&conf.Dedup{MaxPerSession: 10000}, logger)
	p.limiter = NewRateLimiterUseCase(&conf.RateLimit{MaxPerWindow: opts.rateLimit, Window: time.Minute, Backend: "memory"}, nil, logger)
	p.breakers = NewCircuitBreakers(&conf.Breaker{Threshold: 3, Timeout: time.Minute}, nil, p.audit, logger)
	p.retry = NewRetryEngine(&conf.Retry{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}, logger)
	p.retry.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	cc := &conf.Compliance{}
	p.alerts = NewAlertManager(cc, nil, nil, metrics, logger)
	p.compliance = NewComplianceMonitor(cc, p.alerts, NewAPIResponseMonitor(cc, metrics, logger), NewResourceMonitor(cc), metrics, logger)

	ac := &conf.Acknowledgment{BatchSize: 2000, MaxAttempts: 3, Timeout: time.Second, MaxPendingPerCycle: 4000}
	p.acker = NewAcknowledger(ac, p.source, p.store, p.creds, p.limiter, p.breakers, p.retry, p.compliance, p.audit, metrics, logger)
	p.sessions = NewSessionManager(&conf.Polling{
		Interval:     30 * time.Second,
		Timeout:      time.Second,
		ErrorCeiling: opts.errorCeiling,
	}, ac, p.source, p.store, p.creds, p.dedup, p.limiter, p.breakers, p.acker, p.compliance, p.audit, metrics, logger)
	return p
}

func (p *testPipeline) withCredential(sessionID string, merchants ...string) {
	p.provider.On("GetCredential", mock.Anything, sessionID).Return(&model.Credential{AccessToken: "tok-" + sessionID}, nil)
	p.provider.On("GetMerchantIDs", mock.Anything, sessionID).Return(merchants, nil)
}

// seedPending stores n pending events directly.
func (p *testPipeline) seedPending(sessionID string, n int) []string {
	events := make([]*model.Event, n)
	ids := make([]string, n)
	for i := range events {
		ids[i] = fmt.Sprintf("%s-evt-%05d", sessionID, i)
		events[i] = &model.Event{ID: ids[i], SessionID: sessionID, Code: "PLC"}
	}
	_, _ = p.store.UpsertEvents(context.Background(), events)
	return ids
}

func (p *testPipeline) alertCount(t model.AlertType) int {
	return p.alerts.Statistics().ByType[t]
}

func newEvents(ids ...string) []*model.Event {
	out := make([]*model.Event, len(ids))
	for i, id := range ids {
		out[i] = &model.Event{ID: id, Code: "PLC", Category: model.CategoryOrder, MerchantID: "m1"}
	}
	return out
}
