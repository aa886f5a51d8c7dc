package service

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OrderRelay/internal/biz"
	"OrderRelay/internal/conf"
	"OrderRelay/internal/data"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type serviceFixture struct {
	svc      *PollingService
	sessions *biz.SessionManager
	alerts   *biz.AlertManager
	creds    *data.CredentialRepo
	db       *gorm.DB
}

// newServiceFixture wires the real biz stack over SQLite, without Redis,
// against an upstream that never has events.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := log.DefaultLogger

	upstream := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	t.Cleanup(upstream.Close)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dc := &conf.Data{
		Database: &conf.Data_Database{
			Driver:      "sqlite",
			Source:      fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
			AutoMigrate: true,
		},
	}
	db, dbCleanup, err := data.NewDB(dc, logger)
	require.NoError(t, err)
	t.Cleanup(dbCleanup)
	d, dataCleanup, err := data.NewData(dc, logger, nil, data.NewCacheClient(nil), db)
	require.NoError(t, err)
	t.Cleanup(dataCleanup)

	polling := &conf.Polling{Interval: time.Hour, Timeout: 2 * time.Second}
	ack := &conf.Acknowledgment{BatchSize: 100, MaxAttempts: 3, Timeout: 2 * time.Second}
	compliance := &conf.Compliance{}

	source, err := data.NewEventSource(&conf.Upstream{BaseURL: upstream.URL}, polling, ack, logger)
	require.NoError(t, err)
	store := data.NewEventStore(db, logger)
	creds, err := data.NewCredentialRepo(dc, d, logger)
	require.NoError(t, err)
	audit, auditCleanup := data.NewAuditLogger(db, logger)
	t.Cleanup(auditCleanup)

	metrics := biz.NewMetrics(prometheus.NewRegistry())
	credCache := biz.NewCredentialCache(&conf.Cache{}, creds, logger)
	dedup := biz.NewDeduplicator(&conf.Dedup{}, logger)
	limiter := biz.NewRateLimiterUseCase(&conf.RateLimit{Backend: "memory"}, data.NewRateLimitRepo(nil, logger), logger)
	breakers := biz.NewCircuitBreakers(&conf.Breaker{}, data.NewCircuitStateRepo(nil, logger), audit, logger)
	retry := biz.NewRetryEngine(&conf.Retry{MaxAttempts: 1}, logger)
	alerts := biz.NewAlertManager(compliance, data.NewAlertRepo(db, logger), data.NewNoopAlertNotifier(logger), metrics, logger)
	monitor := biz.NewComplianceMonitor(compliance, alerts,
		biz.NewAPIResponseMonitor(compliance, metrics, logger), biz.NewResourceMonitor(compliance), metrics, logger)
	acker := biz.NewAcknowledger(ack, source, store, credCache, limiter, breakers, retry, monitor, audit, metrics, logger)
	sessions := biz.NewSessionManager(polling, ack, source, store, credCache, dedup, limiter, breakers, acker, monitor, audit, metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
	})

	return &serviceFixture{
		svc:      NewPollingService(sessions, alerts, logger),
		sessions: sessions,
		alerts:   alerts,
		creds:    creds,
		db:       db,
	}
}

func (f *serviceFixture) seedSession(t *testing.T, sessionID string, merchants ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.creds.SaveCredential(ctx, sessionID, "token-"+sessionID, nil))
	for _, m := range merchants {
		require.NoError(t, f.db.Create(&data.MerchantRecord{UserID: sessionID, MerchantID: m, Active: true}).Error)
	}
}

func errorCode(err error) int {
	return int(errors.FromError(err).Code)
}

func TestBlankSessionIDIsRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, &SessionRequest{SessionID: "  "})
	require.Error(t, err)
	assert.Equal(t, 400, errorCode(err))
	assert.Equal(t, biz.ReasonValidation, errors.Reason(err))

	_, err = f.svc.GetComplianceReport(ctx, &SessionRequest{})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonValidation, errors.Reason(err))

	_, err = f.svc.AcknowledgeAlert(ctx, &AcknowledgeAlertRequest{})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonValidation, errors.Reason(err))
}

func TestStartSessionWithoutCredential(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.StartSession(context.Background(), &SessionRequest{SessionID: "s-1"})
	require.Error(t, err)
	assert.Equal(t, 401, errorCode(err))
	assert.Equal(t, biz.ReasonNoCredential, errors.Reason(err))
}

func TestStartSessionWithoutMerchants(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "s-1")

	_, err := f.svc.StartSession(context.Background(), &SessionRequest{SessionID: "s-1"})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonNoMerchants, errors.Reason(err))
}

func TestSessionLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s-1", "m-1")

	st, err := f.svc.StartSession(ctx, &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", st.SessionID)
	assert.True(t, st.Running)

	_, err = f.svc.StartSession(ctx, &SessionRequest{SessionID: "s-1"})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonAlreadyRunning, errors.Reason(err))

	list, err := f.svc.ListSessions(ctx, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	health, err := f.svc.Health(ctx, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", health.Status)
	assert.Equal(t, 1, health.RunningSessions)

	stop, err := f.svc.StopSession(ctx, &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "Polling stopped", stop.Message)
	require.NotNil(t, stop.Statistics)
	assert.False(t, stop.Statistics.IsCurrentlyRunning)

	status, err := f.svc.GetSessionStatus(ctx, &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.False(t, status.Running)

	_, err = f.svc.StopSession(ctx, &SessionRequest{SessionID: "s-1"})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonNotRunning, errors.Reason(err))
}

func TestEmergencyStopAll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s-1", "m-1")
	f.seedSession(t, "s-2", "m-2")

	for _, id := range []string{"s-1", "s-2"} {
		_, err := f.svc.StartSession(ctx, &SessionRequest{SessionID: id})
		require.NoError(t, err)
	}

	reply, err := f.svc.EmergencyStopAll(ctx, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Stopped)

	list, err := f.svc.ListSessions(ctx, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)

	health, err := f.svc.Health(ctx, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "IDLE", health.Status)
	assert.Equal(t, 2, health.IdleSessions)
}

func TestUnknownSessionStatus(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.GetSessionStatus(context.Background(), &SessionRequest{SessionID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, 404, errorCode(err))
	assert.Equal(t, biz.ReasonSessionNotFound, errors.Reason(err))
}

func TestDrainAndRetryWithEmptyBacklog(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s-1", "m-1")

	drain, err := f.svc.DrainPending(ctx, &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", drain.SessionID)
	assert.Equal(t, 0, drain.TotalEvents)
	assert.Empty(t, drain.Error)

	retry, err := f.svc.RetryFailed(ctx, &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), retry.Requeued)
}

func TestAlerts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	list, err := f.svc.ListAlerts(ctx, &Empty{})
	require.NoError(t, err)
	assert.Empty(t, list.Alerts)

	_, err = f.svc.AcknowledgeAlert(ctx, &AcknowledgeAlertRequest{AlertID: "missing"})
	require.Error(t, err)
	assert.Equal(t, biz.ReasonAlertNotFound, errors.Reason(err))
}

func TestComplianceReportForIdleSession(t *testing.T) {
	f := newServiceFixture(t)

	report, err := f.svc.GetComplianceReport(context.Background(), &SessionRequest{SessionID: "s-1"})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.ActiveAlerts)
}
