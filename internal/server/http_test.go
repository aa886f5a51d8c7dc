package server

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OrderRelay/internal/biz"
	"OrderRelay/internal/conf"
	"OrderRelay/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires an in-memory service; no session can actually start
// because there is no credential provider or upstream.
func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	logger := log.DefaultLogger
	reg := prometheus.NewRegistry()
	metrics := biz.NewMetrics(reg)

	compliance := &conf.Compliance{}
	alerts := biz.NewAlertManager(compliance, nil, nil, metrics, logger)
	monitor := biz.NewComplianceMonitor(compliance, alerts,
		biz.NewAPIResponseMonitor(compliance, metrics, logger), biz.NewResourceMonitor(compliance), metrics, logger)
	creds := biz.NewCredentialCache(&conf.Cache{}, nil, logger)
	limiter := biz.NewRateLimiterUseCase(&conf.RateLimit{Backend: "memory"}, nil, logger)
	breakers := biz.NewCircuitBreakers(&conf.Breaker{}, nil, nil, logger)
	acker := biz.NewAcknowledger(&conf.Acknowledgment{}, nil, nil, creds, limiter, breakers, biz.NewRetryEngine(&conf.Retry{}, logger), monitor, nil, metrics, logger)
	sessions := biz.NewSessionManager(&conf.Polling{}, &conf.Acknowledgment{}, nil, nil, creds,
		biz.NewDeduplicator(&conf.Dedup{}, logger), limiter, breakers, acker, monitor, nil, metrics, logger)

	svc := service.NewPollingService(sessions, alerts, logger)
	srv := NewHTTPServer(&conf.Server{Http: &conf.Server_HTTP{AdminToken: token}}, svc, reg, logger)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url string, header map[string]string) (*nethttp.Response, map[string]interface{}) {
	t.Helper()
	req, err := nethttp.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestAdminTokenGuardsControlRoutes(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp, body := doRequest(t, "GET", ts.URL+"/api/v1/sessions", nil)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["reason"])

	resp, _ = doRequest(t, "GET", ts.URL+"/api/v1/sessions", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, 401, resp.StatusCode)

	resp, body = doRequest(t, "GET", ts.URL+"/api/v1/sessions", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])

	resp, _ = doRequest(t, "GET", ts.URL+"/api/v1/alerts", map[string]string{"X-Admin-Token": "s3cret"})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHealthSkipsAdminToken(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp, body := doRequest(t, "GET", ts.URL+"/health", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "IDLE", body["status"])
	assert.Contains(t, body, "config")
}

func TestEmptyTokenDisablesCheck(t *testing.T) {
	ts := newTestServer(t, "")

	resp, _ := doRequest(t, "GET", ts.URL+"/api/v1/sessions", nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRoutesMapErrors(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := doRequest(t, "GET", ts.URL+"/api/v1/sessions/ghost", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, biz.ReasonSessionNotFound, body["reason"])

	resp, body = doRequest(t, "POST", ts.URL+"/api/v1/sessions/ghost/stop", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, biz.ReasonNotRunning, body["reason"])

	resp, body = doRequest(t, "POST", ts.URL+"/api/v1/alerts/a-1/acknowledge", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, biz.ReasonAlertNotFound, body["reason"])

	resp, body = doRequest(t, "POST", ts.URL+"/api/v1/sessions:emergency-stop", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 0, body["stopped"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp, err := nethttp.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
