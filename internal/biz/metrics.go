package biz

import (
	"time"

	"OrderRelay/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the pipeline.
type Metrics struct {
	pollCycles       *prometheus.CounterVec
	eventsReceived   prometheus.Counter
	eventsDuplicated prometheus.Counter
	eventsAcked      prometheus.Counter
	eventsAckFailed  prometheus.Counter
	ackBatches       *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	timingAccuracy   *prometheus.GaugeVec
	ackRate          *prometheus.GaugeVec
	circuitState     *prometheus.GaugeVec
	sessionsRunning  prometheus.Gauge
	alerts           *prometheus.CounterVec
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		eventsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "events_received_total",
			Help:      "Events returned by the upstream poll endpoint.",
		}),
		eventsDuplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "events_duplicated_total",
			Help:      "Events discarded as already seen.",
		}),
		eventsAcked: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "events_acknowledged_total",
			Help:      "Events acknowledged upstream.",
		}),
		eventsAckFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "events_ack_failed_total",
			Help:      "Events that reached the acknowledgment attempt ceiling.",
		}),
		ackBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "ack_batches_total",
			Help:      "Acknowledgment batches by result kind.",
		}, []string{"kind"}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderrelay",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		timingAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orderrelay",
			Name:      "timing_accuracy_percent",
			Help:      "Rolling polling timing accuracy per session.",
		}, []string{"session_id"}),
		ackRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orderrelay",
			Name:      "acknowledgment_rate_percent",
			Help:      "Rolling acknowledgment rate per session.",
		}, []string{"session_id"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orderrelay",
			Name:      "circuit_state",
			Help:      "Breaker state per session (0 closed, 1 half-open, 2 open).",
		}, []string{"session_id"}),
		sessionsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "orderrelay",
			Name:      "sessions_running",
			Help:      "Polling sessions currently running.",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderrelay",
			Name:      "alerts_total",
			Help:      "Alerts raised by type and severity.",
		}, []string{"type", "severity"}),
	}
}

func (m *Metrics) ObserveCycle(success bool, received, duplicated int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.pollCycles.WithLabelValues(result).Inc()
	m.eventsReceived.Add(float64(received))
	m.eventsDuplicated.Add(float64(duplicated))
}

func (m *Metrics) ObserveBatch(kind ErrorKind, acked, exhausted int) {
	m.ackBatches.WithLabelValues(kind.String()).Inc()
	m.eventsAcked.Add(float64(acked))
	m.eventsAckFailed.Add(float64(exhausted))
}

func (m *Metrics) ObserveLatency(endpoint string, d time.Duration) {
	m.upstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) SetTimingAccuracy(sessionID string, accuracy float64) {
	m.timingAccuracy.WithLabelValues(sessionID).Set(accuracy)
}

func (m *Metrics) SetAckRate(sessionID string, rate float64) {
	m.ackRate.WithLabelValues(sessionID).Set(rate)
}

func (m *Metrics) SetCircuitState(sessionID string, state model.CircuitState) {
	var v float64
	switch state {
	case model.CircuitHalfOpen:
		v = 1
	case model.CircuitOpen:
		v = 2
	}
	m.circuitState.WithLabelValues(sessionID).Set(v)
}

func (m *Metrics) SetSessionsRunning(n int) {
	m.sessionsRunning.Set(float64(n))
}

func (m *Metrics) IncAlert(t model.AlertType, s model.AlertSeverity) {
	m.alerts.WithLabelValues(string(t), string(s)).Inc()
}

// ForgetSession drops the per-session series of a stopped session.
func (m *Metrics) ForgetSession(sessionID string) {
	m.timingAccuracy.DeleteLabelValues(sessionID)
	m.ackRate.DeleteLabelValues(sessionID)
	m.circuitState.DeleteLabelValues(sessionID)
}
