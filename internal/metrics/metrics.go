package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ActiveCalls     prometheus.Gauge
	CallsStarted    prometheus.Counter
	CallsEnded      *prometheus.CounterVec
	StatusChanges   *prometheus.CounterVec
	Transfers       *prometheus.CounterVec
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	SessionEvents   *prometheus.CounterVec
	Summaries       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_agent_active_calls",
			Help: "Number of calls currently tracked",
		}),
		CallsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_calls_started_total",
			Help: "Total number of calls started",
		}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_calls_ended_total",
			Help: "Total number of calls ended, by final status",
		}, []string{"status"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_status_changes_total",
			Help: "Total number of call status transitions, by target status",
		}, []string{"status"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_transfers_total",
			Help: "Total number of transfer attempts, by result",
		}, []string{"result"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_backend_requests_total",
			Help: "Total number of backend requests, by endpoint and result",
		}, []string{"endpoint", "result"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_agent_backend_request_duration_seconds",
			Help:    "Backend request latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"endpoint"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_session_events_total",
			Help: "Total number of session events processed, by type",
		}, []string{"type"}),
		Summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_summaries_total",
			Help: "Total number of call summaries, by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ActiveCalls,
		m.CallsStarted,
		m.CallsEnded,
		m.StatusChanges,
		m.Transfers,
		m.BackendRequests,
		m.BackendLatency,
		m.SessionEvents,
		m.Summaries,
	)
	return m
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsStarted.Inc()
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallEnded(status string) {
	if m == nil {
		return
	}
	m.CallsEnded.WithLabelValues(status).Inc()
	m.ActiveCalls.Dec()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) Transfer(result string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(result).Inc()
}

// BackendRequest records one backend call and its latency.
func (m *Metrics) BackendRequest(endpoint string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BackendRequests.WithLabelValues(endpoint, result).Inc()
	m.BackendLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionEvent(eventType string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Summary(result string) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(result).Inc()
}
