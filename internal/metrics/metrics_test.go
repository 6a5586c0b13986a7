package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCallLifecycleCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CallStarted()
	m.CallStarted()
	m.CallEnded("completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveCalls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsEnded.WithLabelValues("completed")))
}

func TestBackendRequestResultLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BackendRequest("calls_started", true, 20*time.Millisecond)
	m.BackendRequest("calls_started", false, time.Second)
	m.BackendRequest("calls_started", false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("calls_started", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("calls_started", "failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CallStarted()
	m.CallEnded("completed")
	m.StatusChanged("connected")
	m.Transfer("success")
	m.BackendRequest("x", true, 0)
	m.SessionEvent("utterance")
	m.Summary("fallback")
}
