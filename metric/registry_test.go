package metric

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/health"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().TaskStarted()
	names := gatheredNames(t, registry)
	assert.True(t, names["sensorsim_simulation_active_tasks"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("pool", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("pool", "dup_gauge", gauge))

	err := registry.RegisterGauge("pool", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	err = registry.RegisterGauge("other", "dup_gauge", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus conflict is invalid input")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vec_total", Help: "v"}, []string{"k"})
	require.NoError(t, registry.RegisterCounterVec("pool", "vec_total", vec))

	assert.True(t, registry.Unregister("pool", "vec_total"))
	assert.False(t, registry.Unregister("pool", "vec_total"))

	require.NoError(t, registry.RegisterCounterVec("pool", "vec_total", vec), "re-register after unregister")
}

func TestMetrics_RecordPublish(t *testing.T) {
	m := NewMetrics()

	m.RecordPublish("Temperature", "amqp", 10*time.Millisecond, nil)
	m.RecordPublish("Temperature", "amqp", 10*time.Millisecond, nil)
	m.RecordPublish("Humidity", "amqp", 10*time.Millisecond, assert.AnError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsPublished.WithLabelValues("Temperature", "amqp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("Humidity", "amqp")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReadingsPublished.WithLabelValues("Humidity", "amqp")))
}

func TestMetrics_PublishDurationHistogram(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordPublish("Pressure", "nats", 20*time.Millisecond, nil)
	m.RecordPublish("Pressure", "nats", 40*time.Millisecond, assert.AnError)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var family *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "sensorsim_readings_publish_duration_seconds" {
			family = mf
		}
	}
	require.NotNil(t, family)
	assert.Equal(t, dto.MetricType_HISTOGRAM, family.GetType())
	require.Len(t, family.GetMetric(), 1)

	metric := family.GetMetric()[0]
	require.Len(t, metric.GetLabel(), 1)
	assert.Equal(t, "broker", metric.GetLabel()[0].GetName())
	assert.Equal(t, "nats", metric.GetLabel()[0].GetValue())
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.06, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestMetrics_TaskGauge(t *testing.T) {
	m := NewMetrics()

	m.TaskStarted()
	m.TaskStarted()
	m.TaskStopped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTasks))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordPublish("Pressure", "nats", time.Millisecond, nil)
		m.TaskStarted()
		m.TaskStopped()
		m.RecordInventoryRequest("list", "200")
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordInventoryRequest("create", "201")

	srv := NewServer(0, "", registry)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sensorsim_inventory_requests_total{operation="create",status="201"} 1`)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(0, "/metrics", NewMetricsRegistry())

	errCh, err := srv.Start()
	require.NoError(t, err)

	_, err = srv.Start()
	assert.Error(t, err, "second start must fail")

	resp, err := http.Get(srv.Address())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	for err := range errCh {
		t.Fatalf("unexpected serve error: %v", err)
	}
}

func TestServer_NilRegistry(t *testing.T) {
	_, err := NewServer(0, "", nil).Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_HealthStatus(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.Update("broker", health.NewHealthy("broker", "ok"))

	srv := NewServer(0, "", NewMetricsRegistry(), WithHealth(func() health.Status {
		return monitor.AggregateHealth("sensorsim")
	}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var st health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.True(t, st.IsHealthy())
	require.Len(t, st.SubStatuses, 1)

	monitor.Update("broker", health.NewUnhealthy("broker", "down"))
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
