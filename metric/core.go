package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensorsim"

// Metrics contains the fleet-level simulator metrics
type Metrics struct {
	ReadingsPublished *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	ActiveTasks       prometheus.Gauge
	InventoryRequests *prometheus.CounterVec
}

// NewMetrics creates the simulator metrics. They are not registered anywhere;
// NewMetricsRegistry does that.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "published_total",
				Help:      "Total number of readings published",
			},
			[]string{"category", "broker"},
		),

		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "publish_failures_total",
				Help:      "Total number of failed reading publishes",
			},
			[]string{"category", "broker"},
		),

		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "publish_duration_seconds",
				Help:      "Time spent publishing one reading, connection included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"broker"},
		),

		ActiveTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulation",
				Name:      "active_tasks",
				Help:      "Number of sensor tasks currently running",
			},
		),

		InventoryRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inventory",
				Name:      "requests_total",
				Help:      "Inventory API requests by operation and status code",
			},
			[]string{"operation", "status"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveTasks,
		m.InventoryRequests,
	}
}

// RecordPublish records the outcome of one reading publish. A nil receiver is a no-op.
func (m *Metrics) RecordPublish(category, broker string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.PublishDuration.WithLabelValues(broker).Observe(duration.Seconds())
	if err != nil {
		m.PublishFailures.WithLabelValues(category, broker).Inc()
		return
	}
	m.ReadingsPublished.WithLabelValues(category, broker).Inc()
}

// TaskStarted increments the active task gauge. A nil receiver is a no-op.
func (m *Metrics) TaskStarted() {
	if m != nil {
		m.ActiveTasks.Inc()
	}
}

// TaskStopped decrements the active task gauge. A nil receiver is a no-op.
func (m *Metrics) TaskStopped() {
	if m != nil {
		m.ActiveTasks.Dec()
	}
}

// RecordInventoryRequest counts one inventory API call. status is the HTTP
// status code, or "error" when no response was received.
func (m *Metrics) RecordInventoryRequest(operation, status string) {
	if m != nil {
		m.InventoryRequests.WithLabelValues(operation, status).Inc()
	}
}
