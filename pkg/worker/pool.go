// Package worker provides a generic worker pool with a join barrier.
//
// The simulator sizes the pool to the fleet so every sensor task gets its own
// worker: Submit hands a task over, Close stops intake and Wait blocks until
// every submitted item has been processed.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorsim/metric"
)

// Pool runs a fixed number of workers over a bounded queue of work items of type T
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	closed      bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64

	metricsRegistry metric.MetricsRegistrar
	metricsPrefix   string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	submitted      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics named after prefix with the registry
func WithMetricsRegistry[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a pool. Non-positive sizes fall back to one worker and a
// queue as deep as the worker count.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_busy_workers",
			Help: "Workers currently running a work item",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to full queue",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
		}, []string{"status"}),
	}

	// Registration conflicts leave the pool running without metrics.
	const component = "worker_pool"
	if p.metricsRegistry.RegisterGauge(component, prefix+"_queue_depth", m.queueDepth) != nil ||
		p.metricsRegistry.RegisterGauge(component, prefix+"_busy_workers", m.busyWorkers) != nil ||
		p.metricsRegistry.RegisterCounter(component, prefix+"_submitted_total", m.submitted) != nil ||
		p.metricsRegistry.RegisterCounter(component, prefix+"_failed_total", m.failed) != nil ||
		p.metricsRegistry.RegisterCounter(component, prefix+"_dropped_total", m.dropped) != nil ||
		p.metricsRegistry.RegisterHistogramVec(component, prefix+"_processing_duration_seconds", m.processingTime) != nil {
		return
	}
	p.metrics = m
}

// Start launches the workers. ctx is handed to every processor call.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Submit queues work without blocking. Returns ErrQueueFull if the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Close stops intake. Queued work still runs. Safe to call more than once.
func (p *Pool[T]) Close() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.workChan)
}

// Wait closes intake and blocks until every worker has exited. There is no
// deadline: it returns only after the last processor call returned.
func (p *Pool[T]) Wait() {
	p.Close()
	p.wg.Wait()
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		QueueSize:   p.queueSize,
		QueueDepth:  len(p.workChan),
		BusyWorkers: p.busy.Load(),
		Submitted:   p.submitted.Load(),
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers     int   `json:"workers"`
	QueueSize   int   `json:"queue_size"`
	QueueDepth  int   `json:"queue_depth"`
	BusyWorkers int64 `json:"busy_workers"`
	Submitted   int64 `json:"submitted"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
}

// worker drains the queue until it is closed. Queued items are processed even
// after ctx is done so that every submitted item reaches the processor, which
// is expected to return promptly on a canceled context.
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for work := range p.workChan {
		p.busy.Add(1)
		if p.metrics != nil {
			p.metrics.busyWorkers.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}

		start := time.Now()
		err := p.processor(ctx, work)
		duration := time.Since(start)

		p.processed.Add(1)
		p.busy.Add(-1)
		if err != nil {
			p.failed.Add(1)
		}

		if p.metrics != nil {
			p.metrics.busyWorkers.Dec()
			status := "success"
			if err != nil {
				p.metrics.failed.Inc()
				status = "error"
			}
			p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		}
	}
}
