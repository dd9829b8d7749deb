package sensor

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/metric"
	"github.com/c360/sensorsim/pkg/latch"
)

// DefaultQueue is the queue readings are published to unless configured otherwise.
const DefaultQueue = "data_queue"

// Publisher delivers one payload to a named queue. Implementations acquire and
// release their broker resources inside the call.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// Mode selects how a task runs
type Mode struct {
	single bool
	value  float64
}

// Continuous publishes generated readings until the stop latch is raised.
func Continuous() Mode { return Mode{} }

// SingleShot publishes exactly one reading carrying value.
func SingleShot(value float64) Mode { return Mode{single: true, value: value} }

// IsSingleShot reports whether the mode publishes a single reading.
func (m Mode) IsSingleShot() bool { return m.single }

// Task is the periodic-publish unit for one sensor
type Task struct {
	identity  Identity
	profile   Profile
	publisher Publisher
	stop      *latch.Latch

	queue   string
	broker  string
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
	random  func() float64
}

// TaskOption configures a Task
type TaskOption func(*Task)

// WithQueue sets the destination queue.
func WithQueue(queue string) TaskOption {
	return func(t *Task) {
		if queue != "" {
			t.queue = queue
		}
	}
}

// WithLogger sets the task logger.
func WithLogger(logger *slog.Logger) TaskOption {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics records publish outcomes under the given broker label.
func WithMetrics(m *metric.Metrics, broker string) TaskOption {
	return func(t *Task) {
		t.metrics = m
		t.broker = broker
	}
}

// WithClock overrides the reading timestamp source.
func WithClock(now func() time.Time) TaskOption {
	return func(t *Task) { t.now = now }
}

// WithRandom overrides the uniform [0, 1) source used for values and the
// initial delay.
func WithRandom(random func() float64) TaskOption {
	return func(t *Task) { t.random = random }
}

// NewTask builds a task for one identity. stop may be nil for tasks that only
// ever run SingleShot.
func NewTask(identity Identity, profile Profile, publisher Publisher, stop *latch.Latch, opts ...TaskOption) *Task {
	t := &Task{
		identity:  identity,
		profile:   profile,
		publisher: publisher,
		stop:      stop,
		queue:     DefaultQueue,
		logger:    slog.Default(),
		now:       time.Now,
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("sensor_id", identity.ID, "sensor", identity.DisplayName)
	return t
}

// Run executes the task in the given mode. Continuous runs return nil once the
// stop latch is raised or ctx is done; publish failures never end them.
// SingleShot returns the publish error, if any.
func (t *Task) Run(ctx context.Context, mode Mode) error {
	if mode.single {
		return t.publish(ctx, mode.value)
	}
	if t.stop == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Task", "Run", "continuous mode without stop latch")
	}

	t.metrics.TaskStarted()
	defer t.metrics.TaskStopped()
	defer t.logger.Info("Stopping simulation for sensor")

	period := t.profile.Period()
	if !t.stop.Sleep(ctx, initialDelay(period, t.random())) {
		return nil
	}

	for {
		if t.stop.IsSet() || ctx.Err() != nil {
			return nil
		}

		pubCtx, cancel := t.stop.Bind(ctx)
		err := t.publish(pubCtx, t.profile.Value(t.random()))
		cancel()

		if err != nil {
			if t.stop.IsSet() {
				return nil
			}
			t.logger.Warn("Error sending data for sensor, will retry next tick",
				"error", err, "retry_in", period)
		}

		if !t.stop.Sleep(ctx, period) {
			return nil
		}
	}
}

// initialDelay scales u in [0, 1) onto [0, period), clamping float rounding
// that would overflow near the largest durations.
func initialDelay(period time.Duration, u float64) time.Duration {
	d := time.Duration(u * float64(period))
	if d < 0 || d >= period {
		return period
	}
	return d
}

func (t *Task) publish(ctx context.Context, value float64) error {
	reading := NewReading(t.identity.ID, value, t.now())
	payload, err := json.Marshal(reading)
	if err != nil {
		return errors.WrapInvalid(err, "Task", "publish", "encode reading")
	}

	start := time.Now()
	err = t.publisher.Publish(ctx, t.queue, payload)
	t.metrics.RecordPublish(t.identity.Category, t.broker, time.Since(start), err)
	if err != nil {
		return err
	}

	t.logger.Info("Sent from sensor", "payload", string(payload))
	return nil
}
