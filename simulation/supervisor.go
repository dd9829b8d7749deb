// Package simulation runs a fleet of sensor tasks: it launches one task per
// registered sensor, waits for an operator stop request, raises the shared
// stop latch and joins every task.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360/sensorsim/broker"
	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/health"
	"github.com/c360/sensorsim/metric"
	"github.com/c360/sensorsim/pkg/latch"
	"github.com/c360/sensorsim/pkg/worker"
	"github.com/c360/sensorsim/sensor"
)

// Inventory reads the registered sensors.
type Inventory interface {
	ListSensors(ctx context.Context) ([]sensor.Identity, error)
	GetSensor(ctx context.Context, id string) (sensor.Identity, error)
}

// Supervisor owns the lifecycle of a simulated fleet
type Supervisor struct {
	inventory Inventory
	publisher sensor.Publisher
	registry  *sensor.Registry
	queue     string
	logger    *slog.Logger
	metrics   *metric.MetricsRegistry
	health    *health.Monitor
	stopReqs  <-chan os.Signal
	taskOpts  []sensor.TaskOption
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithRegistry sets the category profiles.
func WithRegistry(r *sensor.Registry) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithQueue sets the destination queue for every task.
func WithQueue(queue string) Option {
	return func(s *Supervisor) {
		if queue != "" {
			s.queue = queue
		}
	}
}

// WithLogger sets the supervisor and task logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records task and pool metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Supervisor) { s.metrics = registry }
}

// WithHealth reports broker, inventory and fleet health to monitor.
func WithHealth(monitor *health.Monitor) Option {
	return func(s *Supervisor) { s.health = monitor }
}

// WithStopRequests replaces OS signal delivery as the source of stop requests.
func WithStopRequests(ch <-chan os.Signal) Option {
	return func(s *Supervisor) { s.stopReqs = ch }
}

// WithTaskOptions appends options applied to every task.
func WithTaskOptions(opts ...sensor.TaskOption) Option {
	return func(s *Supervisor) { s.taskOpts = append(s.taskOpts, opts...) }
}

// NewSupervisor creates a supervisor reading sensors from inventory and
// publishing through publisher.
func NewSupervisor(inventory Inventory, publisher sensor.Publisher, opts ...Option) *Supervisor {
	s := &Supervisor{
		inventory: inventory,
		publisher: publisher,
		registry:  sensor.DefaultRegistry(),
		queue:     sensor.DefaultQueue,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health != nil {
		s.publisher = health.TrackPublisher(s.publisher, s.health, "broker")
	}
	return s
}

func (s *Supervisor) report(status health.Status) {
	if s.health != nil {
		s.health.Update(status.Component, status)
	}
}

func (s *Supervisor) brokerLabel() string {
	if k, ok := s.publisher.(interface{ Kind() broker.Kind }); ok {
		return string(k.Kind())
	}
	return "unknown"
}

func (s *Supervisor) newTask(identity sensor.Identity, stop *latch.Latch) (*sensor.Task, error) {
	profile, err := s.registry.Lookup(identity.Category)
	if err != nil {
		return nil, fmt.Errorf("sensor %s (%s): %w", identity.ID, identity.DisplayName, err)
	}

	opts := []sensor.TaskOption{
		sensor.WithQueue(s.queue),
		sensor.WithLogger(s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, sensor.WithMetrics(s.metrics.CoreMetrics(), s.brokerLabel()))
	}
	opts = append(opts, s.taskOpts...)

	return sensor.NewTask(identity, profile, s.publisher, stop, opts...), nil
}

// StartAll launches one continuous task per identity, all sharing a fresh
// stop latch. Every task is built before any starts, so an unknown category
// launches nothing. It returns once every task has been handed to a worker.
func (s *Supervisor) StartAll(ctx context.Context, identities []sensor.Identity) (*Handle, error) {
	stop := latch.New()

	tasks := make([]*sensor.Task, 0, len(identities))
	for _, identity := range identities {
		task, err := s.newTask(identity, stop)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Supervisor", "StartAll", "build tasks")
		}
		tasks = append(tasks, task)
	}

	size := len(tasks)
	if size == 0 {
		size = 1
	}
	var poolOpts []worker.Option[*sensor.Task]
	if s.metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*sensor.Task](s.metrics, "sensorsim_tasks"))
	}
	pool := worker.NewPool(size, size, func(ctx context.Context, t *sensor.Task) error {
		return t.Run(ctx, sensor.Continuous())
	}, poolOpts...)

	if err := pool.Start(ctx); err != nil {
		return nil, errors.WrapFatal(err, "Supervisor", "StartAll", "start worker pool")
	}
	for _, task := range tasks {
		if err := pool.Submit(task); err != nil {
			stop.Set()
			pool.Wait()
			return nil, errors.WrapFatal(err, "Supervisor", "StartAll", "submit task")
		}
	}

	s.logger.Info("Sensor tasks launched", "count", len(tasks), "queue", s.queue)
	s.report(health.NewHealthy("simulation", fmt.Sprintf("%d sensor tasks running", len(tasks))))
	return newHandle(stop, pool, append([]sensor.Identity(nil), identities...)), nil
}

// AwaitStopRequest blocks until SIGINT/SIGTERM arrives, ctx is done or the
// handle is stopped elsewhere, then raises the stop latch once. Requests that
// arrive while the fleet drains are swallowed until every task has returned.
func (s *Supervisor) AwaitStopRequest(ctx context.Context, h *Handle) {
	requests := s.stopReqs
	var release func()
	if requests == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		requests = ch
		release = func() { signal.Stop(ch) }
	}

	select {
	case sig := <-requests:
		s.logger.Debug("Stop requested", "signal", fmt.Sprint(sig))
	case <-ctx.Done():
		s.logger.Debug("Stop requested", "reason", ctx.Err())
	case <-h.stop.Done():
	case <-h.Done():
	}

	if h.Stop() {
		s.logger.Info("Stopping simulation. Please wait...")
	}

	go func() {
		if release != nil {
			defer release()
		}
		for {
			select {
			case sig := <-requests:
				s.logger.Debug("Already stopping, request ignored", "signal", fmt.Sprint(sig))
			case <-h.Done():
				return
			}
		}
	}()
}

// JoinAll blocks until every task of h has returned.
func (s *Supervisor) JoinAll(h *Handle) {
	h.Wait()
}

// SendSingle publishes exactly one reading with value for identity.
func (s *Supervisor) SendSingle(ctx context.Context, identity sensor.Identity, value float64) error {
	task, err := s.newTask(identity, nil)
	if err != nil {
		return errors.WrapInvalid(err, "Supervisor", "SendSingle", "build task")
	}
	return task.Run(ctx, sensor.SingleShot(value))
}

// SendSingleByID looks the sensor up in the inventory and publishes one
// reading for it. An unknown id yields an error matching ErrSensorNotFound.
func (s *Supervisor) SendSingleByID(ctx context.Context, id string, value float64) error {
	identity, err := s.inventory.GetSensor(ctx, id)
	if err != nil {
		return err
	}
	return s.SendSingle(ctx, identity, value)
}

// Launch lists the registered sensors and starts them. A listing failure is
// returned unchanged and starts nothing.
func (s *Supervisor) Launch(ctx context.Context) (*Handle, error) {
	identities, err := s.inventory.ListSensors(ctx)
	if err != nil {
		s.report(health.FromError("inventory", err))
		return nil, err
	}
	s.report(health.NewHealthy("inventory", fmt.Sprintf("%d sensors registered", len(identities))))
	return s.StartAll(ctx, identities)
}

// Run launches the fleet, waits for a stop request and joins every task.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Starting simulation...")

	h, err := s.Launch(ctx)
	if err != nil {
		return err
	}
	if h.Size() == 0 {
		s.logger.Warn("No sensors registered, nothing to simulate")
		h.Stop()
		s.JoinAll(h)
		return nil
	}

	s.AwaitStopRequest(ctx, h)
	s.JoinAll(h)
	s.report(health.NewHealthy("simulation", "Simulation stopped"))

	s.logger.Info("Simulation stopped. All tasks finished.")
	return nil
}
