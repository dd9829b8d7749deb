package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/sensorsim/broker"
)

// UnhealthyAfter is the number of consecutive publish failures after which a
// tracked broker is reported unhealthy instead of degraded.
const UnhealthyAfter = 3

// Publisher is the publish side of a broker connector
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// TrackedPublisher records the outcome of every publish in a Monitor
type TrackedPublisher struct {
	next      Publisher
	monitor   *Monitor
	component string
	started   time.Time

	mu          sync.Mutex
	published   int64
	errors      int
	consecutive int
}

// TrackPublisher wraps next so that each publish updates component in monitor.
// The component starts healthy.
func TrackPublisher(next Publisher, monitor *Monitor, component string) *TrackedPublisher {
	p := &TrackedPublisher{
		next:      next,
		monitor:   monitor,
		component: component,
		started:   time.Now(),
	}
	monitor.Update(component, NewHealthy(component, "No publish attempted yet").WithMetrics(&Metrics{}))
	return p
}

// Kind reports the wrapped connector's kind, or "unknown".
func (p *TrackedPublisher) Kind() broker.Kind {
	if k, ok := p.next.(interface{ Kind() broker.Kind }); ok {
		return k.Kind()
	}
	return "unknown"
}

// Publish forwards to the wrapped publisher and records the result. A failure
// caused by ctx being done is a shutdown, not a broker fault, and is not
// recorded.
func (p *TrackedPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	err := p.next.Publish(ctx, queue, payload)
	if err != nil && ctx.Err() != nil {
		return err
	}

	p.mu.Lock()
	now := time.Now()
	if err == nil {
		p.published++
		p.consecutive = 0
	} else {
		p.errors++
		p.consecutive++
	}
	metrics := &Metrics{
		Uptime:            now.Sub(p.started),
		ErrorCount:        p.errors,
		ConsecutiveErrors: p.consecutive,
		ReadingsPublished: p.published,
		LastActivity:      now,
	}

	var status Status
	switch {
	case err == nil:
		status = NewHealthy(p.component, fmt.Sprintf("Last publish to %s succeeded", queue))
	case p.consecutive >= UnhealthyAfter:
		status = NewUnhealthy(p.component, sanitizeErrorMessage(err.Error()))
	default:
		status = NewDegraded(p.component, sanitizeErrorMessage(err.Error()))
	}
	// Updated under p.mu so concurrent publishes land in order.
	p.monitor.Update(p.component, status.WithMetrics(metrics))
	p.mu.Unlock()
	return err
}
