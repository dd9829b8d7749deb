package simulation

import (
	"github.com/c360/sensorsim/pkg/latch"
	"github.com/c360/sensorsim/pkg/worker"
	"github.com/c360/sensorsim/sensor"
)

// Handle refers to one launched fleet. All of its tasks share one stop latch.
type Handle struct {
	stop       *latch.Latch
	pool       *worker.Pool[*sensor.Task]
	identities []sensor.Identity
	done       chan struct{}
}

func newHandle(stop *latch.Latch, pool *worker.Pool[*sensor.Task], identities []sensor.Identity) *Handle {
	h := &Handle{
		stop:       stop,
		pool:       pool,
		identities: identities,
		done:       make(chan struct{}),
	}
	go func() {
		pool.Wait()
		close(h.done)
	}()
	return h
}

// Stop raises the shared stop latch. It reports whether this call raised it.
func (h *Handle) Stop() bool {
	return h.stop.Set()
}

// Stopping reports whether the stop latch has been raised.
func (h *Handle) Stopping() bool {
	return h.stop.IsSet()
}

// Wait blocks until every launched task has returned.
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed once every launched task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Size is the number of launched tasks.
func (h *Handle) Size() int {
	return len(h.identities)
}

// Identities returns the identities the tasks are bound to, in launch order.
func (h *Handle) Identities() []sensor.Identity {
	return append([]sensor.Identity(nil), h.identities...)
}

// Stats exposes the underlying worker pool statistics.
func (h *Handle) Stats() worker.PoolStats {
	return h.pool.Stats()
}
