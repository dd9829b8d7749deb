package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor keeps the latest Status reported by each component of the
// simulator. It is safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	latest map[string]Status
}

// NewMonitor returns a monitor with no components.
func NewMonitor() *Monitor {
	return &Monitor{latest: make(map[string]Status)}
}

// Update records status as the current state of component. The component
// name always wins over status.Component; a zero timestamp is set to now.
func (m *Monitor) Update(component string, status Status) {
	status.Component = component
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.latest[component] = status
	m.mu.Unlock()
}

// Get returns the last status recorded for component.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.latest[component]
	return st, ok
}

// AggregateHealth folds every component into one status named system. Sub
// statuses are ordered by component so /healthz output is stable.
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	components := make([]Status, 0, len(m.latest))
	for _, st := range m.latest {
		components = append(components, st)
	}
	m.mu.RUnlock()

	sort.Slice(components, func(i, j int) bool {
		return components[i].Component < components[j].Component
	})
	return Aggregate(system, components)
}
