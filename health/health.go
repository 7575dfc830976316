// Package health tracks the liveness of a server's subsystems (HTTP
// listener, socket router, fan-out backplane) and exposes the aggregate as
// an HTTP endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// State is a subsystem's health classification.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is one subsystem's health at a point in time.
type Status struct {
	Component string    `json:"component"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the aggregate of all tracked subsystems. The top-level state is
// the worst subsystem state: one unhealthy subsystem makes the whole report
// unhealthy, one degraded makes it degraded.
type Report struct {
	State      State    `json:"state"`
	Subsystems []Status `json:"subsystems"`
}

// Monitor tracks per-subsystem statuses. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records a subsystem's current state.
func (m *Monitor) Update(component string, state State, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[component] = Status{
		Component: component,
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Healthy marks a subsystem healthy.
func (m *Monitor) Healthy(component, message string) {
	m.Update(component, StateHealthy, message)
}

// Degraded marks a subsystem degraded.
func (m *Monitor) Degraded(component, message string) {
	m.Update(component, StateDegraded, message)
}

// Unhealthy marks a subsystem unhealthy.
func (m *Monitor) Unhealthy(component, message string) {
	m.Update(component, StateUnhealthy, message)
}

// Get returns one subsystem's status.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[component]
	return s, ok
}

// Remove drops a subsystem from the report.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, component)
}

// Report aggregates all subsystem statuses, ordered by component name.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{State: StateHealthy}
	for _, s := range m.statuses {
		report.Subsystems = append(report.Subsystems, s)
		switch s.State {
		case StateUnhealthy:
			report.State = StateUnhealthy
		case StateDegraded:
			if report.State == StateHealthy {
				report.State = StateDegraded
			}
		}
	}
	sort.Slice(report.Subsystems, func(i, j int) bool {
		return report.Subsystems[i].Component < report.Subsystems[j].Component
	})
	return report
}

// Handler serves the aggregate report as JSON: 200 for healthy or degraded,
// 503 for unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := m.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.State == StateUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		//nolint:errcheck // nothing left to do if the write fails
		json.NewEncoder(w).Encode(report)
	})
}
