package api

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/version"
)

// Metrics counts domain events for the /metrics endpoint.
type Metrics struct {
	bus       *events.Bus
	startTime time.Time

	mu     sync.RWMutex
	counts map[string]int64
}

// NewMetrics creates a metrics collector for bus.
func NewMetrics(bus *events.Bus) *Metrics {
	return &Metrics{
		bus:       bus,
		startTime: time.Now(),
		counts:    make(map[string]int64),
	}
}

// Run counts bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context) error {
	sub := m.bus.Subscribe()
	defer m.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe records one event.
func (m *Metrics) Observe(ev events.Event) {
	m.mu.Lock()
	m.counts[ev.Name]++
	m.mu.Unlock()
}

// Count returns how many events named name were observed.
func (m *Metrics) Count(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[name]
}

// Handler returns Prometheus-compatible metrics in text format.
func (m *Metrics) Handler(c *gin.Context) {
	uptime := time.Since(m.startTime).Seconds()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w := c.Writer
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Status(200)

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	labels := fmt.Sprintf(`instance="%s",version="%s"`, hostname, version.Version)

	writeMetric("drill_uptime_seconds", "gauge",
		"Number of seconds since the engine started", uptime, labels)
	writeMetric("drill_sessions_started_total", "counter",
		"Sessions started", m.Count("session.started"), labels)
	writeMetric("drill_sessions_completed_total", "counter",
		"Sessions completed", m.Count("session.completed"), labels)
	writeMetric("drill_sessions_abandoned_total", "counter",
		"Sessions abandoned by cancel or timeout", m.Count("session.abandoned"), labels)
	writeMetric("drill_actions_accepted_total", "counter",
		"Actions applied to sessions", m.Count("session.action"), labels)
	writeMetric("drill_actions_rejected_total", "counter",
		"Actions rejected as stale or invalid", m.Count("session.action_rejected"), labels)
	writeMetric("drill_profile_updates_total", "counter",
		"Sessions folded into behavior profiles", m.Count("profile.updated"), labels)
	writeMetric("drill_profile_update_failures_total", "counter",
		"Profile updates that exhausted their retries", m.Count("profile.update_failed"), labels)
	writeMetric("drill_scenario_fallbacks_total", "counter",
		"Generated scenarios served from cache or templates", m.Count("scenario.fallback"), labels)
	writeMetric("drill_ws_clients", "gauge",
		"Number of active event bus subscribers", m.bus.SubscriberCount(), labels)
}

// Readiness tracks dependency health for /health.
type Readiness struct {
	mu     sync.RWMutex
	checks map[string]bool
}

// NewReadiness creates an empty readiness tracker.
func NewReadiness() *Readiness {
	return &Readiness{checks: make(map[string]bool)}
}

// Set records the state of a named dependency.
func (r *Readiness) Set(name string, ok bool) {
	r.mu.Lock()
	r.checks[name] = ok
	r.mu.Unlock()
}

// Snapshot returns a copy of every check.
func (r *Readiness) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.checks))
	for k, v := range r.checks {
		out[k] = v
	}
	return out
}
