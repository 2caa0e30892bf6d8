package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every Record/Set method is safe to
// call on a nil *Metrics so components can run unmetered.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Module metrics
	ModuleState    prometheus.Gauge
	ModuleStarts   prometheus.Counter
	ModuleFaults   *prometheus.CounterVec
	ModuleRestarts *prometheus.CounterVec

	// Requester metrics
	BackendRequests        *prometheus.CounterVec
	BackendRequestsPending *prometheus.GaugeVec
	BackendRequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderSessions prometheus.Gauge
	ProviderReports  *prometheus.CounterVec
	ProviderDropped  *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	ModuleState      string  `json:"module_state"`
	ModuleFaults     int64   `json:"module_faults"`
	ModuleRestarts   int64   `json:"module_restarts"`
	BackendRequests  int64   `json:"backend_requests"`
	ProviderReports  int64   `json:"provider_reports"`
	ActiveSessions   int64   `json:"active_sessions"`
	ActiveWebSockets int64   `json:"active_websockets"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests so collectors never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scc_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	m.ModuleState = factory.NewGauge(prometheus.GaugeOpts{
		Name: "scc_module_state",
		Help: "Lifecycle state of the current backend module (0 unstarted, 1 loading, 2 running, 3 disposed, 4 faulted)",
	})
	m.ModuleStarts = factory.NewCounter(prometheus.CounterOpts{
		Name: "scc_module_starts_total",
		Help: "Total number of backend module start attempts",
	})
	m.ModuleFaults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_module_faults_total",
			Help: "Total number of backend faults by signal",
		},
		[]string{"signal"},
	)
	m.ModuleRestarts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_module_restarts_total",
			Help: "Automatic restarts after a fault, by outcome",
		},
		[]string{"outcome"},
	)

	m.BackendRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_backend_requests_total",
			Help: "Requests sent to the backend, by requester and outcome",
		},
		[]string{"requester", "outcome"},
	)
	m.BackendRequestsPending = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scc_backend_requests_pending",
			Help: "Requests awaiting a backend response",
		},
		[]string{"requester"},
	)
	m.BackendRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scc_backend_request_duration_seconds",
			Help:    "Time from issue to settlement of a backend request",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"requester"},
	)

	m.ProviderSessions = factory.NewGauge(prometheus.GaugeOpts{
		Name: "scc_provider_sessions",
		Help: "Number of live API provider sessions",
	})
	m.ProviderReports = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_provider_reports_total",
			Help: "Reports delivered to callers, by operation and result code",
		},
		[]string{"operation", "result"},
	)
	m.ProviderDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_provider_dropped_events_total",
			Help: "Events received after the provider was disposed",
		},
		[]string{"operation"},
	)

	m.WSConnections = factory.NewGauge(prometheus.GaugeOpts{
		Name: "scc_ws_connections",
		Help: "Number of active WebSocket connections",
	})
	m.WSMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scc_ws_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scc_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetModuleState records the module lifecycle state. code is the numeric
// state and name its String form.
func (m *Metrics) SetModuleState(code int, name string) {
	if m == nil {
		return
	}
	m.ModuleState.Set(float64(code))
	m.mu.Lock()
	m.snapshot.ModuleState = name
	m.mu.Unlock()
}

// IncModuleStarts counts a start attempt
func (m *Metrics) IncModuleStarts() {
	if m == nil {
		return
	}
	m.ModuleStarts.Inc()
}

// RecordModuleFault counts a fault by the signal that caused it
func (m *Metrics) RecordModuleFault(signal string) {
	if m == nil {
		return
	}
	m.ModuleFaults.WithLabelValues(signal).Inc()
	m.mu.Lock()
	m.snapshot.ModuleFaults++
	m.mu.Unlock()
}

// RecordModuleRestart counts an automatic restart decision
func (m *Metrics) RecordModuleRestart(outcome string) {
	if m == nil {
		return
	}
	m.ModuleRestarts.WithLabelValues(outcome).Inc()
	if outcome == "started" {
		m.mu.Lock()
		m.snapshot.ModuleRestarts++
		m.mu.Unlock()
	}
}

// RecordBackendRequest records a settled backend request
func (m *Metrics) RecordBackendRequest(requester, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(requester, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(requester).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.BackendRequests++
	m.mu.Unlock()
}

// SetBackendRequestsPending sets the pending request gauge for a requester
func (m *Metrics) SetBackendRequestsPending(requester string, count int) {
	if m == nil {
		return
	}
	m.BackendRequestsPending.WithLabelValues(requester).Set(float64(count))
}

// IncProviderSessions increments live provider sessions
func (m *Metrics) IncProviderSessions() {
	if m == nil {
		return
	}
	m.ProviderSessions.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// DecProviderSessions decrements live provider sessions
func (m *Metrics) DecProviderSessions() {
	if m == nil {
		return
	}
	m.ProviderSessions.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// RecordProviderReport counts a report delivered to a caller
func (m *Metrics) RecordProviderReport(operation, result string) {
	if m == nil {
		return
	}
	m.ProviderReports.WithLabelValues(operation, result).Inc()
	m.mu.Lock()
	m.snapshot.ProviderReports++
	m.mu.Unlock()
}

// RecordProviderDropped counts an event dropped after disposal
func (m *Metrics) RecordProviderDropped(operation string) {
	if m == nil {
		return
	}
	m.ProviderDropped.WithLabelValues(operation).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveWebSockets++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveWebSockets--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
