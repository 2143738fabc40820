// Package metrics holds the prometheus collectors of the MCP server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medplum_mcp"

// Outcome labels for tool calls.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	ToolCalls       *prometheus.CounterVec
	BackendRequests *prometheus.CounterVec
	ActiveSessions  *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Requests sent to the FHIR backend by method and status code.",
		}, []string{"method", "status"}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open MCP sessions by transport.",
		}, []string{"transport"}),
	}
	m.registry.MustRegister(
		m.ToolCalls,
		m.BackendRequests,
		m.ActiveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTool counts one tool call.
func (m *Metrics) ObserveTool(tool string, failed bool) {
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveBackend counts one backend request. status 0 means no response.
func (m *Metrics) ObserveBackend(method string, status int) {
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.BackendRequests.WithLabelValues(method, label).Inc()
}

// SetActiveSessions records the number of open sessions of a transport kind.
func (m *Metrics) SetActiveSessions(transport string, n int) {
	m.ActiveSessions.WithLabelValues(transport).Set(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
