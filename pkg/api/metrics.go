package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/session"
)

// Metrics aggregates the Prometheus collectors of the surface. One
// instance is shared between the HTTP middleware, the WebSocket manager
// and the job manager's completion hook.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	wsConnections prometheus.Gauge
	chatTurns     *prometheus.CounterVec
	mcpCalls      *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   prometheus.Histogram
}

// NewMetrics builds a registry with the surface collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_http_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_ws_connections",
			Help: "Open WebSocket connections.",
		}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_chat_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		mcpCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_mcp_calls_total",
			Help: "MCP tool calls by server and outcome.",
		}, []string{"server", "outcome"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_jobs_completed_total",
			Help: "Pipeline jobs reaching a terminal state, by status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_job_duration_seconds",
			Help:    "Wall-clock duration of completed pipeline jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.httpRequests, m.wsConnections, m.chatTurns,
		m.mcpCalls, m.jobsCompleted, m.jobDuration)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// ObserveJob records a job reaching a terminal state. Wire it as the job
// manager's OnComplete hook.
func (m *Metrics) ObserveJob(job session.Job) {
	m.jobsCompleted.WithLabelValues(string(job.Status)).Inc()
	m.jobDuration.Observe(job.UpdatedAt.Sub(job.CreatedAt).Seconds())
}

// ObserveChatTurn records one conversation turn.
func (m *Metrics) ObserveChatTurn(outcome string) {
	m.chatTurns.WithLabelValues(outcome).Inc()
}

// ObserveMCPCall records one tool call.
func (m *Metrics) ObserveMCPCall(server, outcome string) {
	m.mcpCalls.WithLabelValues(server, outcome).Inc()
}

// ConnectionOpened and ConnectionClosed track the WebSocket gauge.
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// metricsHandler serves the Prometheus exposition endpoint.
func (s *Server) metricsHandler(c *echo.Context) error {
	h := promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}
