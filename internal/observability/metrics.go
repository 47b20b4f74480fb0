package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the server's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// MessagesPublished counts messages entering the event log.
	// Labels: world, sender_kind (human|agent).
	MessagesPublished *prometheus.CounterVec

	// LLMCalls counts completion calls. Labels: provider, model,
	// status (success|error).
	LLMCalls *prometheus.CounterVec

	// LLMTokens tracks token usage. Labels: provider, model,
	// type (input|output).
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool runs. Labels: tool, status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool run time in seconds. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// ApprovalDecisions counts approval outcomes.
	// Labels: decision (approve|deny), scope (once|session).
	ApprovalDecisions *prometheus.CounterVec

	// SSEConnections gauges open streaming connections. Labels: world.
	SSEConnections *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_world_messages_published_total",
			Help: "Messages appended to the event log.",
		}, []string{"world", "sender_kind"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_world_llm_calls_total",
			Help: "LLM completion calls.",
		}, []string{"provider", "model", "status"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_world_llm_tokens_total",
			Help: "LLM tokens consumed.",
		}, []string{"provider", "model", "type"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_world_tool_executions_total",
			Help: "Tool invocations.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_world_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"tool"}),
		ApprovalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_world_approval_decisions_total",
			Help: "Human approval decisions for gated tools.",
		}, []string{"decision", "scope"}),
		SSEConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_world_sse_connections",
			Help: "Open SSE connections.",
		}, []string{"world"}),
	}
	reg.MustRegister(
		m.MessagesPublished,
		m.LLMCalls,
		m.LLMTokens,
		m.ToolExecutions,
		m.ToolDuration,
		m.ApprovalDecisions,
		m.SSEConnections,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
