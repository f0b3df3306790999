package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the agent runtime: LLM calls,
// tool executions, approvals, gateway RPCs and active requests.
type Metrics struct {
	// LLMRequestDuration measures one streamed completion.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter labels: provider, model, status (success|error|cancelled)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD accumulates the estimated spend.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter labels: tool_name, tier, status (success|error|rejected|blocked)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalDecisions labels: decision (once|always|reject|cancelled)
	ApprovalDecisions *prometheus.CounterVec

	// GatewayRPCCounter labels: method, status (ok|error|disconnected)
	GatewayRPCCounter *prometheus.CounterVec

	// GatewayRPCDuration labels: method
	GatewayRPCDuration *prometheus.HistogramVec

	// LoopIterations observes how many LLM calls a request needed.
	LoopIterations prometheus.Histogram

	// ActiveRequests is the number of chat requests in flight.
	ActiveRequests prometheus.Gauge
}

// NewMetrics registers all metrics with reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "naia_agent_llm_request_duration_seconds",
				Help:    "Duration of streamed LLM completions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_llm_requests_total",
				Help: "Total number of LLM completions by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_llm_tokens_total",
				Help: "Total number of tokens by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_llm_cost_usd_total",
				Help: "Estimated LLM spend in US dollars",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_tool_executions_total",
				Help: "Total number of tool executions by tool, tier, and status",
			},
			[]string{"tool_name", "tier", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "naia_agent_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds, excluding approval wait",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
			},
			[]string{"tool_name"},
		),
		ApprovalDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_approval_decisions_total",
				Help: "Approval outcomes by decision",
			},
			[]string{"decision"},
		),
		GatewayRPCCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "naia_agent_gateway_rpc_total",
				Help: "Gateway RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		GatewayRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "naia_agent_gateway_rpc_duration_seconds",
				Help:    "Gateway RPC round-trip time in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method"},
		),
		LoopIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "naia_agent_loop_iterations",
				Help:    "LLM calls per chat request",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		ActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "naia_agent_active_requests",
				Help: "Chat requests currently being processed",
			},
		),
	}
}

// The record helpers below tolerate a nil receiver so components can run
// without metrics.

// RecordLLMRequest records one completion with its token usage and cost.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int, cost float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if cost > 0 {
		m.LLMCostUSD.WithLabelValues(provider, model).Add(cost)
	}
}

// RecordToolExecution records a finished tool call.
func (m *Metrics) RecordToolExecution(toolName, tier, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, tier, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records how an approval request was resolved.
func (m *Metrics) RecordApproval(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
}

// RecordGatewayRPC records a gateway round trip.
func (m *Metrics) RecordGatewayRPC(method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.GatewayRPCCounter.WithLabelValues(method, status).Inc()
	m.GatewayRPCDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordLoop records the number of iterations a request used.
func (m *Metrics) RecordLoop(iterations int) {
	if m == nil {
		return
	}
	m.LoopIterations.Observe(float64(iterations))
}

// RequestStarted increments the active request gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.ActiveRequests.Inc()
}

// RequestEnded decrements the active request gauge.
func (m *Metrics) RequestEnded() {
	if m == nil {
		return
	}
	m.ActiveRequests.Dec()
}
