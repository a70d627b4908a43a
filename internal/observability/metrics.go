// Package observability provides Prometheus metrics for the orchestration
// core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the core's Prometheus instruments. Create once at process
// start; instruments register with the default registry and are served from
// the /metrics endpoint.
type Metrics struct {
	// LLMRequestDuration measures provider round-trip latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider round-trips.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RateLimitRestrictions counts quota-restricted round-trips.
	// Labels: model
	RateLimitRestrictions *prometheus.CounterVec

	// LoopIterations observes round-trips consumed per turn.
	LoopIterations prometheus.Histogram

	// TurnErrors counts terminal turn failures.
	// Labels: kind
	TurnErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_llm_request_duration_seconds",
				Help:    "Duration of provider round-trips in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_requests_total",
				Help: "Total provider round-trips by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		RateLimitRestrictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_rate_limit_restrictions_total",
				Help: "Round-trips rejected by the per-user/model token quota",
			},
			[]string{"model"},
		),

		LoopIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_loop_iterations",
				Help:    "Provider round-trips consumed per logical turn",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
			},
		),

		TurnErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_turn_errors_total",
				Help: "Terminal turn failures by error kind",
			},
			[]string{"kind"},
		),
	}
}
