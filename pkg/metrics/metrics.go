// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMToolCallsTotal tracks tool calls requested by the model.
	LLMToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tool_calls_total",
			Help: "Tool calls requested by the model",
		},
		[]string{"provider", "model"},
	)

	// ToolExecutionDuration tracks tool execution duration including retries.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_execution_duration_seconds",
			Help:    "Tool execution duration including retries",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool", "status"},
	)

	// ToolExecutionsTotal tracks tool executions by outcome.
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Total tool executions",
		},
		[]string{"tool", "status"},
	)

	// ToolRetriesTotal tracks retried tool attempts.
	ToolRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_retries_total",
			Help: "Total tool retries",
		},
		[]string{"tool"},
	)

	// ToolCacheLookups tracks result cache lookups.
	ToolCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_cache_lookups_total",
			Help: "Tool result cache lookups",
		},
		[]string{"tool", "result"},
	)

	// TurnsTotal tracks orchestrated turns by path and outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_turns_total",
			Help: "Total orchestrated turns",
		},
		[]string{"path", "outcome"},
	)

	// TurnDuration tracks wall-clock duration of a turn.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_turn_duration_seconds",
			Help:    "Orchestrated turn duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"path"},
	)

	// TurnToolHops tracks how many tool hops a turn consumed.
	TurnToolHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_tool_hops",
			Help:    "Tool hops per agentic turn",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// JobTransitionsTotal tracks job status transitions.
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Job status transitions",
		},
		[]string{"type", "status"},
	)

	// ConnectionsActive tracks open streaming connections.
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connections_active",
			Help: "Number of open streaming connections",
		},
		[]string{"transport"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// ThreadsTotal tracks total threads created.
	ThreadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threads_total",
			Help: "Total threads created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"tenant_id", "role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(provider, model, status string, duration time.Duration, toolCalls int) {
	LLMStreamDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	if toolCalls > 0 {
		LLMToolCallsTotal.WithLabelValues(provider, model).Add(float64(toolCalls))
	}
}

// RecordToolExecution records one finished tool execution.
func RecordToolExecution(tool, status string, duration time.Duration) {
	ToolExecutionDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
	ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordToolRetry records a retried tool attempt.
func RecordToolRetry(tool string) {
	ToolRetriesTotal.WithLabelValues(tool).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(tool string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ToolCacheLookups.WithLabelValues(tool, result).Inc()
}

// RecordTurn records a finished turn.
func RecordTurn(path, outcome string, duration time.Duration, hops int) {
	TurnsTotal.WithLabelValues(path, outcome).Inc()
	TurnDuration.WithLabelValues(path).Observe(duration.Seconds())
	if path != "instant" {
		TurnToolHops.Observe(float64(hops))
	}
}

// RecordJobTransition records a job entering status.
func RecordJobTransition(jobType, status string) {
	JobTransitionsTotal.WithLabelValues(jobType, status).Inc()
}

// IncrementConnections increments the open connection count for a transport.
func IncrementConnections(transport string) {
	ConnectionsActive.WithLabelValues(transport).Inc()
}

// DecrementConnections decrements the open connection count for a transport.
func DecrementConnections(transport string) {
	ConnectionsActive.WithLabelValues(transport).Dec()
}
