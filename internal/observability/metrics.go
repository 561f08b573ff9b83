package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent run lifecycle and iteration counts
//   - LLM request performance, token usage and cost
//   - Tool execution patterns and latencies
//   - Workflow phase outcomes
//   - Memory store operations
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// RunsStarted/RunsFinished count agent executor runs by terminal status.
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec

	// IterationsTotal counts executor loop iterations across all runs.
	IterationsTotal prometheus.Counter

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|pending_approval)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization after packing.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// CompactionsTotal counts context-manager compaction attempts by outcome.
	// Labels: outcome (effective|ineffective|skipped_cooldown)
	CompactionsTotal *prometheus.CounterVec

	// RunStuck counts runs detected as stuck by the executor's nudge/stop check.
	RunStuck *prometheus.CounterVec

	// WorkflowPhaseOutcome counts workflow phase completions by outcome.
	// Labels: outcome (success|retry|failed)
	WorkflowPhaseOutcome *prometheus.CounterVec

	// MemoryChunksStored counts memory chunks written, by source type.
	MemoryChunksStored *prometheus.CounterVec

	// MemorySearchDuration measures memory search latency.
	// Labels: mode (keyword|phrase|regex|semantic|hybrid)
	MemorySearchDuration *prometheus.HistogramVec

	// TaskExecutions counts scheduled task runs by outcome.
	TaskExecutions *prometheus.CounterVec

	// HeartbeatMissed counts heartbeat warnings emitted per agent.
	HeartbeatMissed *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "restflow_runs_started_total",
			Help: "Total number of agent executor runs started",
		}),

		RunsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_runs_finished_total",
				Help: "Total number of agent executor runs finished, by terminal status",
			},
			[]string{"status"},
		),

		IterationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "restflow_iterations_total",
			Help: "Total number of executor loop iterations across all runs",
		}),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_context_window_tokens",
				Help:    "Context window tokens used after packing",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		CompactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_compactions_total",
				Help: "Total number of context compaction attempts by outcome",
			},
			[]string{"outcome"},
		),

		RunStuck: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_run_stuck_total",
				Help: "Number of runs the stuck detector flagged, by action taken",
			},
			[]string{"action"},
		),

		WorkflowPhaseOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_workflow_phase_outcomes_total",
				Help: "Workflow phase completions by outcome",
			},
			[]string{"outcome"},
		),

		MemoryChunksStored: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_memory_chunks_stored_total",
				Help: "Memory chunks written, by source type",
			},
			[]string{"source_type"},
		),

		MemorySearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_memory_search_duration_seconds",
				Help:    "Duration of memory searches in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"mode"},
		),

		TaskExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_task_executions_total",
				Help: "Scheduled task runs by outcome",
			},
			[]string{"outcome"},
		),

		HeartbeatMissed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_heartbeat_missed_total",
				Help: "Heartbeat warnings emitted, by agent",
			},
			[]string{"agent_id"},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordCompaction records a compaction attempt outcome.
func (m *Metrics) RecordCompaction(outcome string) {
	m.CompactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRunStuck records a stuck-detector action (nudge or stop).
func (m *Metrics) RecordRunStuck(action string) {
	m.RunStuck.WithLabelValues(action).Inc()
}

// RecordWorkflowPhase records a workflow phase outcome.
func (m *Metrics) RecordWorkflowPhase(outcome string) {
	m.WorkflowPhaseOutcome.WithLabelValues(outcome).Inc()
}

// RecordMemoryChunkStored records a memory chunk write.
func (m *Metrics) RecordMemoryChunkStored(sourceType string) {
	m.MemoryChunksStored.WithLabelValues(sourceType).Inc()
}

// RecordMemorySearch records a memory search's latency.
func (m *Metrics) RecordMemorySearch(mode string, durationSeconds float64) {
	m.MemorySearchDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordTaskExecution records a scheduled task run outcome.
func (m *Metrics) RecordTaskExecution(outcome string) {
	m.TaskExecutions.WithLabelValues(outcome).Inc()
}

// RecordHeartbeatMissed records a heartbeat warning for an agent.
func (m *Metrics) RecordHeartbeatMissed(agentID string) {
	m.HeartbeatMissed.WithLabelValues(agentID).Inc()
}
