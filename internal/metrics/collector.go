// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records every engine-level metric.
type Collector struct {
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	toolExecutionsTotal   *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	handoffTransitions *prometheus.CounterVec
	forwardedMessages  prometheus.Counter

	persistenceWrites     *prometheus.CounterVec
	persistenceDeadLetter *prometheus.CounterVec
	persistenceQueueDepth prometheus.Gauge

	sessionsActive prometheus.Gauge
	sessionsReaped prometheus.Counter

	experimentAssignments *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered against the default registry.
// namespace prefixes every metric name.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of visitor turns",
		},
		[]string{"status"}, // completed, error, conflict, rejected
	)
	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Visitor turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of model completion requests",
		},
		[]string{"model", "status"},
	)
	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model completion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	c.toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions",
		},
		[]string{"tool", "status"}, // status: success, failure
	)
	c.toolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"tool"},
	)

	c.handoffTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_transitions_total",
			Help:      "Total number of ownership phase transitions",
		},
		[]string{"from", "to"},
	)
	c.forwardedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_messages_total",
			Help:      "Visitor messages relayed to operator threads",
		},
	)

	c.persistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_writes_total",
			Help:      "Total number of persistence writes",
		},
		[]string{"kind", "status"}, // status: ok, retried, dead_letter
	)
	c.persistenceDeadLetter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_dead_letter_total",
			Help:      "Writes abandoned after exhausting retries",
		},
		[]string{"kind"},
	)
	c.persistenceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persistence_queue_depth",
			Help:      "Pending jobs in the write queue",
		},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Conversations currently held in memory",
		},
	)
	c.sessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Conversations evicted by the idle reaper",
		},
	)

	c.experimentAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiment_assignments_total",
			Help:      "Variant assignments recorded per experiment",
		},
		[]string{"experiment", "variant"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordTurn records one finished visitor turn.
func (c *Collector) RecordTurn(status string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(status).Inc()
	c.turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLLMRequest records one completion call.
func (c *Collector) RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordToolExecution records one tool run.
func (c *Collector) RecordToolExecution(tool string, failed bool, duration time.Duration) {
	status := "success"
	if failed {
		status = "failure"
	}
	c.toolExecutionsTotal.WithLabelValues(tool, status).Inc()
	c.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordHandoffTransition records an ownership phase change.
func (c *Collector) RecordHandoffTransition(from, to string) {
	c.handoffTransitions.WithLabelValues(from, to).Inc()
}

// RecordForwardedMessage counts a visitor message relayed to an operator thread.
func (c *Collector) RecordForwardedMessage() {
	c.forwardedMessages.Inc()
}

// RecordPersistenceWrite records one write attempt outcome.
func (c *Collector) RecordPersistenceWrite(kind, status string) {
	c.persistenceWrites.WithLabelValues(kind, status).Inc()
}

// RecordDeadLetter counts an abandoned write.
func (c *Collector) RecordDeadLetter(kind string) {
	c.persistenceDeadLetter.WithLabelValues(kind).Inc()
}

// SetQueueDepth publishes the current write queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.persistenceQueueDepth.Set(float64(depth))
}

// SetActiveSessions publishes the in-memory conversation count.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// RecordSessionReaped counts an idle eviction.
func (c *Collector) RecordSessionReaped() {
	c.sessionsReaped.Inc()
}

// RecordExperimentAssignment counts one recorded variant assignment.
func (c *Collector) RecordExperimentAssignment(experiment, variant string) {
	c.experimentAssignments.WithLabelValues(experiment, variant).Inc()
}
