// Package metrics provides Prometheus metrics collection for the fleet
// core. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the fleet's components emit.
type Collector struct {
	// Lifecycle
	agentStateTransitions *prometheus.CounterVec

	// Dispatcher
	dispatcherBatchSize       prometheus.Histogram
	dispatcherBatchEfficiency prometheus.Histogram
	dispatcherTaskResults     *prometheus.CounterVec
	dispatcherRetries         *prometheus.CounterVec
	dispatcherCycleOrStuck    prometheus.Counter

	// Event bus
	busPublished *prometheus.CounterVec
	busDropped   *prometheus.CounterVec

	// Transport
	transportReconnects  *prometheus.CounterVec
	transportModeGauge   *prometheus.GaugeVec
	transportLatencyMs   prometheus.Histogram

	// Pattern store
	patternEvictions   prometheus.Counter
	patternConfidence  prometheus.Histogram
	patternUpdates     *prometheus.CounterVec

	// Learning loop
	learningCycles     *prometheus.CounterVec
	learningApplied    prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns the
// collector. Call once per process; promauto panics on duplicate
// registration against the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent lifecycle state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.dispatcherBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatcher_batch_size",
			Help:      "Number of tasks per dispatched batch",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)

	c.dispatcherBatchEfficiency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatcher_batch_parallel_efficiency",
			Help:      "sum(task durations) / (wall time * max parallelism) per batch",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.dispatcherTaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_task_results_total",
			Help:      "Total number of task results by outcome",
		},
		[]string{"task_type", "status"},
	)

	c.dispatcherRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_retries_total",
			Help:      "Total number of task retries by error kind",
		},
		[]string{"task_type", "error_kind"},
	)

	c.dispatcherCycleOrStuck = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_cycle_or_stuck_total",
			Help:      "Total number of dependency.cycle_or_stuck fallback dispatches",
		},
	)

	c.busPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Total number of events published, by type",
		},
		[]string{"event_type"},
	)

	c.busDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_dropped_total",
			Help:      "Total number of deliveries dropped due to subscriber overflow",
		},
		[]string{"event_type"},
	)

	c.transportReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Total number of transport reconnect attempts, by outcome",
		},
		[]string{"outcome"},
	)

	c.transportModeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_active_mode",
			Help:      "1 if the named mode (datagram|stream) is currently active",
		},
		[]string{"mode"},
	)

	c.transportLatencyMs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_observed_latency_ms",
			Help:      "Observed now-minus-timestamp latency of received envelopes",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	c.patternEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_evictions_total",
			Help:      "Total number of patterns evicted at capacity",
		},
	)

	c.patternConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pattern_confidence",
			Help:      "Distribution of pattern confidence after updates",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.patternUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_confidence_updates_total",
			Help:      "Total number of confidence updates, by outcome",
		},
		[]string{"outcome"},
	)

	c.learningCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_cycles_total",
			Help:      "Total number of improvement cycles run, by trigger",
		},
		[]string{"trigger"},
	)

	c.learningApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_auto_applied_total",
			Help:      "Total number of strategies auto-applied by the learning loop",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordStateTransition records an agent lifecycle transition.
func (c *Collector) RecordStateTransition(agentID, from, to string) {
	c.agentStateTransitions.WithLabelValues(agentID, from, to).Inc()
}

// RecordBatch records one dispatched batch's size and parallel efficiency.
func (c *Collector) RecordBatch(size int, efficiency float64) {
	c.dispatcherBatchSize.Observe(float64(size))
	c.dispatcherBatchEfficiency.Observe(efficiency)
}

// RecordTaskResult records one task's terminal outcome.
func (c *Collector) RecordTaskResult(taskType, status string) {
	c.dispatcherTaskResults.WithLabelValues(taskType, status).Inc()
}

// RecordRetry records one retry attempt.
func (c *Collector) RecordRetry(taskType, errorKind string) {
	c.dispatcherRetries.WithLabelValues(taskType, errorKind).Inc()
}

// RecordCycleOrStuck records a dependency.cycle_or_stuck fallback dispatch.
func (c *Collector) RecordCycleOrStuck() {
	c.dispatcherCycleOrStuck.Inc()
}

// RecordPublish records one event publication.
func (c *Collector) RecordPublish(eventType string) {
	c.busPublished.WithLabelValues(eventType).Inc()
}

// RecordDrop records one dropped delivery due to subscriber overflow.
func (c *Collector) RecordDrop(eventType string) {
	c.busDropped.WithLabelValues(eventType).Inc()
}

// RecordReconnect records one transport reconnect attempt.
func (c *Collector) RecordReconnect(outcome string) {
	c.transportReconnects.WithLabelValues(outcome).Inc()
}

// SetActiveMode marks mode as the currently active transport mode.
func (c *Collector) SetActiveMode(mode string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.transportModeGauge.WithLabelValues(mode).Set(v)
}

// RecordLatency records one observed envelope latency.
func (c *Collector) RecordLatency(d time.Duration) {
	c.transportLatencyMs.Observe(float64(d.Milliseconds()))
}

// RecordEviction records one pattern eviction at capacity.
func (c *Collector) RecordEviction() {
	c.patternEvictions.Inc()
}

// RecordConfidence records a pattern's confidence after an update.
func (c *Collector) RecordConfidence(confidence float64, success bool) {
	c.patternConfidence.Observe(confidence)
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.patternUpdates.WithLabelValues(outcome).Inc()
}

// RecordLearningCycle records one improvement cycle.
func (c *Collector) RecordLearningCycle(trigger string) {
	c.learningCycles.WithLabelValues(trigger).Inc()
}

// RecordAutoApplied records one strategy auto-applied by the learning loop.
func (c *Collector) RecordAutoApplied() {
	c.learningApplied.Inc()
}
