// Package metrics exposes prometheus collectors for replay, agent and model activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "browser_use"

// Collector holds all metric vectors. A nil *Collector is valid and records
// nothing, so components can run without metrics wired in.
type Collector struct {
	strategyHits    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	agentIterations *prometheus.CounterVec
	agentStates     *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	recordedActions *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewCollector registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests; a registry can hold one Collector per namespace.
func NewCollector(reg *prometheus.Registry, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		gatherer: reg,
		logger:   logger.Named("metrics"),
	}

	// Replay
	c.strategyHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resolution_strategy_total",
			Help:      "Actions resolved per cascade strategy, by outcome",
		},
		[]string{"action", "strategy", "outcome"},
	)
	c.actionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Time spent executing a single action",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action", "source"},
	)
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workflow_runs_total",
			Help:      "Completed workflow replays by result",
		},
		[]string{"result"},
	)

	// Agent
	c.agentIterations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "agent_iterations_total",
			Help:      "Agent loop iterations by action outcome",
		},
		[]string{"outcome"},
	)
	c.agentStates = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Agent state machine transitions",
		},
		[]string{"from", "to"},
	)

	// LLM
	c.llmRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_requests_total",
			Help:      "Model calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)
	c.llmDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model call latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	// Recorder
	c.recordedActions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recorded_actions_total",
			Help:      "Actions emitted by finished recordings",
		},
		[]string{"action"},
	)

	return c
}

// RecordStrategy counts one cascade outcome. strategy is empty when every
// strategy failed.
func (c *Collector) RecordStrategy(action, strategy string, success bool, d time.Duration, source string) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	c.strategyHits.WithLabelValues(action, strategy, outcome(success)).Inc()
	c.actionDuration.WithLabelValues(action, source).Observe(d.Seconds())
}

// RecordRun counts a finished replay.
func (c *Collector) RecordRun(success, aborted bool) {
	if c == nil {
		return
	}
	result := outcome(success)
	if aborted {
		result = "aborted"
	}
	c.runsTotal.WithLabelValues(result).Inc()
}

// RecordAgentIteration counts one executed agent action.
func (c *Collector) RecordAgentIteration(success bool) {
	if c == nil {
		return
	}
	c.agentIterations.WithLabelValues(outcome(success)).Inc()
}

// RecordStateTransition counts an agent state change.
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.agentStates.WithLabelValues(from, to).Inc()
}

// RecordLLMRequest counts one model call. purpose is "plan", "validate",
// "locate" or "verify".
func (c *Collector) RecordLLMRequest(purpose string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.llmRequests.WithLabelValues(purpose, outcome(err == nil)).Inc()
	c.llmDuration.WithLabelValues(purpose).Observe(d.Seconds())
}

// RecordRecordedActions counts the actions of a finished recording by type.
func (c *Collector) RecordRecordedActions(counts map[string]int) {
	if c == nil {
		return
	}
	for action, n := range counts {
		c.recordedActions.WithLabelValues(action).Add(float64(n))
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(c.logger)})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
