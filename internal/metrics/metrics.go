// Package metrics exposes Prometheus collectors for turns, reasoning
// steps, and tool calls.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

var (
	_ agent.Recorder = (*Metrics)(nil)
	_ tools.Recorder = (*Metrics)(nil)
)

const namespace = "fashion"

// Metrics implements the agent and tool recorders.
type Metrics struct {
	gatherer prometheus.Gatherer

	turns          *prometheus.CounterVec
	turnIterations prometheus.Histogram
	turnDuration   prometheus.Histogram
	reasoning      *prometheus.CounterVec
	reasoningTime  prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	backendUp      *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry, which also carries
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return MustNewMetrics(reg, reg)
}

// MustNewMetrics registers the collectors on reg and serves them from
// gatherer. Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Completed turns, labelled by whether the iteration bound cut them short.",
		}, []string{"truncated"}),
		turnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_iterations",
			Help:      "Reasoning steps per turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12},
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Wall time per turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		reasoning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "reasoning_steps_total",
			Help:      "Reasoning provider calls by result.",
		}, []string{"status"}),
		reasoningTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "reasoning_duration_seconds",
			Help:      "Latency of reasoning provider calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tool"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether a backend answered its last health probe (1) or not (0).",
		}, []string{"backend"}),
	}
	reg.MustRegister(
		m.turns, m.turnIterations, m.turnDuration,
		m.reasoning, m.reasoningTime,
		m.toolCalls, m.toolDuration,
		m.backendUp,
	)
	return m
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(iterations int, truncated bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(strconv.FormatBool(truncated)).Inc()
	m.turnIterations.Observe(float64(iterations))
	m.turnDuration.Observe(elapsed.Seconds())
}

// ObserveReasoning records one reasoning step.
func (m *Metrics) ObserveReasoning(failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.reasoning.WithLabelValues(status).Inc()
	m.reasoningTime.Observe(elapsed.Seconds())
}

// ObserveTool records one tool call. Unknown tool names are folded into
// a single label so model hallucinations cannot grow the label set.
func (m *Metrics) ObserveTool(name, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == tools.OutcomeUnknown {
		name = "unknown"
	}
	m.toolCalls.WithLabelValues(name, outcome).Inc()
	m.toolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// SetBackendUp records a backend readiness change. Its signature
// matches the connwatch change callback.
func (m *Metrics) SetBackendUp(name string, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1
	}
	m.backendUp.WithLabelValues(name).Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
