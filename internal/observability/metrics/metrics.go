package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the orchestration loop.
type ConversationMetrics struct {
	reasoningTotal   *prometheus.CounterVec
	toolTotal        *prometheus.CounterVec
	turnOutcomes     *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	reasoningLatency prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		reasoningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "reasoning_calls_total",
			Help:      "Total reasoning calls by interpreted outcome",
		}, []string{"outcome"}),
		toolTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool and envelope status",
		}, []string{"tool", "status"}),
		turnOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "turn_outcomes_total",
			Help:      "Terminal state of each inbound-message cycle",
		}, []string{"state"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one inbound-message cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"state"}),
		reasoningLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "reasoning_latency_seconds",
			Help:      "Latency of individual reasoning calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reasoningTotal, m.toolTotal, m.turnOutcomes, m.turnLatency, m.reasoningLatency)
	return m
}

func (m *ConversationMetrics) ObserveReasoning(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.reasoningTotal.WithLabelValues(outcome).Inc()
	m.reasoningLatency.Observe(seconds)
}

func (m *ConversationMetrics) ObserveTool(tool, status string) {
	if m == nil {
		return
	}
	m.toolTotal.WithLabelValues(tool, status).Inc()
}

func (m *ConversationMetrics) ObserveTurn(state string, seconds float64) {
	if m == nil {
		return
	}
	m.turnOutcomes.WithLabelValues(state).Inc()
	m.turnLatency.WithLabelValues(state).Observe(seconds)
}
