package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}
	return byName
}

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)

	m.ObserveReasoning("plain_reply", 0.8)
	m.ObserveTool("policy_research", "ok")
	m.ObserveTool("policy_research", "ok")
	m.ObserveTurn("replying", 2.1)

	families := gather(t, reg)

	tools := families["concierge_conversation_tool_executions_total"]
	require.NotNil(t, tools)
	require.Len(t, tools.GetMetric(), 1)
	assert.Equal(t, float64(2), tools.GetMetric()[0].GetCounter().GetValue())

	turns := families["concierge_conversation_turn_latency_seconds"]
	require.NotNil(t, turns)
	assert.Equal(t, uint64(1), turns.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveReasoning("malformed", 0.1)
	m.ObserveTool("trip_quote", "error")
	m.ObserveTurn("stalled", 0.2)
}
