package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

type stubLLM struct {
	resp    LLMResponse
	err     error
	lastReq LLMRequest
}

func (s *stubLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return s.resp, nil
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind OutcomeKind
	}{
		{
			name:     "plain reply object",
			raw:      `{"output": "Your trip to Japan is covered for medical up to $500k.", "actions": []}`,
			wantKind: OutcomePlainReply,
		},
		{
			name:     "tool directives",
			raw:      `{"output": "", "actions": [{"tool": "policy_research", "input": {"query": "japan medical"}}]}`,
			wantKind: OutcomeToolDirectives,
		},
		{
			name:     "prose tolerated as reply",
			raw:      "Happy to help! What dates are you travelling?",
			wantKind: OutcomePlainReply,
		},
		{
			name:     "bare json string tolerated as reply",
			raw:      `"Let me check that for you."`,
			wantKind: OutcomePlainReply,
		},
		{
			name:     "empty output and no actions",
			raw:      `{"output": "", "actions": []}`,
			wantKind: OutcomeMalformed,
		},
		{
			name:     "json array is unusable",
			raw:      `[1, 2, 3]`,
			wantKind: OutcomeMalformed,
		},
		{
			name:     "empty response",
			raw:      "   ",
			wantKind: OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOutcome(tt.raw)
			assert.Equal(t, tt.wantKind, got.Kind)
		})
	}
}

func TestParseOutcome_DirectivesPreserveOrderAndInput(t *testing.T) {
	raw := `{"output": "", "actions": [
		{"tool": "policy_research", "input": {"query": "cruise"}},
		{"tool": "claims_recommendation", "input": {"destination": "Alaska"}}
	]}`

	got := ParseOutcome(raw)
	require.Equal(t, OutcomeToolDirectives, got.Kind)
	require.Len(t, got.Directives, 2)
	assert.Equal(t, "policy_research", got.Directives[0].Tool)
	assert.JSONEq(t, `{"query":"cruise"}`, string(got.Directives[0].Input))
	assert.Equal(t, "claims_recommendation", got.Directives[1].Tool)
}

func TestParseOutcome_SingleActionShorthand(t *testing.T) {
	got := ParseOutcome(`{"action": "payment_status", "input": {"checkout_ref": "co-1"}}`)
	require.Equal(t, OutcomeToolDirectives, got.Kind)
	require.Len(t, got.Directives, 1)
	assert.Equal(t, "payment_status", got.Directives[0].Tool)
	assert.JSONEq(t, `{"checkout_ref":"co-1"}`, string(got.Directives[0].Input))
}

func TestParseOutcome_SkipsActionsWithoutToolName(t *testing.T) {
	raw := `{"output": "", "actions": [
		{"input": {"query": "x"}},
		{"tool": "policy_research", "input": {}}
	]}`

	got := ParseOutcome(raw)
	require.Equal(t, OutcomeToolDirectives, got.Kind)
	require.Len(t, got.Directives, 1)
	assert.Equal(t, "policy_research", got.Directives[0].Tool)
}

func TestParseOutcome_MissingInputDefaultsToEmptyObject(t *testing.T) {
	got := ParseOutcome(`{"output": "", "actions": [{"tool": "payment_status"}]}`)
	require.Equal(t, OutcomeToolDirectives, got.Kind)
	assert.JSONEq(t, `{}`, string(got.Directives[0].Input))
}

func TestConverse_ProviderFailureIsUnavailable(t *testing.T) {
	llm := &stubLLM{err: errors.New("quota exhausted")}
	client := NewClient(llm, "gemini-2.5-flash", "web", logging.Default())

	_, err := client.Converse(context.Background(), "s1", nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestConverse_SerializesHistoryAndCatalog(t *testing.T) {
	llm := &stubLLM{resp: LLMResponse{Text: `{"output": "hi", "actions": []}`}}
	client := NewClient(llm, "gemini-2.5-flash", "telegram", logging.Default())

	history := []session.Turn{
		session.NewUserTurn("I need cruise cover"),
		session.NewToolTurn("policy_research", []byte(`{"query":"cruise"}`), []byte(`{"status":"ok"}`)),
		session.NewAssistantTurn("Found two plans."),
	}
	catalog := []tools.Spec{{
		Name:        "policy_research",
		Description: "search policy documents",
		Schema:      `{"type":"object"}`,
	}}

	outcome, err := client.Converse(context.Background(), "s1", history, catalog)
	require.NoError(t, err)
	assert.Equal(t, OutcomePlainReply, outcome.Kind)
	assert.Equal(t, "hi", outcome.Reply)

	req := llm.lastReq
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ChatRoleUser, req.Messages[0].Role)
	assert.Equal(t, ChatRoleUser, req.Messages[1].Role, "tool turns ride as user-role records")
	assert.Contains(t, req.Messages[1].Content, "policy_research")
	assert.Equal(t, ChatRoleAssistant, req.Messages[2].Role)

	require.NotEmpty(t, req.System)
	joined := ""
	for _, block := range req.System {
		joined += block + "\n"
	}
	assert.Contains(t, joined, "Aurora")
	assert.Contains(t, joined, "Channel: telegram.")
	assert.Contains(t, joined, "policy_research")
	assert.Contains(t, joined, `"actions"`)
}

type pingableLLM struct {
	stubLLM
	pingErr error
}

func (p *pingableLLM) Ping(context.Context) error { return p.pingErr }

func TestClient_Ready(t *testing.T) {
	t.Run("no model configured", func(t *testing.T) {
		client := NewClient(&stubLLM{}, "", "web", logging.Default())
		assert.Error(t, client.Ready(context.Background()))
	})

	t.Run("transport without ping passes on configuration", func(t *testing.T) {
		client := NewClient(&stubLLM{}, "gemini-2.5-flash", "web", logging.Default())
		assert.NoError(t, client.Ready(context.Background()))
	})

	t.Run("transport ping failure surfaces", func(t *testing.T) {
		llm := &pingableLLM{pingErr: errors.New("credentials rejected")}
		client := NewClient(llm, "gemini-2.5-flash", "web", logging.Default())
		assert.EqualError(t, client.Ready(context.Background()), "credentials rejected")
	})
}

func TestFallbackClient_PingHealthyWhenEitherProviderAnswers(t *testing.T) {
	primary := &pingableLLM{pingErr: errors.New("primary down")}
	fallback := &pingableLLM{}
	client := NewFallbackLLMClient(primary, fallback, logging.Default())

	assert.NoError(t, client.Ping(context.Background()))

	fallback.pingErr = errors.New("fallback down")
	assert.EqualError(t, client.Ping(context.Background()), "primary down")
}

func TestFallbackClient_UsesFallbackOnPrimaryFailure(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	fallback := &stubLLM{resp: LLMResponse{Text: "ok"}}
	client := NewFallbackLLMClient(primary, fallback, logging.Default())

	resp, err := client.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestFallbackClient_NoFallbackReturnsPrimaryError(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	client := NewFallbackLLMClient(primary, nil, logging.Default())

	_, err := client.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "primary down")
}
