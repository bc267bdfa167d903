package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// ErrUnavailable indicates the model provider could not produce a response
// at all. Malformed output is not an error; it comes back as an outcome.
var ErrUnavailable = errors.New("reasoning: provider unavailable")

// OutcomeKind classifies what the model asked for.
type OutcomeKind string

const (
	// OutcomePlainReply carries user-facing text and no directives.
	OutcomePlainReply OutcomeKind = "plain_reply"
	// OutcomeToolDirectives carries one or more tool invocations in
	// execution order.
	OutcomeToolDirectives OutcomeKind = "tool_directives"
	// OutcomeMalformed means the response could not be interpreted under
	// the directive protocol.
	OutcomeMalformed OutcomeKind = "malformed"
)

// Directive is one tool invocation requested by the model.
type Directive struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// Outcome is the interpreted result of one reasoning call.
type Outcome struct {
	Kind       OutcomeKind
	Reply      string
	Directives []Directive
	Raw        string
	Usage      TokenUsage
}

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 900
)

// Client turns session history plus the tool catalog into model outcomes.
// It owns prompt assembly and protocol parsing; transport failures and
// fallback live in the LLMClient underneath.
type Client struct {
	llm     LLMClient
	model   string
	logger  *logging.Logger
	channel string
}

// NewClient builds a reasoning client over the given transport.
func NewClient(llm LLMClient, model, channel string, logger *logging.Logger) *Client {
	if llm == nil {
		panic("reasoning: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if channel == "" {
		channel = "web"
	}
	return &Client{
		llm:     llm,
		model:   model,
		logger:  logger.Component("reasoning"),
		channel: channel,
	}
}

// Ready reports whether the reasoning path can serve requests: a model must
// be configured, and a transport that can verify reachability must do so.
// Health endpoints call this.
func (c *Client) Ready(ctx context.Context) error {
	if strings.TrimSpace(c.model) == "" {
		return errors.New("reasoning: no model configured")
	}
	if p, ok := c.llm.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Converse runs one reasoning call against the full session history and the
// tool catalog. Provider failure surfaces as ErrUnavailable; everything the
// provider does return is interpreted into an outcome.
func (c *Client) Converse(ctx context.Context, sessionID string, history []session.Turn, catalog []tools.Spec) (Outcome, error) {
	req := LLMRequest{
		System:      BuildSystemPrompt(c.channel, catalog),
		Messages:    serializeHistory(history),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	outcome := ParseOutcome(resp.Text)
	outcome.Usage = resp.Usage
	if outcome.Kind == OutcomeMalformed {
		c.logger.Warn("model output did not follow directive protocol",
			"session_id", sessionID,
			"preview", preview(resp.Text),
		)
	}
	return outcome, nil
}

// serializeHistory flattens session turns into chat messages. Tool turns
// become user-role records of the invocation and its result, so every
// provider sees them regardless of native tool-call support.
func serializeHistory(history []session.Turn) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: turn.Content})
		case session.RoleAssistant:
			messages = append(messages, ChatMessage{Role: ChatRoleAssistant, Content: turn.Content})
		case session.RoleTool:
			record, err := json.Marshal(map[string]json.RawMessage{
				"tool":   json.RawMessage(fmt.Sprintf("%q", turn.ToolName)),
				"input":  nonEmptyRaw(turn.ToolInput),
				"result": nonEmptyRaw(turn.ToolResult),
			})
			if err != nil {
				continue
			}
			messages = append(messages, ChatMessage{
				Role:    ChatRoleUser,
				Content: fmt.Sprintf("Tool execution record: %s", record),
			})
		}
	}
	return messages
}

// ParseOutcome interprets raw model text under the directive protocol.
// Plain prose is tolerated as a reply; only structurally unusable JSON is
// malformed.
func ParseOutcome(raw string) Outcome {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Outcome{Kind: OutcomeMalformed, Raw: raw}
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		// Providers occasionally answer in prose despite the protocol.
		return Outcome{Kind: OutcomePlainReply, Reply: trimmed, Raw: raw}
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		if s, isStr := parsed.(string); isStr && strings.TrimSpace(s) != "" {
			return Outcome{Kind: OutcomePlainReply, Reply: strings.TrimSpace(s), Raw: raw}
		}
		return Outcome{Kind: OutcomeMalformed, Raw: raw}
	}

	directives := extractDirectives(obj)
	if len(directives) > 0 {
		return Outcome{Kind: OutcomeToolDirectives, Directives: directives, Raw: raw}
	}

	reply := normalizeOutput(obj["output"])
	if reply == "" {
		return Outcome{Kind: OutcomeMalformed, Raw: raw}
	}
	return Outcome{Kind: OutcomePlainReply, Reply: reply, Raw: raw}
}

func extractDirectives(obj map[string]any) []Directive {
	if actions, ok := obj["actions"].([]any); ok && len(actions) > 0 {
		directives := make([]Directive, 0, len(actions))
		for _, entry := range actions {
			action, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name, _ := action["tool"].(string)
			if strings.TrimSpace(name) == "" {
				continue
			}
			directives = append(directives, Directive{
				Tool:  strings.TrimSpace(name),
				Input: marshalInput(action["input"]),
			})
		}
		return directives
	}

	// Single-action shorthand some models fall back to.
	if name, ok := obj["action"].(string); ok && strings.TrimSpace(name) != "" {
		return []Directive{{
			Tool:  strings.TrimSpace(name),
			Input: marshalInput(obj["input"]),
		}}
	}
	return nil
}

func marshalInput(input any) json.RawMessage {
	if input == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func normalizeOutput(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func nonEmptyRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

func preview(text string) string {
	const limit = 200
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
