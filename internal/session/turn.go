package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one immutable entry in a session's conversation history: a user
// message, an assistant reply, or a tool execution record. Turns are
// append-only; replaying them in order reconstructs the exact context last
// sent to the reasoning step.
type Turn struct {
	ID         string          `json:"id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewUserTurn builds a user message turn.
func NewUserTurn(text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantTurn builds an assistant reply turn.
func NewAssistantTurn(text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolTurn builds a tool execution record turn. The result is the
// serialized result envelope produced by the tool executor.
func NewToolTurn(name string, input, result json.RawMessage) Turn {
	return Turn{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		ToolName:   name,
		ToolInput:  input,
		ToolResult: result,
		CreatedAt:  time.Now().UTC(),
	}
}

// Session is the durable, channel-agnostic conversation context keyed by a
// stable identifier. The turn counter increases once per processed inbound
// message and backs the per-conversation stall ceiling.
type Session struct {
	ID          string     `json:"id"`
	Turns       []Turn     `json:"turns"`
	Profile     ProfileBag `json:"profile"`
	TurnCounter int        `json:"turn_counter"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSession returns an empty session for the given ID. Nothing is persisted
// until the first save.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Turns:     []Turn{},
		Profile:   ProfileBag{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
