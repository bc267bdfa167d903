package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Effect classifies what a tool does to the outside world. The executor uses
// it to decide retry and idempotency behavior.
type Effect string

const (
	// EffectRead has no external side effects and may be retried freely.
	EffectRead Effect = "read"
	// EffectWriteIdempotent mutates external state but is safe to repeat
	// with the same input. When the spec names a transaction key, a repeat
	// with the same key replays the recorded result instead of calling
	// upstream again.
	EffectWriteIdempotent Effect = "write-idempotent"
	// EffectWriteOnce must execute at most once per transaction key.
	EffectWriteOnce Effect = "write-once"
)

// Result is what a handler returns on success: a JSON-marshalable payload
// plus an optional citation naming the source the answer came from.
type Result struct {
	Payload  any    `json:"payload"`
	Citation string `json:"citation,omitempty"`
}

// Handler executes a tool against its validated input. The input has already
// passed schema validation when the handler runs.
type Handler func(ctx context.Context, input json.RawMessage) (*Result, error)

// Spec declares a tool: its catalog entry, input contract, side-effect
// class, and handler. Write-once tools must name the input field carrying
// the business transaction key.
type Spec struct {
	Name                string
	Description         string
	Schema              string
	Effect              Effect
	TransactionKeyField string
	Handler             Handler
}

// Validate checks the declaration is internally consistent.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("tools: spec missing name")
	}
	if s.Description == "" {
		return fmt.Errorf("tools: spec %s missing description", s.Name)
	}
	if s.Schema == "" {
		return fmt.Errorf("tools: spec %s missing input schema", s.Name)
	}
	if s.Handler == nil {
		return fmt.Errorf("tools: spec %s missing handler", s.Name)
	}
	switch s.Effect {
	case EffectRead, EffectWriteIdempotent:
	case EffectWriteOnce:
		if s.TransactionKeyField == "" {
			return fmt.Errorf("tools: write-once spec %s missing transaction key field", s.Name)
		}
	default:
		return fmt.Errorf("tools: spec %s has unknown effect %q", s.Name, s.Effect)
	}
	return nil
}
