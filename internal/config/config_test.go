package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxToolCallsPerTurn != 6 {
		t.Errorf("expected default tool-call budget 6, got %d", cfg.MaxToolCallsPerTurn)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("expected default session TTL 24h, got %s", cfg.SessionTTL)
	}
	if cfg.ReasoningTimeout != 30*time.Second {
		t.Errorf("expected default reasoning timeout 30s, got %s", cfg.ReasoningTimeout)
	}
	if cfg.EmailProvider != "ses" {
		t.Errorf("expected default email provider ses, got %s", cfg.EmailProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_TOOL_CALLS_PER_TURN", "3")
	t.Setenv("REASONING_TIMEOUT", "5s")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("INSURER_MARKET", "my")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.MaxToolCallsPerTurn != 3 {
		t.Errorf("expected tool budget 3, got %d", cfg.MaxToolCallsPerTurn)
	}
	if cfg.ReasoningTimeout != 5*time.Second {
		t.Errorf("expected reasoning timeout 5s, got %s", cfg.ReasoningTimeout)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue enabled")
	}
	if cfg.InsurerMarket != "MY" {
		t.Errorf("expected market normalized to MY, got %s", cfg.InsurerMarket)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TURN_CEILING", "not-a-number")
	t.Setenv("REDIS_TLS", "definitely")
	t.Setenv("TOOL_TIMEOUT", "soon")

	cfg := Load()

	if cfg.TurnCeiling != 200 {
		t.Errorf("expected fallback turn ceiling 200, got %d", cfg.TurnCeiling)
	}
	if cfg.RedisTLS {
		t.Error("expected fallback redis TLS false")
	}
	if cfg.ToolTimeout != 15*time.Second {
		t.Errorf("expected fallback tool timeout, got %s", cfg.ToolTimeout)
	}
}
