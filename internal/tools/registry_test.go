package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, json.RawMessage) (*Result, error) {
	return &Result{Payload: map[string]string{"ok": "true"}}, nil
}

func validSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: "test tool",
		Schema:      `{"type":"object"}`,
		Effect:      EffectRead,
		Handler:     noopHandler,
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(validSpec("policy_research")))

	spec, ok := reg.Lookup("policy_research")
	assert.True(t, ok)
	assert.Equal(t, "policy_research", spec.Name)

	_, ok = reg.Lookup("nope")
	assert.False(t, ok)
}

func TestRegistry_DuplicateNameFailsFast(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(validSpec("payment_status")))

	err := reg.Register(validSpec("payment_status"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tool name")
}

func TestRegistry_ListIsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(validSpec(name)))
	}

	specs := reg.List()
	require.Len(t, specs, 3)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "mid", specs[1].Name)
	assert.Equal(t, "zeta", specs[2].Name)
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{"missing name", func(s *Spec) { s.Name = "" }, "missing name"},
		{"missing description", func(s *Spec) { s.Description = "" }, "missing description"},
		{"missing schema", func(s *Spec) { s.Schema = "" }, "missing input schema"},
		{"missing handler", func(s *Spec) { s.Handler = nil }, "missing handler"},
		{"unknown effect", func(s *Spec) { s.Effect = "sometimes" }, "unknown effect"},
		{
			"write-once without transaction key",
			func(s *Spec) { s.Effect = EffectWriteOnce },
			"missing transaction key field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec("t")
			tt.mutate(&spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSpecValidate_WriteOnceWithKeyIsValid(t *testing.T) {
	spec := validSpec("policy_purchase")
	spec.Effect = EffectWriteOnce
	spec.TransactionKeyField = "quote_id"
	assert.NoError(t, spec.Validate())
}
