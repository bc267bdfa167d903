package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/internal/idempotency"
	"github.com/aurora-insure/concierge/pkg/logging"
)

const quoteSchema = `{
	"type": "object",
	"properties": {
		"quote_id": {"type": "string"},
		"plan": {"type": "string"}
	},
	"required": ["quote_id"],
	"additionalProperties": false
}`

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *idempotency.MemoryStore) {
	t.Helper()
	guard := idempotency.NewMemoryStore()
	return NewExecutor(guard, logging.Default(), opts...), guard
}

func TestExecutor_SchemaRejectionShortCircuits(t *testing.T) {
	exec, _ := newTestExecutor(t)
	calls := 0
	spec := Spec{
		Name:        "policy_purchase",
		Description: "buy a policy",
		Schema:      quoteSchema,
		Effect:      EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: "never"}, nil
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"plan":"gold"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, ErrKindInvalidInput, env.ErrorKind)
	assert.False(t, env.Retryable)
	assert.Zero(t, calls, "handler must not run on schema rejection")
}

func TestExecutor_ReadSuccess(t *testing.T) {
	exec, _ := newTestExecutor(t)
	spec := Spec{
		Name:        "policy_research",
		Description: "search plans",
		Schema:      `{"type":"object"}`,
		Effect:      EffectRead,
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			return &Result{
				Payload:  map[string]any{"plans": []string{"basic", "plus"}},
				Citation: "plan-catalog-2026",
			}, nil
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, "plan-catalog-2026", env.Citation)
	assert.Contains(t, string(env.Payload), "basic")
}

func TestExecutor_ReadRetriesTransientFailureOnce(t *testing.T) {
	exec, _ := newTestExecutor(t, WithReadRetries(1))
	calls := 0
	spec := Spec{
		Name:        "payment_status",
		Description: "check payment",
		Schema:      `{"type":"object"}`,
		Effect:      EffectRead,
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("gateway timeout")
			}
			return &Result{Payload: map[string]string{"state": "paid"}}, nil
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, 2, calls)
}

func TestExecutor_ReadDoesNotRetryTerminalFailures(t *testing.T) {
	exec, _ := newTestExecutor(t, WithReadRetries(2))
	calls := 0
	spec := Spec{
		Name:        "policy_research",
		Description: "search plans",
		Schema:      `{"type":"object"}`,
		Effect:      EffectRead,
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return nil, &NotFoundError{What: "plan catalog for market XX"}
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, nil)
	require.NoError(t, err)
	assert.Equal(t, ErrKindNotFound, env.ErrorKind)
	assert.False(t, env.Retryable)
	assert.Equal(t, 1, calls)
}

func TestExecutor_WriteOnceRunsExactlyOnce(t *testing.T) {
	exec, _ := newTestExecutor(t)
	calls := 0
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              quoteSchema,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: map[string]string{"policy_ref": "POL-77"}}, nil
		},
	}
	input := json.RawMessage(`{"quote_id":"q-42","plan":"gold"}`)

	first, err := exec.Execute(context.Background(), "s1", spec, input)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, first.Status)
	assert.False(t, first.Replayed)

	second, err := exec.Execute(context.Background(), "s1", spec, input)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, second.Status)
	assert.True(t, second.Replayed, "repeat directive must replay the recorded result")
	assert.JSONEq(t, string(first.Payload), string(second.Payload))
	assert.Equal(t, 1, calls, "side effect must happen exactly once")
}

func TestExecutor_WriteOnceDifferentSessionsDoNotCollide(t *testing.T) {
	exec, _ := newTestExecutor(t)
	calls := 0
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              quoteSchema,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: map[string]int{"n": calls}}, nil
		},
	}
	input := json.RawMessage(`{"quote_id":"q-42"}`)

	_, err := exec.Execute(context.Background(), "session-a", spec, input)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), "session-b", spec, input)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecutor_IdempotentWriteReplaysRecordedResult(t *testing.T) {
	exec, _ := newTestExecutor(t)
	calls := 0
	spec := Spec{
		Name:                "payment_checkout",
		Description:         "create a checkout",
		Schema:              quoteSchema,
		Effect:              EffectWriteIdempotent,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: map[string]string{"checkout_ref": fmt.Sprintf("chk_%d", calls)}}, nil
		},
	}
	input := json.RawMessage(`{"quote_id":"q-1"}`)

	first, err := exec.Execute(context.Background(), "s1", spec, input)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, first.Status)
	assert.False(t, first.Replayed)
	assert.Contains(t, string(first.Payload), "chk_1")

	second, err := exec.Execute(context.Background(), "s1", spec, input)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, second.Status)
	assert.True(t, second.Replayed, "repeat checkout for the same quote must replay")
	assert.JSONEq(t, string(first.Payload), string(second.Payload))
	assert.Equal(t, 1, calls, "no second upstream creation call")
}

func TestExecutor_IdempotentWriteDifferentKeysRunSeparately(t *testing.T) {
	exec, _ := newTestExecutor(t)
	calls := 0
	spec := Spec{
		Name:                "payment_checkout",
		Description:         "create a checkout",
		Schema:              quoteSchema,
		Effect:              EffectWriteIdempotent,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: map[string]int{"n": calls}}, nil
		},
	}

	_, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-1"}`))
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-2"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecutor_IdempotentWriteRunsWhenGuardDown(t *testing.T) {
	exec := NewExecutor(&failingGuard{}, logging.Default())
	calls := 0
	spec := Spec{
		Name:                "payment_checkout",
		Description:         "create a checkout",
		Schema:              quoteSchema,
		Effect:              EffectWriteIdempotent,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			calls++
			return &Result{Payload: map[string]string{"checkout_ref": "chk_1"}}, nil
		},
	}

	// Upstream declares the call repeat-safe, so a guard outage degrades to
	// losing replay rather than refusing the write.
	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-1"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, 1, calls)
}

func TestExecutor_WriteOnceMissingTransactionKey(t *testing.T) {
	exec, _ := newTestExecutor(t)
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              `{"type":"object"}`,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler:             noopHandler,
	}

	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, ErrKindInvalidInput, env.ErrorKind)
	assert.Contains(t, env.ErrorMessage, "quote_id")
}

func TestExecutor_WriteOnceFailureIsAmbiguousAndUnrecorded(t *testing.T) {
	exec, guard := newTestExecutor(t)
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              quoteSchema,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			return nil, errors.New("connection reset mid-flight")
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-9"}`))
	require.NoError(t, err)
	assert.Equal(t, ErrKindAmbiguousOutcome, env.ErrorKind)
	assert.False(t, env.Retryable)

	rec, err := guard.Get(context.Background(), idempotency.Key("s1", "policy_purchase", "q-9"))
	require.NoError(t, err)
	assert.Nil(t, rec, "ambiguous outcomes must not be recorded as done")
}

func TestExecutor_WriteOnceRejectionIsNotAmbiguous(t *testing.T) {
	exec, _ := newTestExecutor(t)
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              quoteSchema,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler: func(context.Context, json.RawMessage) (*Result, error) {
			return nil, &RejectedError{Reason: "traveller age outside underwriting limits"}
		},
	}

	env, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-9"}`))
	require.NoError(t, err)
	assert.Equal(t, ErrKindUpstream, env.ErrorKind)
	assert.False(t, env.Retryable)
}

func TestExecutor_WriteOnceGuardDownIsProcessError(t *testing.T) {
	guard := &failingGuard{}
	exec := NewExecutor(guard, logging.Default())
	spec := Spec{
		Name:                "policy_purchase",
		Description:         "buy a policy",
		Schema:              quoteSchema,
		Effect:              EffectWriteOnce,
		TransactionKeyField: "quote_id",
		Handler:             noopHandler,
	}

	_, err := exec.Execute(context.Background(), "s1", spec, json.RawMessage(`{"quote_id":"q-1"}`))
	assert.ErrorIs(t, err, ErrGuardUnavailable)
}

func TestExecutor_HandlerTimeoutClassifiedByEffect(t *testing.T) {
	exec, _ := newTestExecutor(t, WithToolTimeout(20*time.Millisecond), WithReadRetries(0))
	slow := func(ctx context.Context, _ json.RawMessage) (*Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &Result{Payload: "late"}, nil
		}
	}

	readSpec := Spec{
		Name: "policy_research", Description: "d", Schema: `{"type":"object"}`,
		Effect: EffectRead, Handler: slow,
	}
	env, err := exec.Execute(context.Background(), "s1", readSpec, nil)
	require.NoError(t, err)
	assert.Equal(t, ErrKindUpstream, env.ErrorKind)
	assert.True(t, env.Retryable)

	writeSpec := Spec{
		Name: "policy_purchase", Description: "d", Schema: quoteSchema,
		Effect: EffectWriteOnce, TransactionKeyField: "quote_id", Handler: slow,
	}
	env, err = exec.Execute(context.Background(), "s1", writeSpec, json.RawMessage(`{"quote_id":"q-1"}`))
	require.NoError(t, err)
	assert.Equal(t, ErrKindAmbiguousOutcome, env.ErrorKind)
	assert.False(t, env.Retryable)
}

type failingGuard struct{}

func (f *failingGuard) Get(context.Context, string) (*idempotency.Record, error) {
	return nil, idempotency.ErrUnavailable
}

func (f *failingGuard) PutIfAbsent(context.Context, string, []byte) (bool, *idempotency.Record, error) {
	return false, nil, idempotency.ErrUnavailable
}
