package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aurora-insure/concierge/internal/idempotency"
	"github.com/aurora-insure/concierge/pkg/logging"
)

const (
	defaultToolTimeout = 15 * time.Second
	defaultReadRetries = 1
)

// ErrGuardUnavailable wraps idempotency-store unreachability. The engine
// must surface this as a degraded state rather than running the tool blind.
var ErrGuardUnavailable = errors.New("tools: idempotency guard unavailable")

// Executor runs tool directives from the reasoning step: validates input
// against the declared schema, applies the per-call timeout, retries
// transient read failures, and guards keyed writes behind the idempotency
// store so a repeated directive replays the recorded result instead of
// repeating the upstream call. Every execution produces a ResultEnvelope;
// the only process errors it returns are guard-store failures.
type Executor struct {
	guard       idempotency.Store
	logger      *logging.Logger
	tracer      trace.Tracer
	timeout     time.Duration
	readRetries int
}

// ExecutorOption tunes an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout overrides the per-call deadline.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithReadRetries overrides how many extra attempts a failed read gets.
func WithReadRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.readRetries = n
		}
	}
}

// NewExecutor builds an executor. The guard store is required because the
// catalog contains write-once tools.
func NewExecutor(guard idempotency.Store, logger *logging.Logger, opts ...ExecutorOption) *Executor {
	if guard == nil {
		panic("tools: idempotency store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Executor{
		guard:       guard,
		logger:      logger.Component("tools"),
		tracer:      otel.Tracer("concierge.internal.tools"),
		timeout:     defaultToolTimeout,
		readRetries: defaultReadRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool directive for the session. Tool failures come back
// as error envelopes, never as Go errors; the returned error is reserved for
// guard-store unreachability on write-once tools.
func (e *Executor) Execute(ctx context.Context, sessionID string, spec Spec, input json.RawMessage) (ResultEnvelope, error) {
	ctx, span := e.tracer.Start(ctx, "tools.execute")
	defer span.End()

	if env, ok := e.validateInput(spec, input); !ok {
		return env, nil
	}

	switch spec.Effect {
	case EffectWriteOnce:
		return e.executeWriteOnce(ctx, sessionID, spec, input)
	case EffectWriteIdempotent:
		return e.executeWriteIdempotent(ctx, sessionID, spec, input), nil
	default:
		return e.executeRead(ctx, spec, input), nil
	}
}

func (e *Executor) validateInput(spec Spec, input json.RawMessage) (ResultEnvelope, bool) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(spec.Schema),
		gojsonschema.NewBytesLoader(input),
	)
	if err != nil {
		return Failure(ErrKindInvalidInput, fmt.Sprintf("input is not valid JSON: %v", err), false), false
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return Failure(ErrKindInvalidInput, strings.Join(reasons, "; "), false), false
	}
	return ResultEnvelope{}, true
}

func (e *Executor) executeRead(ctx context.Context, spec Spec, input json.RawMessage) ResultEnvelope {
	env := e.runOnce(ctx, spec, input)
	for attempt := 0; attempt < e.readRetries && env.Status == StatusError && env.Retryable; attempt++ {
		if ctx.Err() != nil {
			break
		}
		e.logger.Warn("retrying read tool", "tool", spec.Name, "attempt", attempt+2, "reason", env.ErrorMessage)
		env = e.runOnce(ctx, spec, input)
	}
	return env
}

func (e *Executor) executeWriteOnce(ctx context.Context, sessionID string, spec Spec, input json.RawMessage) (ResultEnvelope, error) {
	txKey, err := extractTransactionKey(input, spec.TransactionKeyField)
	if err != nil {
		return Failure(ErrKindInvalidInput, err.Error(), false), nil
	}
	guardKey := idempotency.Key(sessionID, spec.Name, txKey)

	existing, err := e.guard.Get(ctx, guardKey)
	if err != nil {
		return ResultEnvelope{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if existing != nil {
		return replayEnvelope(existing.Result), nil
	}

	env := e.runOnce(ctx, spec, input)
	if env.Status != StatusOK {
		// Failures are not recorded: a definitive rejection is
		// deterministic and an ambiguous outcome must stay visible
		// as ambiguous.
		return env, nil
	}

	data, merr := env.Marshal()
	if merr != nil {
		return Failure(ErrKindAmbiguousOutcome, fmt.Sprintf("result not serializable after write: %v", merr), false), nil
	}
	won, winner, err := e.guard.PutIfAbsent(ctx, guardKey, data)
	if err != nil {
		// The write happened but the record did not stick. Surface the
		// uncertainty rather than pretending the outcome is clean.
		e.logger.Error("write-once record failed after execution", "tool", spec.Name, "key", guardKey, "error", err)
		return Failure(ErrKindAmbiguousOutcome, "execution completed but could not be recorded", false), nil
	}
	if !won {
		return replayEnvelope(winner.Result), nil
	}
	return env, nil
}

// executeWriteIdempotent guards repeat-safe writes behind the same
// transaction-key record as write-once tools: a repeated directive with the
// same key replays the recorded result instead of making a second upstream
// call. Unlike write-once, a guard outage does not block execution, because
// the upstream declares the call safe to repeat.
func (e *Executor) executeWriteIdempotent(ctx context.Context, sessionID string, spec Spec, input json.RawMessage) ResultEnvelope {
	if spec.TransactionKeyField == "" {
		return e.runOnce(ctx, spec, input)
	}

	txKey, err := extractTransactionKey(input, spec.TransactionKeyField)
	if err != nil {
		return Failure(ErrKindInvalidInput, err.Error(), false)
	}
	guardKey := idempotency.Key(sessionID, spec.Name, txKey)

	existing, err := e.guard.Get(ctx, guardKey)
	if err != nil {
		e.logger.Warn("idempotency record unavailable, executing without replay", "tool", spec.Name, "key", guardKey, "error", err)
	} else if existing != nil {
		return replayEnvelope(existing.Result)
	}

	env := e.runOnce(ctx, spec, input)
	if env.Status != StatusOK {
		return env
	}

	data, merr := env.Marshal()
	if merr != nil {
		return env
	}
	won, winner, perr := e.guard.PutIfAbsent(ctx, guardKey, data)
	if perr != nil {
		e.logger.Warn("failed to record idempotent write result", "tool", spec.Name, "key", guardKey, "error", perr)
		return env
	}
	if !won {
		return replayEnvelope(winner.Result)
	}
	return env
}

// runOnce executes the handler with the per-call deadline and classifies
// the error by effect class.
func (e *Executor) runOnce(ctx context.Context, spec Spec, input json.RawMessage) ResultEnvelope {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	result, err := spec.Handler(callCtx, input)
	elapsed := time.Since(started)

	if err != nil {
		e.logger.Warn("tool execution failed", "tool", spec.Name, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return classify(spec.Effect, err)
	}
	if result == nil {
		return classify(spec.Effect, errors.New("handler returned no result"))
	}

	payload, merr := json.Marshal(result.Payload)
	if merr != nil {
		return classify(spec.Effect, fmt.Errorf("payload not serializable: %w", merr))
	}
	e.logger.Info("tool executed", "tool", spec.Name, "effect", string(spec.Effect), "elapsed_ms", elapsed.Milliseconds())
	return OK(payload, result.Citation)
}

func classify(effect Effect, err error) ResultEnvelope {
	var invalid *InvalidInputError
	if errors.As(err, &invalid) {
		return Failure(ErrKindInvalidInput, invalid.Reason, false)
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return Failure(ErrKindNotFound, notFound.Error(), false)
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		// A definitive refusal means no side effect occurred, even for
		// write-once tools.
		return Failure(ErrKindUpstream, rejected.Error(), false)
	}

	if effect == EffectWriteOnce {
		return Failure(ErrKindAmbiguousOutcome, err.Error(), false)
	}
	return Failure(ErrKindUpstream, err.Error(), true)
}

func extractTransactionKey(input json.RawMessage, field string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return "", fmt.Errorf("input must be a JSON object: %v", err)
	}
	raw, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("missing transaction key field %q", field)
	}
	key, ok := raw.(string)
	if !ok || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("transaction key field %q must be a non-empty string", field)
	}
	return strings.TrimSpace(key), nil
}

func replayEnvelope(data []byte) ResultEnvelope {
	var env ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Failure(ErrKindAmbiguousOutcome, "recorded result is unreadable", false)
	}
	env.Replayed = true
	return env
}
