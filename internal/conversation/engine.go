package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aurora-insure/concierge/internal/observability/metrics"
	"github.com/aurora-insure/concierge/internal/reasoning"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// Sentinel errors surfaced at the process boundary. Everything else the loop
// encounters is absorbed into the conversation as turns or fallback replies.
var (
	ErrSessionBusy    = errors.New("conversation: session busy")
	ErrInvalidRequest = errors.New("conversation: invalid request")
)

// State is the terminal state of one inbound-message cycle.
type State string

const (
	StateReplying State = "replying"
	StateStalled  State = "stalled"
)

// MessageRequest is the canonical inbound message shape every channel
// adapter maps into.
type MessageRequest struct {
	SessionID    string             `json:"session_id"`
	MessageText  string             `json:"message_text"`
	ProfilePatch session.ProfileBag `json:"profile_patch,omitempty"`
	Channel      string             `json:"channel,omitempty"`
}

// ToolRun is one audit entry for a tool executed during a cycle.
type ToolRun struct {
	Name         string          `json:"name"`
	Input        json.RawMessage `json:"input,omitempty"`
	ResultStatus string          `json:"result_status"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Replayed     bool            `json:"replayed,omitempty"`
}

// Response is the canonical reply returned to the channel.
type Response struct {
	SessionID string    `json:"session_id"`
	ReplyText string    `json:"reply_text"`
	ToolRuns  []ToolRun `json:"tool_runs"`
	State     State     `json:"state"`
}

// Reasoner is the reasoning-client surface the engine depends on.
type Reasoner interface {
	Converse(ctx context.Context, sessionID string, history []session.Turn, catalog []tools.Spec) (reasoning.Outcome, error)
}

// ToolRunner executes validated tool directives.
type ToolRunner interface {
	Execute(ctx context.Context, sessionID string, spec tools.Spec, input json.RawMessage) (tools.ResultEnvelope, error)
}

// Archiver persists completed turns to long-term storage for audit review.
type Archiver interface {
	ArchiveTurns(ctx context.Context, sessionID string, turns []session.Turn) error
}

// EngineConfig holds the loop's policy parameters. Non-positive values fall
// back to the defaults below; negative retry counts mean no retries.
type EngineConfig struct {
	MaxToolCallsPerTurn int
	TurnCeiling         int
	ReasoningRetries    int
	MalformedRetries    int
	ReasoningTimeout    time.Duration

	// CheckoutTool names the tool gated by the payment-readiness guard.
	CheckoutTool string
}

const (
	defaultMaxToolCalls     = 6
	defaultTurnCeiling      = 200
	defaultReasoningRetries = 1
	defaultMalformedRetries = 1
	defaultReasoningTimeout = 30 * time.Second
	defaultCheckoutTool     = "payment_checkout"
)

// User-facing fallback texts. Raw error codes never reach the traveller.
const (
	replyStalled       = "I'm sorry, I'm having trouble completing that request right now. Let's try again in a moment."
	replyAssistantDown = "I'm having trouble reaching our assistant right now. Please try again shortly."
	replyUnsafeAction  = "I can't safely complete that step right now. Please try again in a few minutes."
	replyHandoff       = "This conversation has grown quite long, so I'm handing it to a human colleague who can pick it up from here."

	malformedNudge = `Your previous reply could not be used. Respond with a single JSON object: {"output": "..."} for a message to the traveller, or include "actions": [{"tool": name, "input": {...}}] to run tools.`
)

// Engine is the orchestration loop: it turns an inbound message plus the
// persisted session into a bounded sequence of reasoning calls and tool
// executions, and folds the results into one user-facing reply.
type Engine struct {
	sessions session.Store
	reasoner Reasoner
	executor ToolRunner
	registry *tools.Registry
	archive  Archiver
	locks    *sessionLocks
	metrics  *metrics.ConversationMetrics
	logger   *logging.Logger
	cfg      EngineConfig
	now      func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMetrics wires conversation metrics.
func WithMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithArchive wires a long-term transcript archive. Archive failures are
// logged, never surfaced; Redis remains the source of truth for the loop.
func WithArchive(a Archiver) EngineOption {
	return func(e *Engine) { e.archive = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the orchestration loop.
func NewEngine(sessions session.Store, reasoner Reasoner, executor ToolRunner, registry *tools.Registry, cfg EngineConfig, logger *logging.Logger, opts ...EngineOption) *Engine {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if reasoner == nil {
		panic("conversation: reasoner cannot be nil")
	}
	if executor == nil {
		panic("conversation: tool executor cannot be nil")
	}
	if registry == nil {
		panic("conversation: tool registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = defaultMaxToolCalls
	}
	if cfg.TurnCeiling <= 0 {
		cfg.TurnCeiling = defaultTurnCeiling
	}
	if cfg.ReasoningRetries == 0 {
		cfg.ReasoningRetries = defaultReasoningRetries
	} else if cfg.ReasoningRetries < 0 {
		cfg.ReasoningRetries = 0
	}
	if cfg.MalformedRetries == 0 {
		cfg.MalformedRetries = defaultMalformedRetries
	} else if cfg.MalformedRetries < 0 {
		cfg.MalformedRetries = 0
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = defaultReasoningTimeout
	}
	if cfg.CheckoutTool == "" {
		cfg.CheckoutTool = defaultCheckoutTool
	}

	e := &Engine{
		sessions: sessions,
		reasoner: reasoner,
		executor: executor,
		registry: registry,
		locks:    newSessionLocks(),
		logger:   logger.Component("conversation"),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionLock exposes the engine's per-session turn lock so out-of-band
// writers serialize their session mutations with in-flight turns.
func (e *Engine) SessionLock() SessionLocker {
	return e.locks
}

// ProcessMessage runs one inbound-message cycle for the session. It returns
// ErrSessionBusy when a turn is already in flight, ErrInvalidRequest on a
// malformed request, and store errors verbatim; every other condition ends in
// a Response carrying a natural-language reply.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	started := e.now()
	sessionID := strings.TrimSpace(req.SessionID)
	text := strings.TrimSpace(req.MessageText)
	if sessionID == "" || text == "" {
		return nil, fmt.Errorf("%w: session_id and message_text are required", ErrInvalidRequest)
	}

	if !e.locks.TryAcquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer e.locks.Release(sessionID)

	sess, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.TurnCounter >= e.cfg.TurnCeiling {
		e.logger.Warn("turn ceiling reached", "session_id", sessionID, "turn_counter", sess.TurnCounter)
		e.observeTurn(StateStalled, started)
		return &Response{SessionID: sessionID, ReplyText: replyHandoff, ToolRuns: []ToolRun{}, State: StateStalled}, nil
	}

	profile := sess.Profile
	if len(req.ProfilePatch) > 0 {
		merged, err := e.sessions.MergeProfile(ctx, sessionID, req.ProfilePatch)
		if err != nil {
			return nil, err
		}
		profile = merged
	}
	if err := e.tryConfirmVerification(ctx, sessionID, profile, text); err != nil {
		return nil, err
	}

	cycle := &turnCycle{
		sessionID: sessionID,
		persisted: sess.Turns,
		profile:   profile,
		started:   started,
	}
	cycle.pending = append(cycle.pending, session.NewUserTurn(text))

	return e.runLoop(ctx, cycle)
}

// turnCycle is the mutable state of one inbound-message cycle. Turns produced
// during the cycle are buffered in pending and persisted in a single append
// when the cycle terminates with something worth keeping.
type turnCycle struct {
	sessionID string
	persisted []session.Turn
	pending   []session.Turn
	profile   session.ProfileBag
	toolRuns  []ToolRun
	toolCalls int
	started   time.Time
}

// contextTurns builds the exact context sent to the reasoning step: an
// optional profile preamble derived deterministically from the stored bag,
// then every persisted turn, then the buffered turns of this cycle.
func (c *turnCycle) contextTurns() []session.Turn {
	out := make([]session.Turn, 0, len(c.persisted)+len(c.pending)+1)
	if preamble, ok := profilePreamble(c.profile); ok {
		out = append(out, preamble)
	}
	out = append(out, c.persisted...)
	return append(out, c.pending...)
}

func profilePreamble(profile session.ProfileBag) (session.Turn, bool) {
	if len(profile) == 0 {
		return session.Turn{}, false
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return session.Turn{}, false
	}
	return session.Turn{
		Role:    session.RoleUser,
		Content: fmt.Sprintf("Known traveller context: %s", data),
	}, true
}

func (e *Engine) runLoop(ctx context.Context, cycle *turnCycle) (*Response, error) {
	catalog := e.registry.List()
	reasoningLeft := e.cfg.ReasoningRetries
	malformedLeft := e.cfg.MalformedRetries

	for {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ReasoningTimeout)
		callStarted := e.now()
		outcome, err := e.reasoner.Converse(callCtx, cycle.sessionID, cycle.contextTurns(), catalog)
		cancel()
		elapsed := e.now().Sub(callStarted).Seconds()

		if err != nil {
			e.metrics.ObserveReasoning("unavailable", elapsed)
			if reasoningLeft > 0 {
				reasoningLeft--
				e.logger.Warn("reasoning unavailable, retrying", "session_id", cycle.sessionID, "error", err)
				continue
			}
			e.logger.Error("reasoning unavailable, giving up", "session_id", cycle.sessionID, "error", err)
			return e.finishStalled(ctx, cycle, replyAssistantDown)
		}
		e.metrics.ObserveReasoning(string(outcome.Kind), elapsed)

		switch outcome.Kind {
		case reasoning.OutcomePlainReply:
			return e.finishReplying(ctx, cycle, outcome.Reply)

		case reasoning.OutcomeMalformed:
			if malformedLeft > 0 {
				malformedLeft--
				// The corrective nudge rides a user-role turn because not
				// every provider accepts system turns mid-history. Its fixed
				// text marks it in the transcript as orchestrator input, not
				// something the traveller typed.
				cycle.pending = append(cycle.pending, session.NewUserTurn(malformedNudge))
				continue
			}
			return e.finishStalled(ctx, cycle, replyStalled)

		case reasoning.OutcomeToolDirectives:
			resp, done, err := e.runDirectives(ctx, cycle, outcome.Directives)
			if err != nil || done {
				return resp, err
			}

		default:
			return e.finishStalled(ctx, cycle, replyStalled)
		}
	}
}

// runDirectives executes the requested tools in order. It returns done=true
// when the cycle terminated inside directive handling (budget exhausted,
// guard reply, or degraded executor).
func (e *Engine) runDirectives(ctx context.Context, cycle *turnCycle, directives []reasoning.Directive) (*Response, bool, error) {
	for _, directive := range directives {
		if cycle.toolCalls >= e.cfg.MaxToolCallsPerTurn {
			e.logger.Warn("tool budget exhausted", "session_id", cycle.sessionID, "budget", e.cfg.MaxToolCallsPerTurn)
			resp, err := e.finishStalled(ctx, cycle, replyStalled)
			return resp, true, err
		}
		cycle.toolCalls++

		spec, ok := e.registry.Lookup(directive.Tool)
		if !ok {
			// Fed back as a corrective turn so the model can self-correct.
			env := tools.Failure(tools.ErrKindNotFound, fmt.Sprintf("tool %q is not registered", directive.Tool), false)
			e.recordToolRun(cycle, directive.Tool, directive.Input, env)
			continue
		}

		if spec.Name == e.cfg.CheckoutTool {
			guardReply, guarded, err := e.applyPaymentGuard(ctx, cycle)
			if err != nil {
				return nil, true, err
			}
			if guarded {
				resp, ferr := e.finishReplying(ctx, cycle, guardReply)
				return resp, true, ferr
			}
		}

		env, err := e.executor.Execute(ctx, cycle.sessionID, spec, directive.Input)
		if err != nil {
			e.logger.Error("tool execution degraded", "session_id", cycle.sessionID, "tool", spec.Name, "error", err)
			resp, ferr := e.finishStalled(ctx, cycle, replyUnsafeAction)
			return resp, true, ferr
		}
		e.recordToolRun(cycle, spec.Name, directive.Input, env)
	}
	return nil, false, nil
}

func (e *Engine) recordToolRun(cycle *turnCycle, name string, input json.RawMessage, env tools.ResultEnvelope) {
	result, err := env.Marshal()
	if err != nil {
		result = []byte(`{"status":"error","error_kind":"ambiguous_outcome","error_message":"result not serializable"}`)
	}
	cycle.pending = append(cycle.pending, session.NewToolTurn(name, input, result))
	cycle.toolRuns = append(cycle.toolRuns, ToolRun{
		Name:         name,
		Input:        input,
		ResultStatus: env.Status,
		ErrorKind:    env.ErrorKind,
		Replayed:     env.Replayed,
	})
	e.metrics.ObserveTool(name, env.Status)
}

// finishReplying appends the assistant reply, persists every buffered turn in
// one append, and terminates the cycle.
func (e *Engine) finishReplying(ctx context.Context, cycle *turnCycle, reply string) (*Response, error) {
	cycle.pending = append(cycle.pending, session.NewAssistantTurn(reply))
	if err := e.sessions.Append(ctx, cycle.sessionID, cycle.pending...); err != nil {
		return nil, err
	}
	e.archiveTurns(ctx, cycle)
	e.observeTurn(StateReplying, cycle.started)
	return &Response{
		SessionID: cycle.sessionID,
		ReplyText: reply,
		ToolRuns:  cycle.toolRuns,
		State:     StateReplying,
	}, nil
}

// finishStalled terminates with a fallback reply. Partial tool progress is
// persisted; a cycle that died before any tool ran leaves the stored turn
// sequence untouched.
func (e *Engine) finishStalled(ctx context.Context, cycle *turnCycle, reply string) (*Response, error) {
	if hasToolTurn(cycle.pending) {
		cycle.pending = append(cycle.pending, session.NewAssistantTurn(reply))
		if err := e.sessions.Append(ctx, cycle.sessionID, cycle.pending...); err != nil {
			return nil, err
		}
		e.archiveTurns(ctx, cycle)
	}
	e.observeTurn(StateStalled, cycle.started)
	return &Response{
		SessionID: cycle.sessionID,
		ReplyText: reply,
		ToolRuns:  cycle.toolRuns,
		State:     StateStalled,
	}, nil
}

func (e *Engine) archiveTurns(ctx context.Context, cycle *turnCycle) {
	if e.archive == nil {
		return
	}
	if err := e.archive.ArchiveTurns(ctx, cycle.sessionID, cycle.pending); err != nil {
		e.logger.Warn("failed to archive turns", "session_id", cycle.sessionID, "error", err)
	}
}

func (e *Engine) observeTurn(state State, started time.Time) {
	e.metrics.ObserveTurn(string(state), e.now().Sub(started).Seconds())
}

func hasToolTurn(turns []session.Turn) bool {
	for _, turn := range turns {
		if turn.Role == session.RoleTool {
			return true
		}
	}
	return false
}

// tryConfirmVerification flips a pending detail verification to confirmed
// when the inbound message reads as a confirmation.
func (e *Engine) tryConfirmVerification(ctx context.Context, sessionID string, profile session.ProfileBag, text string) error {
	if profile.StringValue(session.KeyVerificationStatus) != session.VerificationPending {
		return nil
	}
	if !session.IsConfirmationMessage(text) {
		return nil
	}
	if !profile.ConfirmVerification(e.now()) {
		return nil
	}
	patch := session.ProfileBag{
		session.KeyVerificationStatus:      profile[session.KeyVerificationStatus],
		session.KeyVerificationConfirmedAt: profile[session.KeyVerificationConfirmedAt],
	}
	if _, err := e.sessions.MergeProfile(ctx, sessionID, patch); err != nil {
		return err
	}
	e.logger.Info("traveller details confirmed", "session_id", sessionID)
	return nil
}

// applyPaymentGuard blocks checkout creation until the profile is complete
// and the traveller has confirmed their details. When it blocks, the returned
// reply replaces the tool call and the directive is dropped.
func (e *Engine) applyPaymentGuard(ctx context.Context, cycle *turnCycle) (string, bool, error) {
	readiness := cycle.profile.PaymentReadiness()
	switch readiness.Status {
	case session.ReadinessReady:
		return "", false, nil

	case session.ReadinessUnverified:
		cycle.profile.RequestVerification(e.now())
		patch := session.ProfileBag{
			session.KeyVerificationStatus:      cycle.profile[session.KeyVerificationStatus],
			session.KeyVerificationFields:      cycle.profile[session.KeyVerificationFields],
			session.KeyVerificationRequestedAt: cycle.profile[session.KeyVerificationRequestedAt],
		}
		if _, err := e.sessions.MergeProfile(ctx, cycle.sessionID, patch); err != nil {
			return "", false, err
		}
		e.logger.Info("checkout held for verification", "session_id", cycle.sessionID)
		return verificationReply(cycle.profile), true, nil

	case session.ReadinessMissingFields:
		return fmt.Sprintf(
			"Almost there — I still need your %s before I can take payment.",
			humanizeFieldList(readiness.Missing),
		), true, nil

	default: // missing_profile
		return "Before I can set up payment, I need a few details: your full name, email address, destination, travel dates, and total trip cost. Could you share those?", true, nil
	}
}

// verificationFieldOrder fixes the display order of the confirmation summary.
var verificationFieldOrder = []string{
	session.KeyTravellerName,
	session.KeyDestination,
	session.KeyTripType,
	session.KeyTripCost,
	session.KeyStartDate,
	session.KeyEndDate,
	session.KeyEmailAddress,
	session.KeyPhoneNumber,
	session.KeyPassportNumber,
}

func verificationReply(profile session.ProfileBag) string {
	fields := profile.VerificationFields()
	var b strings.Builder
	b.WriteString("Before I take payment, please confirm these details:\n")
	for _, key := range verificationFieldOrder {
		value, ok := fields[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", humanizeField(key), value)
	}
	b.WriteString("Reply \"confirm\" if everything looks right, or tell me what to change.")
	return b.String()
}

func humanizeField(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

func humanizeFieldList(fields []string) string {
	humanized := make([]string, 0, len(fields))
	for _, f := range fields {
		humanized = append(humanized, humanizeField(f))
	}
	switch len(humanized) {
	case 0:
		return ""
	case 1:
		return humanized[0]
	default:
		return strings.Join(humanized[:len(humanized)-1], ", ") + " and " + humanized[len(humanized)-1]
	}
}
