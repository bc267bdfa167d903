package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aurora-insure/concierge/internal/notify"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// issuanceLockWait bounds how long a capture waits for an in-flight turn
// before deferring issuance to reconciliation.
const issuanceLockWait = 30 * time.Second

// PolicyFollowUp finalizes a sale after the payment webhook confirms capture:
// it issues the policy through the write-once purchase tool, records the
// outcome in the transcript, and emails the traveller their confirmation.
// Running through the same executor and idempotency record as a direct tool
// call keeps issuance at-most-once across both paths, and holding the
// engine's session lock keeps the transcript writes serialized with
// in-flight turns.
type PolicyFollowUp struct {
	sessions     session.Store
	registry     *tools.Registry
	executor     ToolRunner
	notifier     *notify.Notifier
	locks        SessionLocker
	logger       *logging.Logger
	purchaseTool string
}

var _ payments.PaymentObserver = (*PolicyFollowUp)(nil)

// FollowUpOption customizes a PolicyFollowUp.
type FollowUpOption func(*PolicyFollowUp)

// WithSessionLock shares the engine's per-session turn lock so a capture
// landing mid-turn waits instead of interleaving with the turn's writes.
func WithSessionLock(locks SessionLocker) FollowUpOption {
	return func(f *PolicyFollowUp) {
		if locks != nil {
			f.locks = locks
		}
	}
}

// NewPolicyFollowUp wires the post-payment policy issuance path. The
// purchaseTool names the registered write-once purchase tool. Production
// wiring passes the engine's lock via WithSessionLock; without it, captures
// only serialize against each other.
func NewPolicyFollowUp(sessions session.Store, registry *tools.Registry, executor ToolRunner, notifier *notify.Notifier, purchaseTool string, logger *logging.Logger, opts ...FollowUpOption) *PolicyFollowUp {
	if logger == nil {
		logger = logging.Default()
	}
	if purchaseTool == "" {
		purchaseTool = "policy_purchase"
	}
	f := &PolicyFollowUp{
		sessions:     sessions,
		registry:     registry,
		executor:     executor,
		notifier:     notifier,
		locks:        newSessionLocks(),
		logger:       logger.Component("conversation"),
		purchaseTool: purchaseTool,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PaymentCaptured issues the policy for the paid quote. Failures are logged
// and left for reconciliation via payment_status; the webhook must never
// bounce because issuance lagged.
func (f *PolicyFollowUp) PaymentCaptured(ctx context.Context, conversationID, checkoutRef string, metadata map[string]any) {
	quoteID := metadataString(metadata, "quote_id")
	if quoteID == "" {
		f.logger.Warn("payment captured without quote_id, cannot issue policy",
			"session_id", conversationID, "checkout_ref", checkoutRef)
		return
	}

	spec, ok := f.registry.Lookup(f.purchaseTool)
	if !ok {
		f.logger.Error("purchase tool not registered", "tool", f.purchaseTool)
		return
	}

	// Sessions are single-writer: the reads and appends below must not
	// interleave with an in-flight turn's final append.
	lockCtx, cancel := context.WithTimeout(ctx, issuanceLockWait)
	defer cancel()
	if err := f.locks.Acquire(lockCtx, conversationID); err != nil {
		f.logger.Warn("session busy, policy issuance left for reconciliation",
			"session_id", conversationID, "quote_id", quoteID, "error", err)
		return
	}
	defer f.locks.Release(conversationID)

	profile, err := f.sessions.GetProfile(ctx, conversationID)
	if err != nil {
		f.logger.Error("failed to load profile for policy issuance",
			"session_id", conversationID, "error", err)
		return
	}

	input, err := json.Marshal(map[string]string{
		"quote_id":        quoteID,
		"offer_id":        metadataString(metadata, "offer_id", "plan_code"),
		"traveller_name":  profile.StringValue(session.KeyTravellerName),
		"email_address":   profile.StringValue(session.KeyEmailAddress),
		"phone_number":    profile.StringValue(session.KeyPhoneNumber),
		"passport_number": profile.StringValue(session.KeyPassportNumber),
	})
	if err != nil {
		return
	}

	env, err := f.executor.Execute(ctx, conversationID, spec, input)
	if err != nil {
		f.logger.Error("policy issuance degraded", "session_id", conversationID, "quote_id", quoteID, "error", err)
		return
	}

	if env.Status != tools.StatusOK {
		f.logger.Warn("policy issuance did not complete",
			"session_id", conversationID, "quote_id", quoteID,
			"error_kind", env.ErrorKind, "error_message", env.ErrorMessage)
		return
	}

	policyRef := payloadString(env.Payload, "policy_ref")
	if env.Replayed {
		f.logger.Info("policy already issued for quote",
			"session_id", conversationID, "quote_id", quoteID, "policy_ref", policyRef)
		return
	}

	if result, merr := env.Marshal(); merr == nil {
		turns := []session.Turn{
			session.NewToolTurn(spec.Name, input, result),
			session.NewAssistantTurn("Great news — your payment went through and your policy is confirmed. Your policy reference is " + policyRef + ". A confirmation email is on its way."),
		}
		if aerr := f.sessions.Append(ctx, conversationID, turns...); aerr != nil {
			f.logger.Error("failed to record policy issuance turns", "session_id", conversationID, "error", aerr)
		}
	}

	if _, err := f.sessions.MergeProfile(ctx, conversationID, session.ProfileBag{
		session.KeyPolicyRef:     policyRef,
		session.KeyPaymentStatus: "paid",
	}); err != nil {
		f.logger.Error("failed to record policy reference", "session_id", conversationID, "error", err)
	}

	f.notifier.PolicyIssued(ctx, notify.PolicyIssuedDetails{
		TravellerName: profile.StringValue(session.KeyTravellerName),
		EmailAddress:  profile.StringValue(session.KeyEmailAddress),
		PolicyRef:     policyRef,
		Destination:   profile.StringValue(session.KeyDestination),
		StartDate:     profile.StringValue(session.KeyStartDate),
		EndDate:       profile.StringValue(session.KeyEndDate),
	})
	f.logger.Info("policy issued after payment capture",
		"session_id", conversationID, "quote_id", quoteID, "policy_ref", policyRef, "replayed", env.Replayed)
}

func metadataString(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func payloadString(payload json.RawMessage, key string) string {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
