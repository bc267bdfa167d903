package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Payment-Signature"

const webhookProvider = "payments"

// WebhookEvent is a payment provider delivery.
type WebhookEvent struct {
	ID   string       `json:"id"`
	Type string       `json:"type"`
	Data WebhookData  `json:"data"`
}

// WebhookData carries the session state and any traveller facts the
// provider echoes back through metadata.
type WebhookData struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"payment_status"`
	Metadata      map[string]any `json:"metadata"`
}

type processedRecorder interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// PaymentObserver is notified once per successfully captured payment.
// The conversation side uses it to issue the policy and email the traveller.
type PaymentObserver interface {
	PaymentCaptured(ctx context.Context, conversationID, checkoutRef string, metadata map[string]any)
}

// WebhookHandler receives provider callbacks, verifies their signature,
// dedupes retried deliveries, and folds the payment state into the session
// profile.
type WebhookHandler struct {
	secret    string
	sessions  session.Store
	processed processedRecorder
	observer  PaymentObserver
	logger    *logging.Logger
}

// NewWebhookHandler builds the handler. The observer may be nil.
func NewWebhookHandler(secret string, sessions session.Store, processed processedRecorder, observer PaymentObserver, logger *logging.Logger) *WebhookHandler {
	if sessions == nil {
		panic("payments: session store cannot be nil")
	}
	if processed == nil {
		panic("payments: processed store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		secret:    secret,
		sessions:  sessions,
		processed: processed,
		observer:  observer,
		logger:    logger.Component("payments"),
	}
}

// ServeHTTP handles POST /webhooks/payments.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	fresh, err := h.processed.MarkProcessed(r.Context(), webhookProvider, event.ID)
	if err != nil {
		h.logger.Error("webhook dedupe store failed", "event_id", event.ID, "error", err)
		// 500 so the provider retries once the store is back.
		http.Error(w, "dedupe store unavailable", http.StatusInternalServerError)
		return
	}
	if !fresh {
		h.logger.Info("webhook delivery already processed", "event_id", event.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.applyEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook apply failed", "event_id", event.ID, "error", err)
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *WebhookHandler) applyEvent(ctx context.Context, event WebhookEvent) error {
	conversationID := conversationRef(event.Data.Metadata)
	if conversationID == "" {
		h.logger.Warn("webhook event carries no conversation reference", "event_id", event.ID)
		return nil
	}

	status := event.Data.PaymentStatus
	if status == "" {
		status = event.Data.Status
	}

	profile, err := h.sessions.GetProfile(ctx, conversationID)
	if err != nil {
		return err
	}
	patch := session.ProfileBag{
		session.KeyPaymentStatus: status,
		session.KeyCheckoutRef:   event.Data.SessionID,
	}
	merged := profile.Merge(patch)
	merged.ApplyPaymentContext(map[string]any{"metadata": event.Data.Metadata})
	if _, err := h.sessions.MergeProfile(ctx, conversationID, merged); err != nil {
		return err
	}

	h.logger.Info("payment state applied",
		"event_id", event.ID,
		"conversation_id", conversationID,
		"payment_status", status,
	)

	if h.observer != nil && isCaptured(event, status) {
		h.observer.PaymentCaptured(ctx, conversationID, event.Data.SessionID, event.Data.Metadata)
	}
	return nil
}

func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if h.secret == "" {
		// Signature enforcement is opt-in; local stacks run without it.
		return true
	}
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(header)), []byte(expected))
}

func conversationRef(metadata map[string]any) string {
	for _, key := range []string{"conversation_id", "session_ref", "session_id"} {
		if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isCaptured(event WebhookEvent, status string) bool {
	if strings.EqualFold(status, "paid") || strings.EqualFold(status, "captured") {
		return true
	}
	return strings.EqualFold(event.Type, "checkout.completed")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
