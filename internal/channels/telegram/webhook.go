package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// MessageProcessor runs one inbound-message cycle.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.Response, error)
}

// WebhookHandler turns Telegram bot updates into conversation turns. The
// reply is returned in the webhook response body as {"output": ...}.
type WebhookHandler struct {
	processor MessageProcessor
	logger    *logging.Logger
}

// NewWebhookHandler creates the Telegram webhook handler.
func NewWebhookHandler(processor MessageProcessor, logger *logging.Logger) *WebhookHandler {
	if processor == nil {
		panic("telegram: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    logger.Component("telegram"),
	}
}

// ServeHTTP handles POST /webhooks/telegram.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid update payload", http.StatusBadRequest)
		return
	}
	if update.SessionID() == "" || update.SessionID() == "0" {
		http.Error(w, "Missing chat", http.StatusBadRequest)
		return
	}
	if update.Text() == "" {
		// Non-text updates (stickers, joins) are acknowledged and ignored.
		h.writeOutput(w, "")
		return
	}

	h.logger.Info("telegram webhook received", "chat_id", update.SessionID(), "update_id", update.UpdateID)

	resp, err := h.processor.ProcessMessage(r.Context(), conversation.MessageRequest{
		SessionID:    update.SessionID(),
		MessageText:  update.Text(),
		ProfilePatch: update.ProfilePatch(),
		Channel:      "telegram",
	})

	switch {
	case err == nil:
		h.writeOutput(w, resp.ReplyText)
	case errors.Is(err, conversation.ErrSessionBusy):
		h.writeOutput(w, "I'm still working on your previous message — one moment please.")
	case errors.Is(err, session.ErrStoreUnavailable):
		// Non-2xx makes Telegram redeliver the update later.
		h.logger.Error("session store unavailable", "error", err)
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("telegram message processing failed", "error", err)
		h.writeOutput(w, "Sorry, something went wrong on our side. Please try again.")
	}
}

func (h *WebhookHandler) writeOutput(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"output": text}); err != nil {
		h.logger.Error("failed to encode telegram response", "error", err)
	}
}
