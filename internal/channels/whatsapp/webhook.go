package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// MessageProcessor runs one inbound-message cycle.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.Response, error)
}

// WebhookHandler turns Twilio WhatsApp webhooks into conversation turns and
// answers with TwiML so the reply rides the webhook response.
type WebhookHandler struct {
	processor MessageProcessor
	logger    *logging.Logger
}

// NewWebhookHandler creates the WhatsApp webhook handler.
func NewWebhookHandler(processor MessageProcessor, logger *logging.Logger) *WebhookHandler {
	if processor == nil {
		panic("whatsapp: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    logger.Component("whatsapp"),
	}
}

// ServeHTTP handles POST /webhooks/whatsapp.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form payload", http.StatusBadRequest)
		return
	}
	msg := ParseTwilioForm(r.PostForm)
	if msg.SessionID() == "" {
		http.Error(w, "Missing sender", http.StatusBadRequest)
		return
	}

	text := msg.Text
	if text == "" {
		text = "User sent media with no accompanying text."
	}

	h.logger.Info("whatsapp webhook received", "wa_id", msg.WaID, "sender", msg.Sender)

	resp, err := h.processor.ProcessMessage(r.Context(), conversation.MessageRequest{
		SessionID:    msg.SessionID(),
		MessageText:  text,
		ProfilePatch: msg.ProfilePatch(),
		Channel:      "whatsapp",
	})

	reply := ""
	switch {
	case err == nil:
		reply = resp.ReplyText
	case errors.Is(err, conversation.ErrSessionBusy):
		reply = "I'm still working on your previous message — one moment please."
	case errors.Is(err, session.ErrStoreUnavailable):
		// Non-2xx makes Twilio retry once the store is back.
		h.logger.Error("session store unavailable", "error", err)
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
		return
	default:
		h.logger.Error("whatsapp message processing failed", "error", err)
		reply = "Sorry, something went wrong on our side. Please try again."
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, renderTwiML(reply))
}

func renderTwiML(message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Message>` +
		html.EscapeString(message) + `</Message></Response>`
}
