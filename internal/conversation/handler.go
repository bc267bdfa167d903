package conversation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// Handler wires HTTP requests to the orchestration engine.
type Handler struct {
	engine    *Engine
	sessions  session.Store
	publisher *Publisher
	logger    *logging.Logger
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithAsyncPublisher enables the enqueue endpoint; queued messages are
// processed by the dispatcher and replies delivered out-of-band.
func WithAsyncPublisher(p *Publisher) HandlerOption {
	return func(h *Handler) {
		h.publisher = p
	}
}

// NewHandler creates a conversation handler.
func NewHandler(engine *Engine, sessions session.Store, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		engine:   engine,
		sessions: sessions,
		logger:   logger.Component("conversation"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Message handles POST /conversations/message. The turn runs synchronously:
// the response carries the reply and the audit trail of tool runs.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.ProcessMessage(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrSessionBusy):
			http.Error(w, "A reply for this conversation is still being prepared, please retry shortly", http.StatusConflict)
		case errors.Is(err, session.ErrStoreUnavailable):
			h.logger.Error("session store unavailable", "error", err)
			http.Error(w, "Conversation storage is temporarily unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("failed to process message", "error", err)
			http.Error(w, "Failed to process message", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Enqueue handles POST /conversations/enqueue. The message is queued for a
// worker; the reply reaches the traveller through their channel's sender.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		http.Error(w, "Asynchronous processing is not configured", http.StatusServiceUnavailable)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := h.publisher.Enqueue(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to enqueue message", "error", err)
		http.Error(w, "Failed to queue message", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": jobID,
	})
}

// History handles GET /conversations/{sessionID}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Load(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			http.Error(w, "Conversation storage is temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to load session history", "session_id", sessionID, "error", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sess.ID,
		"turns":        sess.Turns,
		"profile":      sess.Profile,
		"turn_counter": sess.TurnCounter,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
