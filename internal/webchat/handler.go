package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/aurora-insure/concierge/internal/conversation"
	"github.com/aurora-insure/concierge/internal/session"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// MessageProcessor runs one inbound-message cycle.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.Response, error)
}

// Handler manages web chat connections: a websocket for real-time dialogue
// and an HTTP fallback for environments that cannot hold a socket open.
type Handler struct {
	processor MessageProcessor
	sessions  session.Store
	logger    *logging.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn // conversation ID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
}

// InboundMessage is what the chat widget sends.
type InboundMessage struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a simplified turn for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler.
func NewHandler(processor MessageProcessor, sessions session.Store, logger *logging.Logger) *Handler {
	if processor == nil {
		panic("webchat: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		processor: processor,
		sessions:  sessions,
		logger:    logger.Component("webchat"),
		conns:     make(map[string]*wsConn),
	}
}

// ConversationID builds the canonical session key for a webchat visitor.
func ConversationID(sessionID string) string {
	return fmt.Sprintf("webchat:%s", sessionID)
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	convID := ConversationID(sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{
		Type:      "session",
		SessionID: sessionID,
	})

	if history := h.loadHistory(r.Context(), convID, 50); len(history) > 0 {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	}

	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[convID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[convID] == wsc {
			delete(h.conns, convID)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("webchat connection opened", "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat connection closed", "session_id", sessionID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		h.sendToSession(convID, OutboundMessage{Type: "typing"})
		reply := h.process(r.Context(), convID, msg.Text)
		h.sendToSession(convID, OutboundMessage{
			Type:      "message",
			Role:      "assistant",
			Text:      reply,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *Handler) process(ctx context.Context, convID, text string) string {
	resp, err := h.processor.ProcessMessage(ctx, conversation.MessageRequest{
		SessionID:   convID,
		MessageText: text,
		Channel:     "web",
	})
	switch {
	case err == nil:
		return resp.ReplyText
	case errors.Is(err, conversation.ErrSessionBusy):
		return "I'm still working on your previous message — one moment please."
	default:
		h.logger.Error("webchat message processing failed", "session_id", convID, "error", err)
		return "Sorry, something went wrong. Please try again."
	}
}

func (h *Handler) sendToSession(convID string, msg OutboundMessage) {
	h.mu.RLock()
	wsc, ok := h.conns[convID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = websocket.JSON.Send(wsc.conn, msg)
}

// HandleMessage is the HTTP fallback for sending messages. Unlike the
// socket, the reply comes back in the response body.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	reply := h.process(r.Context(), ConversationID(req.SessionID), req.Text)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"session_id": req.SessionID,
		"reply_text": reply,
	})
}

// HandleHistory returns chat history for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	history := h.loadHistory(r.Context(), ConversationID(sessionID), 100)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}

// loadHistory flattens stored turns into widget-friendly messages. Tool
// turns are internal and never shown to the visitor.
func (h *Handler) loadHistory(ctx context.Context, convID string, limit int) []HistoryMessage {
	if h.sessions == nil {
		return nil
	}
	sess, err := h.sessions.Load(ctx, convID)
	if err != nil {
		h.logger.Warn("failed to load webchat history", "session_id", convID, "error", err)
		return nil
	}

	history := make([]HistoryMessage, 0, len(sess.Turns))
	for _, turn := range sess.Turns {
		if turn.Role == session.RoleTool {
			continue
		}
		history = append(history, HistoryMessage{
			Role:      string(turn.Role),
			Text:      turn.Content,
			Timestamp: turn.CreatedAt.Format(time.RFC3339),
		})
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
