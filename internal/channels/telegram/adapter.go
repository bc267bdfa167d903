package telegram

import (
	"strconv"
	"strings"

	"github.com/aurora-insure/concierge/internal/session"
)

// Update is the subset of a Telegram bot update the webhook consumes.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

// IncomingMessage is one inbound chat message.
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

// Chat identifies the Telegram conversation.
type Chat struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// SessionID is the stable conversation key for the chat.
func (u Update) SessionID() string {
	if u.Message == nil {
		return ""
	}
	return strconv.FormatInt(u.Message.Chat.ID, 10)
}

// Text returns the message text, empty for non-text updates.
func (u Update) Text() string {
	if u.Message == nil {
		return ""
	}
	return strings.TrimSpace(u.Message.Text)
}

// ProfilePatch extracts traveller facts carried on the update.
func (u Update) ProfilePatch() session.ProfileBag {
	if u.Message == nil {
		return nil
	}
	name := strings.TrimSpace(strings.TrimSpace(u.Message.Chat.FirstName) + " " + strings.TrimSpace(u.Message.Chat.LastName))
	if name == "" {
		return nil
	}
	return session.ProfileBag{session.KeyTravellerName: name}
}
