package whatsapp

import (
	"net/url"
	"strings"

	"github.com/aurora-insure/concierge/internal/session"
)

// Message is one inbound WhatsApp message parsed from a Twilio webhook form.
type Message struct {
	Sender   string
	Text     string
	WaID     string
	Metadata map[string]string
}

// ParseTwilioForm maps Twilio's form-encoded webhook payload into a Message.
// Everything beyond the addressing fields is kept as metadata.
func ParseTwilioForm(form url.Values) Message {
	metadata := make(map[string]string)
	for key := range form {
		switch key {
		case "From", "Body", "WaId":
			continue
		}
		metadata[key] = form.Get(key)
	}
	return Message{
		Sender:   form.Get("From"),
		Text:     form.Get("Body"),
		WaID:     form.Get("WaId"),
		Metadata: metadata,
	}
}

// SessionID is the stable conversation key: the WhatsApp ID when present,
// otherwise the sender address.
func (m Message) SessionID() string {
	if m.WaID != "" {
		return m.WaID
	}
	return m.Sender
}

// ProfilePatch extracts traveller facts carried on the webhook itself.
func (m Message) ProfilePatch() session.ProfileBag {
	patch := session.ProfileBag{}
	if name := strings.TrimSpace(m.Metadata["ProfileName"]); name != "" {
		patch[session.KeyTravellerName] = name
	}
	if phone := strings.TrimSpace(strings.TrimPrefix(m.Sender, "whatsapp:")); phone != "" {
		patch[session.KeyPhoneNumber] = phone
	}
	if len(patch) == 0 {
		return nil
	}
	return patch
}
