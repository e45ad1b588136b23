package mailbox

import "time"

// Message is one inbox email with a plain-text preview of its body.
type Message struct {
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id,omitempty"`
	Subject   string    `json:"subject"`
	Sender    string    `json:"sender"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	Seen      bool      `json:"seen"`
}

// Key identifies the message across sessions. UIDs are only stable within
// one mailbox, so the Message-ID header wins when present.
func (m Message) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.Sender + "|" + m.Subject + "|" + m.Date.UTC().Format(time.RFC3339)
}
