package domain

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelDesktop Channel = "desktop"
	ChannelEmail   Channel = "email"
	ChannelMobile  Channel = "mobile"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindSuccess Kind = "success"
)

// Options enumerates every per-notification setting the dispatcher and the
// channel adapters understand. The zero value is a plain info notification.
type Options struct {
	Kind Kind `json:"kind,omitempty"`
	// Timeout is how long the desktop surface shows the notification.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Topic overrides the mobile push topic.
	Topic string `json:"topic,omitempty"`
	// HTMLBody replaces the generated email body.
	HTMLBody string `json:"html_body,omitempty"`
	// Durable notifications survive a restart until their delivery attempt.
	Durable bool `json:"durable,omitempty"`
}

type Notification struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Channels   []Channel `json:"channels"`
	Options    Options   `json:"options"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewNotification(title, message string, channels []Channel, opts Options) Notification {
	if opts.Kind == "" {
		opts.Kind = KindInfo
	}
	return Notification{
		ID:         uuid.New(),
		Title:      title,
		Message:    message,
		Channels:   dedupeChannels(channels),
		Options:    opts,
		EnqueuedAt: time.Now(),
	}
}

func (n Notification) Wants(c Channel) bool {
	for _, ch := range n.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

func dedupeChannels(channels []Channel) []Channel {
	out := make([]Channel, 0, len(channels))
	seen := make(map[Channel]bool, len(channels))
	for _, c := range channels {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Delivery records one channel attempt for a notification.
type Delivery struct {
	NotificationID uuid.UUID     `json:"notification_id"`
	Title          string        `json:"title"`
	Channel        Channel       `json:"channel"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	DeliveredAt    time.Time     `json:"delivered_at"`
}

func (d Delivery) Succeeded() bool {
	return d.Error == ""
}
