package models

import (
	"fmt"
	"time"
)

// DeliveryStatus tracks a locally sent message's confidence level. A message
// starts queued, becomes sent once written to the wire, and acked once the
// server echoes it back on the live stream.
type DeliveryStatus string

const (
	StatusQueued DeliveryStatus = "queued"
	StatusSent   DeliveryStatus = "sent"
	StatusAcked  DeliveryStatus = "acked"
)

type Message struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Sender     Role           `json:"sender_role"`
	Content    string         `json:"content,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Status     DeliveryStatus `json:"-"`
}

// Validate enforces the message invariant: content or attachment, never neither.
func (m Message) Validate() error {
	if m.Content == "" && m.Attachment == nil {
		return fmt.Errorf("message %s has neither content nor attachment", m.ID)
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("message %s has unknown sender role %q", m.ID, m.Sender)
	}
	return nil
}

// Less orders messages by creation timestamp with id as tie-break. This is
// the buffer sort key; server push order remains the authoritative display
// order and Less is only a safety net across the bootstrap/live boundary.
func (m Message) Less(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

type Attachment struct {
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}
