package models

import (
	"encoding/json"
	"time"
)

const (
	// DefaultTitle is used when the server payload omits a title.
	DefaultTitle = "Notification"

	// DefaultMessage is used when the server payload omits a message.
	DefaultMessage = "You have a new notification"
)

// Notification is a single notification as presented to the UI. The ID
// is the de-duplication key and is the only field required to be present
// in a server payload. Type is an open enumeration (follow, payment,
// system, etc.) which drives icon selection only and must never be
// branched on elsewhere.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data,omitempty"`
	From      string          `json:"from,omitempty"`
}

// Normalize fills in placeholder display strings and strips any markup
// from the server supplied fields. It should be called on every
// notification crossing the wire boundary before it is handed to
// anything else.
func (n *Notification) Normalize() {
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Message == "" {
		n.Message = DefaultMessage
	}
	n.Type = sanitizer.Sanitize(n.Type)
	n.Title = sanitizer.Sanitize(n.Title)
	n.Message = sanitizer.Sanitize(n.Message)
	n.From = sanitizer.Sanitize(n.From)
}
