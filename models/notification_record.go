package models

import (
	"encoding/json"
	"time"
)

// NotificationRecord encapsulates a notification for the on-disk cache.
// The notification itself is serialized as JSON so as to make this model
// suitable for the database while remaining agnostic to new payload
// fields the server may add.
type NotificationRecord struct {
	ID         string          `gorm:"primary_key" json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	IsRead     bool            `json:"read"`
	Serialized json.RawMessage `json:"notification"`
}

// NewNotificationRecord serializes a notification into a cache record.
func NewNotificationRecord(n *Notification) (*NotificationRecord, error) {
	out, err := json.MarshalIndent(n, "", "    ")
	if err != nil {
		return nil, err
	}

	return &NotificationRecord{
		ID:         n.ID,
		Timestamp:  n.CreatedAt,
		IsRead:     n.Read,
		Serialized: out,
	}, nil
}

// Notification deserializes the cached notification. The IsRead column
// is authoritative over the serialized copy since mark-read updates
// only touch the column.
func (r *NotificationRecord) Notification() (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(r.Serialized, &n); err != nil {
		return nil, err
	}
	n.Read = r.IsRead
	return &n, nil
}
