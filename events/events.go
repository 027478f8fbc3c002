package events

import "github.com/Itwoss/pulse/models"

// Topic names for the registry. Each topic carries exactly one payload
// type, validated at the connection manager boundary before relay.
const (
	// TopicNotification carries a *NotificationReceived payload.
	TopicNotification = "notification"

	// TopicConnStatus carries a *ConnStatusChanged payload.
	TopicConnStatus = "connection:status"

	// TopicUnreadCount carries a *UnreadCountPushed payload.
	TopicUnreadCount = "notification:unread"
)

// NotificationReceived is emitted on TopicNotification whenever the
// server pushes a structurally valid notification.
type NotificationReceived struct {
	Notification *models.Notification
}

// ConnStatusChanged is emitted on TopicConnStatus on every transition
// of the connection state machine.
type ConnStatusChanged struct {
	Previous models.ConnStatus
	Current  models.ConnStatus
	Attempt  int
}

// UnreadCountPushed is emitted on TopicUnreadCount when the server
// pushes an unread count from its stats endpoint.
type UnreadCountPushed struct {
	Count int
}
