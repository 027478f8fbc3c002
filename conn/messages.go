package conn

import "encoding/json"

// Outbound message types.
const (
	msgTypeAuth = "auth"
	msgTypeJoin = "join"
)

// Inbound message types.
const (
	msgTypeNotification = "notification"
	msgTypeUnread       = "unread"
)

// authRequest is the identity handshake sent immediately after the
// transport opens.
type authRequest struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

// joinRequest asks the gateway to add this session to a channel.
// Membership is ephemeral and must be re-requested after every
// reconnect.
type joinRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// envelope is the frame wrapper for all inbound gateway messages.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// authResult is the payload of the gateway's response to the identity
// handshake.
type authResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type unreadPayload struct {
	Count int `json:"count"`
}
