package models

// ConnStatus is the lifecycle status of the persistent connection.
type ConnStatus int

const (
	// ConnDisconnected means no connection exists and none is pending.
	ConnDisconnected ConnStatus = iota

	// ConnConnecting means an initial connection attempt is in flight.
	ConnConnecting

	// ConnConnected means the connection is open and authenticated.
	ConnConnected

	// ConnReconnecting means the connection was lost and a retry is
	// scheduled or in flight.
	ConnReconnecting

	// ConnFailed means the retry budget is exhausted. No further
	// automatic attempts will be made until Connect is called again.
	ConnFailed
)

// String returns a human readable connection status.
func (s ConnStatus) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Identity is the authenticated identity a connection is scoped to.
type Identity struct {
	UserID string
	Role   string
}

// RoleAdmin is the role which grants membership in the shared
// privileged channel.
const RoleAdmin = "admin"

// AdminChannel is the shared privileged channel name.
const AdminChannel = "admin"

// ConnectionState is a snapshot of the connection manager's state
// machine, suitable for display.
type ConnectionState struct {
	Status   ConnStatus
	Attempt  int
	Channels []string
}

// ChannelsForIdentity returns the set of channels a session with the
// given identity must belong to. Channel membership does not survive a
// transport level reconnect so this is recomputed and re-applied after
// every successful connect.
func ChannelsForIdentity(id Identity) []string {
	channels := []string{"user:" + id.UserID}
	if id.Role == RoleAdmin {
		channels = append(channels, AdminChannel)
	}
	return channels
}
