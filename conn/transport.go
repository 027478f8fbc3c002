package conn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the surface of a websocket connection used by the manager.
// *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens sockets to the notification gateway. The production
// implementation wraps the gorilla websocket dialer; tests may
// substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

type websocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a Dialer backed by a gorilla websocket
// dialer with a bounded handshake.
func NewWebsocketDialer() Dialer {
	return &websocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: time.Second * 10,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *websocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	c, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}
