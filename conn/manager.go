package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Itwoss/pulse/events"
	"github.com/Itwoss/pulse/models"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("CONN")

// ErrAuthenticationFailed is returned by Connect when the gateway
// rejects the identity handshake. Authentication failures are fatal for
// the connection attempt and are not retried automatically.
var ErrAuthenticationFailed = errors.New("gateway rejected the identity handshake")

const (
	defaultBackoffBase      = time.Second
	defaultBackoffCeiling   = time.Second * 30
	defaultMaxAttempts      = 10
	defaultHandshakeTimeout = time.Second * 10
)

// Options holds the connection manager configuration. Zero values are
// replaced with defaults by NewManager.
type Options struct {
	// URL is the websocket endpoint of the notification gateway.
	URL string

	// Token is the credential sent with the identity handshake.
	Token string

	// BackoffBase seeds the reconnect delay. The delay doubles per
	// consecutive failed attempt.
	BackoffBase time.Duration

	// BackoffCeiling caps the reconnect delay.
	BackoffCeiling time.Duration

	// MaxAttempts is the number of consecutive failed attempts after
	// which the manager gives up and transitions to failed.
	MaxAttempts int

	// HandshakeTimeout bounds the dial plus authenticate exchange.
	HandshakeTimeout time.Duration

	// Dialer opens the underlying socket. Defaults to the gorilla
	// websocket dialer.
	Dialer Dialer
}

// Manager owns the lifecycle of one persistent gateway connection per
// authenticated identity: connect, authenticate, join channels, detect
// disconnect, reconnect with backoff, and re-join channels after every
// reconnect. Inbound gateway events are relayed onto the registry
// without interpreting payload semantics beyond structural validation.
type Manager struct {
	opts     Options
	registry *events.Registry

	mtx      sync.Mutex
	status   models.ConnStatus
	attempt  int
	identity models.Identity
	sock     Socket
	timer    *time.Timer

	// writeMtx serializes all socket writes. gorilla/websocket
	// forbids concurrent writers.
	writeMtx sync.Mutex

	// gen invalidates goroutines and timers belonging to a previous
	// connection cycle. It is bumped on every Connect and Disconnect.
	gen int
}

// NewManager returns a manager which is not yet connected.
func NewManager(opts Options, registry *events.Registry) *Manager {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = defaultBackoffCeiling
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer()
	}
	return &Manager{
		opts:     opts,
		registry: registry,
		status:   models.ConnDisconnected,
	}
}

// Connect establishes a connection for the given identity. It is a
// no-op if a connection for the same identity already exists or is
// being established. Connecting with a different identity tears down
// the existing connection first. Calling Connect from the failed state
// resets the attempt counter and restarts the cycle.
func (m *Manager) Connect(userID, role string) error {
	if userID == "" {
		return errors.New("connect requires a non-empty user id")
	}

	m.mtx.Lock()
	identity := models.Identity{UserID: userID, Role: role}
	if m.identity == identity {
		switch m.status {
		case models.ConnConnected, models.ConnConnecting, models.ConnReconnecting:
			m.mtx.Unlock()
			return nil
		}
	}

	m.teardownLocked()
	m.identity = identity
	m.attempt = 0
	m.gen++
	gen := m.gen
	prev := m.setStatusLocked(models.ConnConnecting)
	m.mtx.Unlock()

	m.emitStatus(prev, models.ConnConnecting, 0)
	go m.dial(gen)
	return nil
}

// Disconnect tears down the connection and cancels any pending
// reconnect timer. It is safe to call multiple times and from a state
// where no connection exists.
func (m *Manager) Disconnect() {
	m.mtx.Lock()
	m.gen++
	m.teardownLocked()
	m.attempt = 0
	prev := m.setStatusLocked(models.ConnDisconnected)
	m.mtx.Unlock()

	m.emitStatus(prev, models.ConnDisconnected, 0)
}

// Send delivers an outbound message while connected. Otherwise it is a
// logged no-op; outbound messages are never queued and the caller is
// responsible for retrying application level intents.
func (m *Manager) Send(v interface{}) {
	m.mtx.Lock()
	sock := m.sock
	connected := m.status == models.ConnConnected
	m.mtx.Unlock()

	if !connected || sock == nil {
		log.Warningf("Dropping outbound message: not connected")
		return
	}
	if err := m.writeJSON(sock, v); err != nil {
		log.Errorf("Error writing to gateway: %s", err)
	}
}

func (m *Manager) writeJSON(sock Socket, v interface{}) error {
	m.writeMtx.Lock()
	defer m.writeMtx.Unlock()
	return sock.WriteJSON(v)
}

// State returns a snapshot of the connection state machine.
func (m *Manager) State() models.ConnectionState {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	state := models.ConnectionState{
		Status:  m.status,
		Attempt: m.attempt,
	}
	if m.status == models.ConnConnected {
		state.Channels = models.ChannelsForIdentity(m.identity)
	}
	return state
}

// dial performs one connection attempt: open the socket, run the
// identity handshake, then join the identity's channels and hand the
// socket to the read loop.
func (m *Manager) dial(gen int) {
	m.mtx.Lock()
	if gen != m.gen {
		m.mtx.Unlock()
		return
	}
	identity := m.identity
	m.mtx.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()

	sock, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
	if err != nil {
		log.Warningf("Error connecting to gateway: %s", err)
		m.connectFailed(gen)
		return
	}

	if err := m.handshake(sock, identity); err != nil {
		sock.Close()
		if errors.Is(err, ErrAuthenticationFailed) {
			log.Errorf("Gateway authentication failed for %s", identity.UserID)
			m.authFailed(gen)
			return
		}
		log.Warningf("Error during gateway handshake: %s", err)
		m.connectFailed(gen)
		return
	}

	m.mtx.Lock()
	if gen != m.gen {
		m.mtx.Unlock()
		sock.Close()
		return
	}
	m.sock = sock
	m.attempt = 0
	prev := m.setStatusLocked(models.ConnConnected)
	channels := models.ChannelsForIdentity(identity)
	m.mtx.Unlock()

	m.emitStatus(prev, models.ConnConnected, 0)

	// Channel membership is ephemeral; join requests are issued on
	// every successful connect, including reconnects.
	for _, channel := range channels {
		if err := m.writeJSON(sock, joinRequest{Type: msgTypeJoin, Channel: channel}); err != nil {
			log.Errorf("Error joining channel %s: %s", channel, err)
		}
	}

	go m.readLoop(gen, sock)
}

// handshake sends the identity and waits for the gateway's verdict.
func (m *Manager) handshake(sock Socket, identity models.Identity) error {
	err := m.writeJSON(sock, authRequest{
		Type:   msgTypeAuth,
		UserID: identity.UserID,
		Role:   identity.Role,
		Token:  m.opts.Token,
	})
	if err != nil {
		return err
	}

	if err := sock.SetReadDeadline(time.Now().Add(m.opts.HandshakeTimeout)); err != nil {
		return err
	}
	_, data, err := sock.ReadMessage()
	if err != nil {
		return err
	}
	if err := sock.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Type != msgTypeAuth {
		return errors.New("unexpected frame before handshake completion")
	}
	var result authResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return err
	}
	if !result.Success {
		return ErrAuthenticationFailed
	}
	return nil
}

func (m *Manager) readLoop(gen int, sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			m.socketClosed(gen, err)
			return
		}
		m.handleMessage(data)
	}
}

// handleMessage relays an inbound gateway frame onto the registry. The
// manager's only responsibility here is structural: malformed frames
// and notifications without a usable identifier are dropped and logged.
func (m *Manager) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warningf("Dropping malformed gateway frame: %s", err)
		return
	}

	switch env.Type {
	case msgTypeNotification:
		var n models.Notification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			log.Warningf("Dropping malformed notification payload: %s", err)
			return
		}
		if n.ID == "" {
			log.Warningf("Dropping notification with no id")
			return
		}
		n.Normalize()
		m.registry.Emit(events.TopicNotification, &events.NotificationReceived{Notification: &n})
	case msgTypeUnread:
		var p unreadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warningf("Dropping malformed unread payload: %s", err)
			return
		}
		m.registry.Emit(events.TopicUnreadCount, &events.UnreadCountPushed{Count: p.Count})
	case msgTypeAuth:
		// Late handshake frames carry no information after connect.
	default:
		log.Debugf("Ignoring gateway frame of type %q", env.Type)
	}
}

// socketClosed handles an unexpected transport close. Closes belonging
// to a superseded connection cycle are ignored.
func (m *Manager) socketClosed(gen int, err error) {
	m.mtx.Lock()
	if gen != m.gen {
		m.mtx.Unlock()
		return
	}
	log.Warningf("Gateway connection closed: %s", err)
	m.sock = nil
	prev := m.setStatusLocked(models.ConnReconnecting)
	attempt := m.scheduleReconnectLocked()
	cur := m.status
	m.mtx.Unlock()

	m.emitStatus(prev, cur, attempt)
}

// connectFailed handles a failed dial or transport level handshake
// failure and schedules the next attempt.
func (m *Manager) connectFailed(gen int) {
	m.mtx.Lock()
	if gen != m.gen {
		m.mtx.Unlock()
		return
	}
	prev := m.setStatusLocked(models.ConnReconnecting)
	attempt := m.scheduleReconnectLocked()
	cur := m.status
	m.mtx.Unlock()

	m.emitStatus(prev, cur, attempt)
}

// authFailed forces a full disconnect. Hammering an invalid credential
// endpoint helps nobody, so there is no automatic retry; the caller may
// invoke Connect again to restart the cycle.
func (m *Manager) authFailed(gen int) {
	m.mtx.Lock()
	if gen != m.gen {
		m.mtx.Unlock()
		return
	}
	m.gen++
	m.teardownLocked()
	prev := m.setStatusLocked(models.ConnDisconnected)
	m.mtx.Unlock()

	m.emitStatus(prev, models.ConnDisconnected, 0)
}

// scheduleReconnectLocked increments the attempt counter and either
// schedules the next dial or, once the budget is exhausted, parks the
// manager in the failed state. Returns the attempt number.
func (m *Manager) scheduleReconnectLocked() int {
	m.attempt++
	if m.attempt > m.opts.MaxAttempts {
		log.Errorf("Giving up reconnecting after %d attempts", m.opts.MaxAttempts)
		m.setStatusLocked(models.ConnFailed)
		return m.attempt
	}

	delay := backoffDelay(m.opts.BackoffBase, m.opts.BackoffCeiling, m.attempt)
	log.Infof("Reconnecting to gateway in %s (attempt %d)", delay, m.attempt)

	gen := m.gen
	m.timer = time.AfterFunc(delay, func() {
		m.mtx.Lock()
		stale := gen != m.gen || m.status != models.ConnReconnecting
		m.mtx.Unlock()
		if stale {
			return
		}
		m.dial(gen)
	})
	return m.attempt
}

// backoffDelay computes the reconnect delay for the given attempt,
// starting at base, doubling per attempt, and never exceeding ceiling.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay <= 0 || delay > ceiling {
		return ceiling
	}
	return delay
}

// teardownLocked closes the socket and cancels any pending reconnect
// timer. The caller must hold the mutex and bump gen first if the
// teardown is meant to invalidate in-flight work.
func (m *Manager) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.sock != nil {
		m.sock.Close()
		m.sock = nil
	}
}

func (m *Manager) setStatusLocked(next models.ConnStatus) models.ConnStatus {
	prev := m.status
	m.status = next
	return prev
}

func (m *Manager) emitStatus(prev, cur models.ConnStatus, attempt int) {
	if prev == cur {
		return
	}
	m.registry.Emit(events.TopicConnStatus, &events.ConnStatusChanged{
		Previous: prev,
		Current:  cur,
		Attempt:  attempt,
	})
}
