package mock

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/Itwoss/pulse/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("MOCK")

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundMsg struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

type outboundMsg struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type client struct {
	sock     *websocket.Conn
	writeMtx sync.Mutex

	authed   bool
	identity models.Identity
	channels map[string]bool
}

func (c *client) write(v interface{}) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	return c.sock.WriteJSON(v)
}

// Server is an in-process notification gateway used for development
// (the mocknet command) and for exercising clients in tests. It serves
// both the websocket endpoint and the REST notification endpoints.
type Server struct {
	// AuthToken, if non-empty, must match the handshake credential.
	AuthToken string

	router *mux.Router

	mtx           sync.Mutex
	clients       map[*client]bool
	notifications []*models.Notification
	joins         []string
	auths         []models.Identity
	fetches       int
}

// NewServer returns a mock gateway with no notifications seeded.
func NewServer() *Server {
	s := &Server{
		clients: make(map[*client]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/ws", s.handleWS)
	r.HandleFunc("/v1/notifications", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/notifications/read-all", s.handleReadAll).Methods(http.MethodPost)
	r.HandleFunc("/v1/notifications/{notificationID}/read", s.handleRead).Methods(http.MethodPost)
	s.router = r

	return s
}

// Handler returns the http handler serving the gateway routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Seed adds notifications to the server's backing list without pushing
// them to connected clients.
func (s *Server) Seed(notifications ...*models.Notification) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.notifications = append(s.notifications, notifications...)
}

// Push appends the notification to the backing list and delivers it to
// every authenticated client joined to the given channel.
func (s *Server) Push(channel string, n *models.Notification) {
	s.mtx.Lock()
	s.notifications = append(s.notifications, n)
	targets := s.channelTargetsLocked(channel)
	s.mtx.Unlock()

	for _, c := range targets {
		if err := c.write(outboundMsg{Type: "notification", Payload: n}); err != nil {
			log.Errorf("Websocket write error: %s", err)
		}
	}
}

// PushEnvelope broadcasts an arbitrary frame to every authenticated
// client regardless of channel membership.
func (s *Server) PushEnvelope(typ string, payload interface{}) {
	s.mtx.Lock()
	var targets []*client
	for c := range s.clients {
		if c.authed {
			targets = append(targets, c)
		}
	}
	s.mtx.Unlock()

	for _, c := range targets {
		if err := c.write(outboundMsg{Type: typ, Payload: payload}); err != nil {
			log.Errorf("Websocket write error: %s", err)
		}
	}
}

// DropClients force-closes every websocket from the server side,
// simulating a transport level connection loss.
func (s *Server) DropClients() {
	s.mtx.Lock()
	var socks []*websocket.Conn
	for c := range s.clients {
		socks = append(socks, c.sock)
	}
	s.mtx.Unlock()

	for _, sock := range socks {
		sock.Close()
	}
}

// Joins returns the history of join requests in the order received.
func (s *Server) Joins() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]string, len(s.joins))
	copy(out, s.joins)
	return out
}

// Auths returns the history of successful handshakes in the order
// received.
func (s *Server) Auths() []models.Identity {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]models.Identity, len(s.auths))
	copy(out, s.auths)
	return out
}

// FetchCount returns the number of list fetches served.
func (s *Server) FetchCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.fetches
}

func (s *Server) channelTargetsLocked(channel string) []*client {
	var targets []*client
	for c := range s.clients {
		if c.authed && c.channels[channel] {
			targets = append(targets, c)
		}
	}
	return targets
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Error upgrading websocket: %s", err)
		return
	}

	c := &client{
		sock:     sock,
		channels: make(map[string]bool),
	}
	s.mtx.Lock()
	s.clients[c] = true
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		delete(s.clients, c)
		s.mtx.Unlock()
		sock.Close()
	}()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warningf("Malformed client frame: %s", err)
			continue
		}

		switch msg.Type {
		case "auth":
			if s.AuthToken != "" && msg.Token != s.AuthToken {
				err := c.write(outboundMsg{Type: "auth", Payload: map[string]interface{}{
					"success": false,
					"error":   "invalid token",
				}})
				if err != nil {
					log.Errorf("Error writing auth reply: %s", err)
				}
				return
			}
			c.identity = models.Identity{UserID: msg.UserID, Role: msg.Role}
			s.mtx.Lock()
			c.authed = true
			s.auths = append(s.auths, c.identity)
			s.mtx.Unlock()
			err := c.write(outboundMsg{Type: "auth", Payload: map[string]interface{}{
				"success": true,
			}})
			if err != nil {
				log.Errorf("Error writing auth reply: %s", err)
			}
		case "join":
			if !c.authed {
				continue
			}
			s.mtx.Lock()
			c.channels[msg.Channel] = true
			s.joins = append(s.joins, msg.Channel)
			s.mtx.Unlock()
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	s.mtx.Lock()
	s.fetches++
	sorted := make([]*models.Notification, len(s.notifications))
	copy(sorted, s.notifications)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	unread := 0
	for _, n := range sorted {
		if !n.Read {
			unread++
		}
	}
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	s.mtx.Unlock()

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"notifications": sorted,
			"unreadCount":   unread,
		},
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["notificationID"]

	s.mtx.Lock()
	for _, n := range s.notifications {
		if n.ID == id {
			n.Read = true
			break
		}
	}
	s.mtx.Unlock()

	// Idempotent: marking an unknown or already-read notification is
	// still a success.
	writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	s.mtx.Lock()
	for _, n := range s.notifications {
		n.Read = true
	}
	s.mtx.Unlock()

	writeJSON(w, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Error writing response: %s", err)
	}
}
