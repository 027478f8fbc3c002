package core

import (
	"errors"
	"sync"
	"time"

	"github.com/Itwoss/pulse/api"
	"github.com/Itwoss/pulse/conn"
	"github.com/Itwoss/pulse/events"
	"github.com/Itwoss/pulse/notifications"
	"github.com/Itwoss/pulse/poll"
	"github.com/Itwoss/pulse/repo"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("CORE")

// ErrNoIdentity is returned by Connect when no user id is provided.
var ErrNoIdentity = errors.New("no authenticated identity")

// Client owns every component of the notification subsystem: one
// repo, one event registry, one connection manager, one poll
// scheduler, and one store. It is the explicit, injectable stand-in
// for a process-wide singleton: construct one per session, tear it
// down on logout.
//
// The connection manager and the scheduler are independent producers
// feeding the store; the store is the single consumer-facing source of
// truth. Consumers read from the store and issue mutation intents back
// through it; they never mutate it directly.
type Client struct {
	repo      *repo.Repo
	registry  *events.Registry
	manager   *conn.Manager
	apiClient *api.Client
	store     *notifications.Store
	scheduler *poll.Scheduler

	// Retained so teardown can detach exactly the subscriptions this
	// client registered.
	subs []*events.Subscription

	mtx      sync.Mutex
	started  bool
	stopOnce sync.Once
}

// options carry the fully resolved construction parameters. The
// config's second-granularity knobs are converted here so tests can
// build clients with much tighter timings.
type options struct {
	gatewayURL string
	apiURL     string
	authToken  string

	pollInterval time.Duration
	pollTimeout  time.Duration
	pageSize     int

	reconnectBase        time.Duration
	reconnectCeiling     time.Duration
	maxReconnectAttempts int
}

func optionsFromConfig(cfg *repo.Config) options {
	return options{
		gatewayURL:           cfg.GatewayURL,
		apiURL:               cfg.APIURL,
		authToken:            cfg.AuthToken,
		pollInterval:         time.Duration(cfg.PollInterval) * time.Second,
		pollTimeout:          time.Duration(cfg.PollTimeout) * time.Second,
		pageSize:             int(cfg.PageSize),
		reconnectBase:        time.Duration(cfg.ReconnectBase) * time.Second,
		reconnectCeiling:     time.Duration(cfg.ReconnectCeiling) * time.Second,
		maxReconnectAttempts: int(cfg.MaxReconnectAttempts),
	}
}

// NewClient builds a client from the config. Nothing is connected or
// polling yet; call Connect.
func NewClient(cfg *repo.Config) (*Client, error) {
	r, err := repo.NewRepo(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return buildClient(r, optionsFromConfig(cfg))
}

func buildClient(r *repo.Repo, opts options) (*Client, error) {
	registry := events.NewRegistry()
	apiClient := api.NewClient(opts.apiURL, opts.authToken)
	store := notifications.NewStore(apiClient, r.DB())

	manager := conn.NewManager(conn.Options{
		URL:            opts.gatewayURL,
		Token:          opts.authToken,
		BackoffBase:    opts.reconnectBase,
		BackoffCeiling: opts.reconnectCeiling,
		MaxAttempts:    opts.maxReconnectAttempts,
	}, registry)

	scheduler := poll.NewScheduler(
		apiClient,
		store,
		opts.pollInterval,
		opts.pollTimeout,
		opts.pageSize,
	)

	c := &Client{
		repo:      r,
		registry:  registry,
		manager:   manager,
		apiClient: apiClient,
		store:     store,
		scheduler: scheduler,
	}

	c.subs = append(c.subs,
		registry.On(events.TopicNotification, func(payload interface{}) {
			ev, ok := payload.(*events.NotificationReceived)
			if !ok {
				log.Errorf("Unexpected payload type on %s", events.TopicNotification)
				return
			}
			c.store.InsertPush(ev.Notification)
		}),
		registry.On(events.TopicUnreadCount, func(payload interface{}) {
			ev, ok := payload.(*events.UnreadCountPushed)
			if !ok {
				log.Errorf("Unexpected payload type on %s", events.TopicUnreadCount)
				return
			}
			c.store.SetPushedUnread(ev.Count)
		}),
	)

	return c, nil
}

// Connect establishes the gateway connection for the given identity
// and, on first use, starts the poll fallback. A no-op if already
// connected for the same identity.
func (c *Client) Connect(userID, role string) error {
	if userID == "" {
		return ErrNoIdentity
	}

	c.mtx.Lock()
	if !c.started {
		c.started = true
		go c.scheduler.Start()
	}
	c.mtx.Unlock()

	return c.manager.Connect(userID, role)
}

// Disconnect tears down the gateway connection but leaves the store
// and the poll fallback running. Safe to call at any time.
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// Refresh forces an immediate poll regardless of the interval timer.
func (c *Client) Refresh() {
	c.scheduler.Refresh()
}

// Stop tears down the whole subsystem: the poll loop, any pending
// reconnect timer, the registry subscriptions this client registered,
// the gateway connection, and the repo. Anything less leaks timers and
// connections across sessions and produces duplicate notifications on
// the next mount. Safe to call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.scheduler.Stop()
		c.manager.Disconnect()
		for _, sub := range c.subs {
			sub.Close()
		}
		c.store.Close()
		c.repo.Close()
	})
}

// Store returns the reconciled notification view.
func (c *Client) Store() *notifications.Store {
	return c.store
}

// Registry returns the event registry. Components subscribe here
// rather than opening their own connections.
func (c *Client) Registry() *events.Registry {
	return c.registry
}

// Manager returns the connection manager.
func (c *Client) Manager() *conn.Manager {
	return c.manager
}
