package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Itwoss/pulse/api"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("POLL")

const (
	defaultInterval = time.Second * 30
	defaultTimeout  = time.Second * 15
	defaultLimit    = 20
)

// Fetcher fetches one page of notifications. *api.Client satisfies it.
type Fetcher interface {
	FetchNotifications(ctx context.Context, limit int) (*api.NotificationPage, error)
}

// Sink consumes poll results. *notifications.Store satisfies it.
type Sink interface {
	MergePoll(page *api.NotificationPage, complete bool)
	SetPollError(err error)
}

// Scheduler periodically fetches the notification list as a safety net
// against missed push events or connection gaps. Each fetch is bounded
// by a deadline: a fetch that outlives it is abandoned silently, while
// a genuine server failure is surfaced to the sink as a retryable
// error. Polls run one at a time; a slow network can never produce
// unbounded concurrent fetches.
type Scheduler struct {
	fetcher  Fetcher
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	limit    int

	refresh  chan struct{}
	shutdown chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler returns a scheduler which has not yet been started.
// Zero values for interval, timeout, and limit select the defaults.
func NewScheduler(fetcher Fetcher, sink Sink, interval, timeout time.Duration, limit int) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fetcher:  fetcher,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		limit:    limit,
		refresh:  make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the poll loop. The first poll is issued immediately so
// consumers are not empty while waiting up to one full interval. This
// should use its own goroutine.
func (s *Scheduler) Start() {
	s.poll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.poll()
		case <-s.refresh:
			s.poll()
		case <-s.shutdown:
			return
		}
	}
}

// Stop shuts down the scheduler and abandons any in-flight fetch. Safe
// to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.cancel()
	})
}

// Refresh forces an immediate poll regardless of the interval timer.
// Signals arriving while a poll is already pending are coalesced.
func (s *Scheduler) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// poll issues one bounded-time fetch and delivers the outcome to the
// sink. Polls are serialized by the loop goroutine.
func (s *Scheduler) poll() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	page, err := s.fetcher.FetchNotifications(ctx, s.limit)

	// A result landing after shutdown must be discarded, not applied.
	select {
	case <-s.shutdown:
		return
	default:
	}

	if err != nil {
		if api.IsTimeout(err) {
			// Recoverable and silent; the push channel or the next poll
			// cycle fills the gap.
			log.Debugf("Poll abandoned: %s", err)
			return
		}
		log.Errorf("Poll failed: %s", err)
		s.sink.SetPollError(err)
		return
	}

	// A page shorter than the requested limit is a complete snapshot;
	// a full page may be paginated and must not cause removals.
	s.sink.MergePoll(page, len(page.Notifications) < s.limit)
}
