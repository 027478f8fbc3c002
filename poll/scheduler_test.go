package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Itwoss/pulse/api"
	"github.com/Itwoss/pulse/models"
)

type fetcherFunc func(ctx context.Context, limit int) (*api.NotificationPage, error)

func (f fetcherFunc) FetchNotifications(ctx context.Context, limit int) (*api.NotificationPage, error) {
	return f(ctx, limit)
}

type recordingSink struct {
	mtx      sync.Mutex
	pages    []*api.NotificationPage
	complete []bool
	errs     []error
}

func (s *recordingSink) MergePoll(page *api.NotificationPage, complete bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pages = append(s.pages, page)
	s.complete = append(s.complete, complete)
}

func (s *recordingSink) SetPollError(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) pageCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.pages)
}

func (s *recordingSink) errCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.errs)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
	t.Fatal("Timed out waiting on condition")
}

func TestSchedulerPollsImmediately(t *testing.T) {
	var fetches int32
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		atomic.AddInt32(&fetches, 1)
		return &api.NotificationPage{}, nil
	})
	sink := &recordingSink{}

	// An hour-long interval: only the immediate poll can account for
	// any fetch observed below.
	s := NewScheduler(fetcher, sink, time.Hour, time.Second, 20)
	defer s.Stop()
	go s.Start()

	waitFor(t, time.Second*5, func() bool {
		return atomic.LoadInt32(&fetches) == 1
	})
	waitFor(t, time.Second*5, func() bool {
		return sink.pageCount() == 1
	})
	if sink.complete[0] != true {
		t.Error("Empty page should be treated as a complete snapshot")
	}
}

func TestSchedulerTimeoutIsSilent(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Hour, time.Millisecond*20, 20)
	defer s.Stop()
	go s.Start()

	time.Sleep(time.Millisecond * 200)

	if sink.errCount() != 0 {
		t.Error("Timeout must not surface as an error")
	}
	if sink.pageCount() != 0 {
		t.Error("Timed out poll delivered a page")
	}
}

func TestSchedulerServerErrorSurfaces(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		return nil, &api.StatusError{Code: 500}
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Hour, time.Second, 20)
	defer s.Stop()
	go s.Start()

	waitFor(t, time.Second*5, func() bool {
		return sink.errCount() == 1
	})
}

func TestSchedulerRefresh(t *testing.T) {
	var fetches int32
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		atomic.AddInt32(&fetches, 1)
		return &api.NotificationPage{}, nil
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Hour, time.Second, 20)
	defer s.Stop()
	go s.Start()

	waitFor(t, time.Second*5, func() bool {
		return atomic.LoadInt32(&fetches) == 1
	})

	s.Refresh()
	waitFor(t, time.Second*5, func() bool {
		return atomic.LoadInt32(&fetches) == 2
	})
}

func TestSchedulerCoalescesConcurrentPolls(t *testing.T) {
	var (
		inFlight    int32
		maxInFlight int32
		fetches     int32
	)
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond * 30)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&fetches, 1)
		return &api.NotificationPage{}, nil
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Hour, time.Second, 20)
	defer s.Stop()
	go s.Start()

	for i := 0; i < 20; i++ {
		s.Refresh()
		time.Sleep(time.Millisecond)
	}

	waitFor(t, time.Second*5, func() bool {
		return atomic.LoadInt32(&fetches) >= 2
	})

	if atomic.LoadInt32(&maxInFlight) > 1 {
		t.Errorf("Expected at most 1 poll in flight, saw %d", maxInFlight)
	}
}

func TestSchedulerStopEndsPolling(t *testing.T) {
	var fetches int32
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		atomic.AddInt32(&fetches, 1)
		return &api.NotificationPage{
			Notifications: []*models.Notification{{ID: "a", CreatedAt: time.Now()}},
		}, nil
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Millisecond*20, time.Second, 20)
	go s.Start()

	waitFor(t, time.Second*5, func() bool {
		return atomic.LoadInt32(&fetches) >= 1
	})

	s.Stop()
	s.Stop() // must be safe to call twice
	settled := atomic.LoadInt32(&fetches)
	time.Sleep(time.Millisecond * 100)

	if got := atomic.LoadInt32(&fetches); got > settled+1 {
		t.Errorf("Polling continued after Stop: %d fetches after %d", got, settled)
	}
}

func TestSchedulerDiscardsResultAfterStop(t *testing.T) {
	release := make(chan struct{})
	fetcher := fetcherFunc(func(ctx context.Context, limit int) (*api.NotificationPage, error) {
		<-release
		return &api.NotificationPage{
			Notifications: []*models.Notification{{ID: "late", CreatedAt: time.Now()}},
		}, nil
	})
	sink := &recordingSink{}

	s := NewScheduler(fetcher, sink, time.Hour, time.Second*5, 20)
	go s.Start()

	time.Sleep(time.Millisecond * 50)
	s.Stop()
	close(release)
	time.Sleep(time.Millisecond * 100)

	if sink.pageCount() != 0 {
		t.Error("A poll response arriving after shutdown was applied")
	}
}
