package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Itwoss/pulse/api"
	"github.com/Itwoss/pulse/models"
	"github.com/Itwoss/pulse/repo"
)

type stubConfirmer struct {
	mtx       sync.Mutex
	readCalls []string
	allCalls  int
	err       error
	done      chan struct{}
}

func newStubConfirmer(err error) *stubConfirmer {
	return &stubConfirmer{
		err:  err,
		done: make(chan struct{}, 16),
	}
}

func (c *stubConfirmer) MarkRead(ctx context.Context, id string) error {
	c.mtx.Lock()
	c.readCalls = append(c.readCalls, id)
	c.mtx.Unlock()
	c.done <- struct{}{}
	return c.err
}

func (c *stubConfirmer) MarkAllRead(ctx context.Context) error {
	c.mtx.Lock()
	c.allCalls++
	c.mtx.Unlock()
	c.done <- struct{}{}
	return c.err
}

func (c *stubConfirmer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting on confirmation")
	}
}

func notif(id string, created int64, read bool) *models.Notification {
	return &models.Notification{
		ID:        id,
		Type:      "system",
		Title:     "t-" + id,
		Message:   "m-" + id,
		Read:      read,
		CreatedAt: time.Unix(created, 0).UTC(),
	}
}

func ids(notifications []models.Notification) []string {
	out := make([]string, len(notifications))
	for i, n := range notifications {
		out[i] = n.ID
	}
	return out
}

func TestStoreUniqueness(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	s.InsertPush(notif("a", 100, false))
	s.InsertPush(notif("a", 100, false))
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, true),
			notif("b", 200, false),
			notif("b", 200, false),
		},
		UnreadCount: 1,
	}, false)
	s.InsertPush(notif("b", 200, false))

	notifications := s.Notifications()
	if len(notifications) != 2 {
		t.Fatalf("Expected 2 unique notifications, got %d: %v", len(notifications), ids(notifications))
	}

	// The first arrival is authoritative; the later poll copy of "a"
	// with read=true must not overwrite it.
	for _, n := range notifications {
		if n.ID == "a" && n.Read {
			t.Error("Later duplicate overwrote existing entry")
		}
	}
}

func TestStoreOrdering(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	// Poll entries merge into creation-time order.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("old", 100, false),
			notif("new", 300, false),
			notif("mid", 200, false),
		},
	}, false)

	got := ids(s.Notifications())
	expected := []string{"new", "mid", "old"}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("Expected order %v, got %v", expected, got)
		}
	}

	// Push entries are assumed newly created and go to the head.
	s.InsertPush(notif("pushed", 250, false))
	got = ids(s.Notifications())
	if got[0] != "pushed" {
		t.Errorf("Expected pushed notification at head, got %v", got)
	}

	// A later poll entry still lands at its creation-time position.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("mid2", 150, false)},
	}, false)
	got = ids(s.Notifications())
	if got[len(got)-2] != "mid2" {
		t.Errorf("Expected mid2 before old, got %v", got)
	}
}

func TestStoreSnapshotRemoval(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, false),
			notif("b", 200, false),
			notif("c", 300, false),
		},
	}, false)

	// A partial page must never cause removals.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("c", 300, false)},
	}, false)
	if len(s.Notifications()) != 3 {
		t.Fatal("Partial poll caused removals")
	}

	// A complete snapshot reconciles presence.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, false),
			notif("c", 300, false),
		},
		UnreadCount: 2,
	}, true)

	got := ids(s.Notifications())
	if len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Errorf("Expected [c a] after snapshot, got %v", got)
	}
}

func TestStoreMarkReadIdempotent(t *testing.T) {
	confirmer := newStubConfirmer(nil)
	s := NewStore(confirmer, nil)

	s.InsertPush(notif("a", 100, false))

	s.MarkRead("a")
	confirmer.wait(t)
	s.MarkRead("a")
	s.MarkRead("missing")

	time.Sleep(time.Millisecond * 50)

	notifications := s.Notifications()
	if !notifications[0].Read {
		t.Error("Expected notification marked read")
	}
	if s.UnreadCount() != 0 {
		t.Errorf("Expected unread count 0, got %d", s.UnreadCount())
	}

	confirmer.mtx.Lock()
	defer confirmer.mtx.Unlock()
	if len(confirmer.readCalls) != 1 {
		t.Errorf("Expected exactly 1 confirmation, got %d", len(confirmer.readCalls))
	}
}

func TestStoreOptimismSurvivesConfirmationFailure(t *testing.T) {
	confirmer := newStubConfirmer(errors.New("server unavailable"))
	s := NewStore(confirmer, nil)

	s.InsertPush(notif("a", 100, false))
	s.MarkRead("a")
	confirmer.wait(t)

	if !s.Notifications()[0].Read {
		t.Error("Expected optimistic read state to survive confirmation failure")
	}
	if s.LastError() != nil {
		t.Error("Mutation failure must not surface as a store error")
	}
}

func TestStoreMarkAllRead(t *testing.T) {
	confirmer := newStubConfirmer(nil)
	s := NewStore(confirmer, nil)

	s.InsertPush(notif("a", 100, false))
	s.InsertPush(notif("b", 200, false))
	s.InsertPush(notif("c", 300, true))

	s.MarkAllRead()
	confirmer.wait(t)

	for _, n := range s.Notifications() {
		if !n.Read {
			t.Errorf("Expected %s marked read", n.ID)
		}
	}
	if s.UnreadCount() != 0 {
		t.Errorf("Expected unread count 0, got %d", s.UnreadCount())
	}

	// Nothing left unread: a second call is a pure no-op.
	s.MarkAllRead()
	time.Sleep(time.Millisecond * 50)
	confirmer.mtx.Lock()
	defer confirmer.mtx.Unlock()
	if confirmer.allCalls != 1 {
		t.Errorf("Expected exactly 1 read-all confirmation, got %d", confirmer.allCalls)
	}
}

func TestStoreUnreadCount(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, false),
			notif("b", 200, false),
		},
		UnreadCount: 5, // server window is larger than the fetched page
	}, false)

	// No local mutation outstanding: the server count wins.
	if s.UnreadCount() != 5 {
		t.Errorf("Expected server unread count 5, got %d", s.UnreadCount())
	}

	// After a mutation the derived count wins so the acted-on
	// notification is not visibly "un-read".
	s.MarkRead("a")
	if s.UnreadCount() != 1 {
		t.Errorf("Expected derived unread count 1, got %d", s.UnreadCount())
	}

	// A pushed count is ignored while the mutation is outstanding.
	s.SetPushedUnread(9)
	if s.UnreadCount() != 1 {
		t.Errorf("Expected derived unread count 1, got %d", s.UnreadCount())
	}

	// The next full poll makes the server count authoritative again.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, true),
			notif("b", 200, false),
		},
		UnreadCount: 1,
	}, true)
	if s.UnreadCount() != 1 {
		t.Errorf("Expected unread count 1 after poll, got %d", s.UnreadCount())
	}
	s.SetPushedUnread(3)
	if s.UnreadCount() != 3 {
		t.Errorf("Expected pushed unread count 3, got %d", s.UnreadCount())
	}
}

func TestStorePartialPollKeepsDerivedCount(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, false),
			notif("b", 200, false),
		},
		UnreadCount: 2,
	}, true)

	s.MarkRead("a")
	if s.UnreadCount() != 1 {
		t.Fatalf("Expected derived unread count 1, got %d", s.UnreadCount())
	}

	// A partial page fetched before the confirmation landed still
	// carries the stale server count. It must not un-read the
	// acted-on notification.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("b", 200, false)},
		UnreadCount:   2,
	}, false)

	if s.UnreadCount() != 1 {
		t.Errorf("Partial poll overrode the derived unread count: got %d, want 1", s.UnreadCount())
	}

	// The next complete snapshot reconciles and is authoritative.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{
			notif("a", 100, true),
			notif("b", 200, false),
		},
		UnreadCount: 1,
	}, true)
	if s.UnreadCount() != 1 {
		t.Errorf("Expected unread count 1 after complete poll, got %d", s.UnreadCount())
	}
}

func TestStorePollErrorKeepsCache(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)

	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("a", 100, false)},
	}, false)

	fetchErr := &api.StatusError{Code: 500}
	s.SetPollError(fetchErr)

	if s.LastError() != fetchErr {
		t.Error("Expected retryable error surfaced")
	}
	if len(s.Notifications()) != 1 {
		t.Error("Fetch failure must not clear cached notifications")
	}

	// The next successful poll clears the error.
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("a", 100, false)},
	}, false)
	if s.LastError() != nil {
		t.Error("Expected error cleared by successful poll")
	}
}

func TestStoreCachePersistence(t *testing.T) {
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	confirmer := newStubConfirmer(nil)
	s := NewStore(confirmer, db)

	s.InsertPush(notif("a", 100, false))
	s.InsertPush(notif("b", 200, false))
	s.MarkRead("a")
	confirmer.wait(t)
	s.Close()

	// A fresh store over the same db is primed from the cache,
	// including the locally mutated read state.
	s2 := NewStore(confirmer, db)
	notifications := s2.Notifications()
	if len(notifications) != 2 {
		t.Fatalf("Expected 2 cached notifications, got %d", len(notifications))
	}
	for _, n := range notifications {
		if n.ID == "a" && !n.Read {
			t.Error("Expected cached read state for a")
		}
		if n.ID == "b" && n.Read {
			t.Error("Unexpected read state for b")
		}
	}
}

func TestStoreClosedDiscardsLateResults(t *testing.T) {
	s := NewStore(newStubConfirmer(nil), nil)
	s.Close()

	s.InsertPush(notif("a", 100, false))
	s.MergePoll(&api.NotificationPage{
		Notifications: []*models.Notification{notif("b", 200, false)},
	}, true)
	s.SetPollError(errors.New("late"))

	if len(s.Notifications()) != 0 {
		t.Error("Closed store applied a late result")
	}
	if s.LastError() != nil {
		t.Error("Closed store applied a late error")
	}
}
