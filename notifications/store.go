package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/Itwoss/pulse/api"
	"github.com/Itwoss/pulse/models"
	"github.com/Itwoss/pulse/repo"
	"github.com/jinzhu/gorm"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("NOTF")

const defaultConfirmTimeout = time.Second * 15

// Confirmer sends mutation confirmations to the server. *api.Client
// satisfies it.
type Confirmer interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Store is the single reconciled view of notifications. It merges
// events arriving from the connection manager and the poll scheduler,
// de-duplicates them by id, projects them as a list ordered by creation
// time descending, and exposes optimistic mutation operations which
// update local state immediately and confirm with the server in the
// background.
//
// Only the store mutates the notification list. Consumers read it
// through the accessors and issue mutation intents; they never mutate
// it directly.
type Store struct {
	mtx   sync.RWMutex
	byID  map[string]*models.Notification
	order []*models.Notification

	lastErr error
	loading bool

	// dirty is set on any local mutation and cleared by a full poll
	// merge. While set, the locally derived unread count wins over any
	// server supplied count so a notification the user just acted on
	// is never visibly "un-read".
	dirty           bool
	serverUnread    int
	hasServerUnread bool

	confirmer      Confirmer
	confirmTimeout time.Duration

	// db is the optional write-through cache. May be nil.
	db *repo.SqliteDB

	closed bool
}

// NewStore returns a store primed from the cache db, if one is given.
// Cached entries load before any live source so the first-arrival-wins
// merge rule leaves them authoritative for locally mutated read state.
func NewStore(confirmer Confirmer, db *repo.SqliteDB) *Store {
	s := &Store{
		byID:           make(map[string]*models.Notification),
		confirmer:      confirmer,
		confirmTimeout: defaultConfirmTimeout,
		db:             db,
		loading:        true,
	}
	s.loadCache()
	return s
}

// InsertPush merges a push-delivered notification. Push events are
// assumed to represent newly created notifications, so a novel id is
// inserted at the head of the ordered view. An id already present is a
// no-op: the first arrival is authoritative for read state the user may
// have already mutated locally.
func (s *Store) InsertPush(n *models.Notification) {
	if n == nil || n.ID == "" {
		return
	}

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}
	if _, ok := s.byID[n.ID]; ok {
		s.mtx.Unlock()
		return
	}
	cpy := *n
	s.byID[cpy.ID] = &cpy
	s.order = append([]*models.Notification{&cpy}, s.order...)
	s.mtx.Unlock()

	s.persist(&cpy)
}

// MergePoll merges one poll result. Novel entries are inserted at the
// position implied by their creation time rather than prepended, since
// a poll refresh replaces the whole visible window. When the result is
// a complete, non-paginated snapshot, entries absent from it are
// removed; a partial page never causes removals.
//
// A successful poll clears the retryable error state. Only a complete
// snapshot resets the mutation-dirty flag and makes the server's
// unread count authoritative again; a partial page fetched before a
// mutation confirmation landed still carries the stale count.
func (s *Store) MergePoll(page *api.NotificationPage, complete bool) {
	if page == nil {
		return
	}

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}

	var added []*models.Notification
	seen := make(map[string]bool, len(page.Notifications))
	for _, n := range page.Notifications {
		if n == nil || n.ID == "" {
			continue
		}
		seen[n.ID] = true
		if _, ok := s.byID[n.ID]; ok {
			continue
		}
		cpy := *n
		s.byID[cpy.ID] = &cpy
		s.insertOrderedLocked(&cpy)
		added = append(added, &cpy)
	}

	var removed []string
	if complete {
		kept := s.order[:0]
		for _, n := range s.order {
			if seen[n.ID] {
				kept = append(kept, n)
			} else {
				delete(s.byID, n.ID)
				removed = append(removed, n.ID)
			}
		}
		s.order = kept
	}

	if complete {
		s.serverUnread = page.UnreadCount
		s.hasServerUnread = true
		s.dirty = false
	} else if !s.dirty {
		s.serverUnread = page.UnreadCount
		s.hasServerUnread = true
	}
	s.lastErr = nil
	s.loading = false
	s.mtx.Unlock()

	for _, n := range added {
		s.persist(n)
	}
	if len(removed) > 0 {
		s.purge(removed)
	}
}

// SetPollError records a retryable fetch failure. Already cached
// notifications are retained; stale-but-available data beats an empty
// state.
func (s *Store) SetPollError(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return
	}
	s.lastErr = err
	s.loading = false
}

// SetPushedUnread records an unread count pushed from the server's
// stats endpoint. It is consulted only while no local mutation is
// outstanding; see UnreadCount.
func (s *Store) SetPushedUnread(count int) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return
	}
	s.serverUnread = count
	s.hasServerUnread = true
}

// MarkRead flips the notification to read synchronously and confirms
// with the server in the background. A failed confirmation is logged,
// not rolled back: the operation is idempotent and the next poll
// reconciles naturally. Calling MarkRead twice produces the same
// observable state as calling it once.
func (s *Store) MarkRead(id string) {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}
	n, ok := s.byID[id]
	if !ok || n.Read {
		s.mtx.Unlock()
		return
	}
	n.Read = true
	s.dirty = true
	s.mtx.Unlock()

	s.persistRead(id)
	go s.confirmRead(id)
}

// MarkAllRead applies the optimistic-first pattern to every currently
// known notification, then issues a single confirmation request.
func (s *Store) MarkAllRead() {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}
	var flipped []string
	for _, n := range s.order {
		if !n.Read {
			n.Read = true
			flipped = append(flipped, n.ID)
		}
	}
	if len(flipped) == 0 {
		s.mtx.Unlock()
		return
	}
	s.dirty = true
	s.mtx.Unlock()

	s.persistRead(flipped...)
	go s.confirmAllRead()
}

// Notifications returns the ordered notification list, most recent
// first.
func (s *Store) Notifications() []models.Notification {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make([]models.Notification, len(s.order))
	for i, n := range s.order {
		out[i] = *n
	}
	return out
}

// UnreadCount returns the number of unread notifications. The server
// supplied count is used while no mutation is outstanding since it may
// cover notifications beyond the fetched window; after a local mutation
// the derived count wins until the next full poll.
func (s *Store) UnreadCount() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.hasServerUnread && !s.dirty {
		return s.serverUnread
	}
	count := 0
	for _, n := range s.order {
		if !n.Read {
			count++
		}
	}
	return count
}

// Loading reports whether the first poll has yet to settle.
func (s *Store) Loading() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.loading
}

// LastError returns the current retryable error state, or nil.
func (s *Store) LastError() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.lastErr
}

// Close marks the store as closed. Results from in-flight polls or
// relays arriving after Close are discarded rather than applied.
func (s *Store) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
}

// insertOrderedLocked inserts n at the position implied by CreatedAt,
// newest first.
func (s *Store) insertOrderedLocked(n *models.Notification) {
	for i, existing := range s.order {
		if existing.CreatedAt.Before(n.CreatedAt) {
			s.order = append(s.order, nil)
			copy(s.order[i+1:], s.order[i:])
			s.order[i] = n
			return
		}
	}
	s.order = append(s.order, n)
}

func (s *Store) loadCache() {
	if s.db == nil {
		return
	}
	var records []models.NotificationRecord
	err := s.db.View(func(tx *gorm.DB) error {
		return tx.Order("timestamp desc").Find(&records).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		log.Errorf("Error loading notification cache: %s", err)
		return
	}

	for _, r := range records {
		n, err := r.Notification()
		if err != nil {
			log.Warningf("Skipping corrupt cached notification %s: %s", r.ID, err)
			continue
		}
		if _, ok := s.byID[n.ID]; ok {
			continue
		}
		s.byID[n.ID] = n
		s.order = append(s.order, n)
	}
}

func (s *Store) persist(n *models.Notification) {
	if s.db == nil {
		return
	}
	rec, err := models.NewNotificationRecord(n)
	if err != nil {
		log.Errorf("Error serializing notification %s: %s", n.ID, err)
		return
	}
	err = s.db.Update(func(tx *gorm.DB) error {
		return tx.Save(rec).Error
	})
	if err != nil {
		log.Errorf("Error caching notification %s: %s", n.ID, err)
	}
}

func (s *Store) persistRead(ids ...string) {
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *gorm.DB) error {
		return tx.Model(&models.NotificationRecord{}).
			Where("id in (?)", ids).
			Update("is_read", true).Error
	})
	if err != nil {
		log.Errorf("Error updating notification cache: %s", err)
	}
}

func (s *Store) purge(ids []string) {
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *gorm.DB) error {
		return tx.Where("id in (?)", ids).
			Delete(&models.NotificationRecord{}).Error
	})
	if err != nil {
		log.Errorf("Error pruning notification cache: %s", err)
	}
}

func (s *Store) confirmRead(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.confirmTimeout)
	defer cancel()

	if err := s.confirmer.MarkRead(ctx, id); err != nil {
		// The optimistic local state is retained; a retry or the next
		// poll reconciles.
		log.Warningf("Error confirming read for %s: %s", id, err)
	}
}

func (s *Store) confirmAllRead() {
	ctx, cancel := context.WithTimeout(context.Background(), s.confirmTimeout)
	defer cancel()

	if err := s.confirmer.MarkAllRead(ctx); err != nil {
		log.Warningf("Error confirming read-all: %s", err)
	}
}
