// Package notify keeps the in-session notification feed.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"storefront-live/internal/logging"
	"storefront-live/internal/model"
)

// Entry is a notification plus its arrival sequence number. Seq grows with
// every accepted ingest and is never reused, even after a clear.
type Entry struct {
	model.Notification
	Seq uint64
}

type Snapshot struct {
	// Entries are newest first.
	Entries     []Entry
	UnreadCount int
	LastSeq     uint64
}

type Store struct {
	logger *slog.Logger
	now    func() time.Time

	notifyMu sync.Mutex
	mu       sync.RWMutex
	order    []string
	byID     map[string]*Entry
	unread   int
	seq      uint64

	listeners map[int]func(Snapshot)
	nextID    int
}

func New(logger *slog.Logger) *Store {
	return &Store{
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
		byID:      make(map[string]*Entry),
		listeners: make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to receive a snapshot after every effective change.
// Listeners run synchronously and must not mutate the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mutate runs fn under the write lock; fn reports whether anything changed.
// unread is recounted before the lock is released.
func (s *Store) mutate(fn func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return false
	}
	s.recountLocked()
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return true
}

func (s *Store) recountLocked() {
	n := 0
	for _, e := range s.byID {
		if !e.Read {
			n++
		}
	}
	s.unread = n
}

func (s *Store) snapshotLocked() Snapshot {
	entries := make([]Entry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		entries = append(entries, *s.byID[s.order[i]])
	}
	return Snapshot{Entries: entries, UnreadCount: s.unread, LastSeq: s.seq}
}

// Ingest adds n unless a record with the same id exists. It reports whether n
// was inserted.
func (s *Store) Ingest(n model.Notification) bool {
	if n.ID == "" {
		s.logger.Warn("dropping notification without id", "type", n.Type)
		return false
	}
	inserted := s.mutate(func() bool {
		if _, ok := s.byID[n.ID]; ok {
			return false
		}
		if n.Timestamp.IsZero() {
			n.Timestamp = s.now()
		}
		s.seq++
		s.byID[n.ID] = &Entry{Notification: n, Seq: s.seq}
		s.order = append(s.order, n.ID)
		return true
	})
	if !inserted {
		s.logger.Debug("duplicate notification ignored", "id", n.ID)
	}
	return inserted
}

func (s *Store) MarkAsRead(id string) {
	s.setRead(id, true)
}

func (s *Store) MarkAsUnread(id string) {
	s.setRead(id, false)
}

func (s *Store) setRead(id string, read bool) {
	s.mutate(func() bool {
		e, ok := s.byID[id]
		if !ok || e.Read == read {
			return false
		}
		e.Read = read
		return true
	})
}

func (s *Store) MarkAllAsRead() {
	s.mutate(func() bool {
		changed := false
		for _, e := range s.byID {
			if !e.Read {
				e.Read = true
				changed = true
			}
		}
		return changed
	})
}

func (s *Store) ClearNotification(id string) {
	s.mutate(func() bool {
		if _, ok := s.byID[id]; !ok {
			return false
		}
		delete(s.byID, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return true
	})
}

func (s *Store) ClearAllNotifications() {
	s.mutate(func() bool {
		if len(s.order) == 0 {
			return false
		}
		s.order = nil
		s.byID = make(map[string]*Entry)
		return true
	})
}

func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return model.Notification{}, false
	}
	return e.Notification, true
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Notifications returns the feed newest first.
func (s *Store) Notifications() []model.Notification {
	snap := s.Snapshot()
	out := make([]model.Notification, len(snap.Entries))
	for i, e := range snap.Entries {
		out[i] = e.Notification
	}
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
