package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"alertdetail/internal/model"
)

// Store keeps the most recent rendered alerts, oldest first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.FeedEntry
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Add appends entry, assigning an id and timestamp when missing, and
// returns the stored copy.
func (s *Store) Add(entry model.FeedEntry) model.FeedEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return entry
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
	return entry
}

// List returns up to limit of the newest entries; limit <= 0 means all.
func (s *Store) List(limit int) []model.FeedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.FeedEntry, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.FeedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FeedEntry, 0)
	for _, e := range s.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
