// Package history keeps the ordered turn log of the active session.
package history

import (
	"sync"

	"parley/internal/domain"
)

// Store is an append-only, in-memory log of turns for one session.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	records  []domain.TurnRecord
	appended bool
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a record at the end of the log.
func (s *Store) Append(record domain.TurnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	s.appended = true
}

// LoadExternal replaces the log with hydrated records. Allowed only before
// the first Append of the session.
func (s *Store) LoadExternal(records []domain.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appended {
		return domain.ErrHistoryAlreadyActive
	}
	s.records = append([]domain.TurnRecord(nil), records...)
	return nil
}

// Records returns a copy of the log in append order.
func (s *Store) Records() []domain.TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TurnRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LastReply returns the newest successful bot reply.
func (s *Store) LastReply() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Outcome.Kind == domain.OutcomeOK && s.records[i].BotReply != "" {
			return s.records[i].BotReply, true
		}
	}
	return "", false
}
