package abuse

import (
	"context"
	"sync"
	"time"
)

// MemoryStore держит журнал в памяти.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore создаёт пустой журнал.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.events {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Events возвращает копию журнала.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
