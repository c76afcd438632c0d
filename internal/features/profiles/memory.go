package profiles

import (
	"context"
	"fmt"
	"sync"

	"serotonyl.ru/watch-rewards/internal/common"
)

// MemoryStore — профили в памяти (APP_STORAGE=memory и тесты).
type MemoryStore struct {
	mu       sync.RWMutex
	clock    common.Clock
	profiles map[string]Profile
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore(clock common.Clock) *MemoryStore {
	return &MemoryStore{clock: clock, profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Create(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; ok {
		return false, nil
	}
	s.profiles[userID] = Profile{UserID: userID, CreatedAt: s.clock.Now()}
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("профиль %q: %w", userID, common.ErrNotFound)
	}
	return &p, nil
}
