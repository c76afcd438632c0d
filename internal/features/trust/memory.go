package trust

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/watch-rewards/internal/common"
)

type deviceKey struct {
	userID      string
	fingerprint string
}

// MemoryStore — устройства и аудит в памяти, с той же проверкой версий, что и в БД.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	devices map[deviceKey]DeviceRecord
	audit   []AuditEntry
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[deviceKey]DeviceRecord)}
}

func (s *MemoryStore) GetDevice(_ context.Context, userID, fingerprint string) (*DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.devices[deviceKey{userID, fingerprint}]
	if !ok {
		return nil, fmt.Errorf("устройство %q: %w", fingerprint, common.ErrNotFound)
	}
	return &rec, nil
}

func (s *MemoryStore) SaveDevice(_ context.Context, rec *DeviceRecord, audit AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey{rec.UserID, rec.Fingerprint}
	current, exists := s.devices[key]
	switch {
	case rec.Version == 0 && exists:
		return fmt.Errorf("устройство %q уже создано: %w", rec.Fingerprint, common.ErrConflict)
	case rec.Version != 0 && (!exists || current.Version != rec.Version):
		return fmt.Errorf("устройство %q изменено параллельно: %w", rec.Fingerprint, common.ErrConflict)
	}

	saved := *rec
	if exists {
		saved.ID = current.ID
		saved.FirstSeenAt = current.FirstSeenAt
		if len(saved.DeviceInfo) == 0 {
			saved.DeviceInfo = current.DeviceInfo
		}
	} else {
		s.nextID++
		saved.ID = s.nextID
	}
	saved.Version++
	s.devices[key] = saved

	s.nextID++
	audit.ID = s.nextID
	s.audit = append(s.audit, audit)

	rec.ID, rec.Version = saved.ID, saved.Version
	return nil
}

func (s *MemoryStore) CountDevicesSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key, rec := range s.devices {
		if key.userID == userID && !rec.FirstSeenAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListAudit(_ context.Context, userID, fingerprint string, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []AuditEntry{}
	for _, a := range s.audit {
		if a.UserID == userID && a.Fingerprint == fingerprint {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
