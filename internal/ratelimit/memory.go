package ratelimit

import (
	"context"
	"sync"
	"time"

	"serotonyl.ru/watch-rewards/internal/common"
)

// MemoryLimiter — скользящее окно в памяти процесса.
// Учитываются все попытки, в том числе отклонённые: тот, кто продолжает
// долбить сервис, остаётся заблокированным.
type MemoryLimiter struct {
	mu       sync.Mutex
	clock    common.Clock
	attempts map[string][]time.Time
	// maxWindow — самое длинное окно из запрошенных, для очистки.
	maxWindow time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLimiter создаёт лимитер и запускает фоновую очистку раз в cleanupEvery.
func NewMemoryLimiter(clock common.Clock, cleanupEvery time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		clock:    clock,
		attempts: make(map[string][]time.Time),
		stopCh:   make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go l.cleanupLoop(cleanupEvery)
	}
	return l
}

// Close останавливает фоновую горутину очистки.
// Его надо вызывать на shutdown (иначе cleanup будет жить вечно).
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

// Allow реализует Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if window > l.maxWindow {
		l.maxWindow = window
	}
	now := l.clock.Now()
	recent := recentSince(l.attempts[key], now.Add(-window))
	recent = append(recent, now)
	l.attempts[key] = recent

	return Result{Allowed: len(recent) <= limit, Count: len(recent)}, nil
}

func recentSince(times []time.Time, cutoff time.Time) []time.Time {
	var recent []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup выбрасывает ключи без попыток в пределах самого длинного окна.
func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.clock.Now().Add(-l.maxWindow)
	for key, times := range l.attempts {
		recent := recentSince(times, cutoff)
		if len(recent) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = recent
		}
	}
}
