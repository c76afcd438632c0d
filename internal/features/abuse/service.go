// Package abuse — service.go: запись событий и подсчёт за скользящее окно.
//
// Запись из основного потока запроса идёт через RecordAsync: ошибка журнала
// никогда не должна ломать ответ пользователю, поэтому она только логируется
// и считается в метрике rewards_abuse_log_failures_total.
package abuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

// asyncTimeout ограничивает фоновую запись, когда контекст запроса уже отменён.
const asyncTimeout = 5 * time.Second

// Service пишет и читает журнал злоупотреблений.
type Service struct {
	store   Store
	clock   common.Clock
	metrics metrics.Recorder
	wg      sync.WaitGroup
}

// NewService создаёт сервис журнала.
func NewService(store Store, clock common.Clock, rec metrics.Recorder) *Service {
	return &Service{store: store, clock: clock, metrics: rec}
}

// Record синхронно пишет событие и возвращает ошибку хранилища.
// Пустые ID и время заполняются автоматически.
func (s *Service) Record(ctx context.Context, e Event) (Event, error) {
	if e.UserID == "" {
		return Event{}, common.Invalid("userId", "обязательное поле")
	}
	if e.Type == "" {
		return Event{}, common.Invalid("type", "обязательное поле")
	}
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
	if !e.Severity.Valid() {
		return Event{}, common.Invalid("severity", "допустимо: low, medium, high")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}

	if err := s.store.Insert(ctx, e); err != nil {
		return Event{}, fmt.Errorf("журнал злоупотреблений: %w", err)
	}

	s.metrics.IncAbuseRecorded(string(e.Severity))
	log.WithFields(log.Fields{
		"user_id":  e.UserID,
		"type":     e.Type,
		"severity": e.Severity,
	}).Warn("Зафиксировано событие злоупотребления")
	return e, nil
}

// RecordAsync пишет событие в фоне. Ошибки не возвращаются.
// Контекст запроса не используется: запись должна пережить ответ клиенту.
func (s *Service) RecordAsync(ctx context.Context, e Event) {
	fields := log.Fields{"user_id": e.UserID, "type": e.Type}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.IncAbuseLogFailure()
				log.WithFields(fields).Errorf("Паника при записи события злоупотребления: %v", r)
			}
		}()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()

		if _, err := s.Record(bg, e); err != nil {
			s.metrics.IncAbuseLogFailure()
			log.WithFields(fields).WithError(err).Error("Не удалось записать событие злоупотребления")
		}
	}()
}

// RecentCount считает события пользователя за последние window.
func (s *Service) RecentCount(ctx context.Context, userID string, window time.Duration) (int, error) {
	return s.store.CountSince(ctx, userID, s.clock.Now().Add(-window))
}

// Flush дожидается всех фоновых записей. Вызывается при остановке и в тестах.
func (s *Service) Flush() {
	s.wg.Wait()
}
