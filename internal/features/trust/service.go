// Package trust — service.go содержит движок доверия.
//
// Порядок расчёта при каждом событии:
//  1. балл устройства (50 для нового) плюс дельта события, с ограничением [0, 100];
//  2. больше 3 событий злоупотребления за окно — минус 10;
//  3. больше 3 новых устройств за окно (включая текущее) — минус 15.
//
// Оба штрафа могут сработать в одном обновлении, балл не опускается ниже 0.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

// ProfileChecker проверяет существование пользователя.
type ProfileChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// AbuseCounter считает события злоупотребления за окно.
type AbuseCounter interface {
	RecentCount(ctx context.Context, userID string, window time.Duration) (int, error)
}

// Options — настройки движка.
type Options struct {
	Window     time.Duration
	MaxRetries int
}

// Service — движок доверия устройств.
type Service struct {
	store    Store
	profiles ProfileChecker
	abuse    AbuseCounter
	cache    *Cache
	clock    common.Clock
	opts     Options
	metrics  metrics.Recorder
}

// NewService создаёт движок доверия.
func NewService(store Store, profiles ProfileChecker, abuseCounter AbuseCounter, cache *Cache,
	clock common.Clock, opts Options, rec metrics.Recorder) *Service {
	return &Service{
		store:    store,
		profiles: profiles,
		abuse:    abuseCounter,
		cache:    cache,
		clock:    clock,
		opts:     opts,
		metrics:  rec,
	}
}

// EventDelta возвращает изменение балла за событие. Неизвестное событие — 0.
func EventDelta(event string) int {
	return EventDeltas[event]
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// UpdateTrust применяет событие к устройству пользователя и пишет аудит.
// Конфликты записи повторяются сразу, наружу уходят только после исчерпания попыток.
func (s *Service) UpdateTrust(ctx context.Context, userID, fingerprint, event string, deviceInfo json.RawMessage) (*DeviceRecord, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	if fingerprint == "" {
		return nil, common.Invalid("deviceFingerprint", "обязательное поле")
	}
	if event == "" {
		return nil, common.Invalid("event", "обязательное поле")
	}

	exists, err := s.profiles.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("профиль %q: %w", userID, common.ErrNotFound)
	}

	var (
		rec   *DeviceRecord
		audit AuditEntry
		tries int
	)
	err = common.RetryOnConflict(ctx, s.opts.MaxRetries, func() error {
		tries++
		if tries > 1 {
			s.metrics.IncConflictRetry("trust_update")
		}
		rec, audit, err = s.apply(ctx, userID, fingerprint, event, deviceInfo)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(userID, fingerprint)

	st := rec.State()
	s.metrics.IncTrustUpdate(event, st.IsFlagged)
	logger := log.WithFields(log.Fields{
		"user_id":     userID,
		"fingerprint": fingerprint,
		"event":       event,
		"previous":    audit.PreviousScore,
		"score":       audit.NewScore,
	})
	if st.IsFlagged {
		logger.WithField("reason", st.FlagReason).Warn("Устройство помечено")
	} else {
		logger.Info("Доверие устройства обновлено")
	}
	return rec, nil
}

// apply выполняет одну попытку обновления.
func (s *Service) apply(ctx context.Context, userID, fingerprint, event string, deviceInfo json.RawMessage) (*DeviceRecord, AuditEntry, error) {
	now := s.clock.Now()
	since := now.Add(-s.opts.Window)

	rec, err := s.store.GetDevice(ctx, userID, fingerprint)
	isNew := errors.Is(err, common.ErrNotFound)
	switch {
	case isNew:
		rec = &DeviceRecord{
			UserID:      userID,
			Fingerprint: fingerprint,
			TrustScore:  BaselineScore,
			FirstSeenAt: now,
		}
	case err != nil:
		return nil, AuditEntry{}, err
	}

	previous := rec.TrustScore
	score := clamp(previous + EventDelta(event))

	abuseCount, err := s.abuse.RecentCount(ctx, userID, s.opts.Window)
	if err != nil {
		return nil, AuditEntry{}, fmt.Errorf("ошибка подсчёта злоупотреблений: %w", err)
	}
	if abuseCount > AbusePenaltyThreshold {
		score = clamp(score - AbusePenalty)
	}

	devices, err := s.store.CountDevicesSince(ctx, userID, since)
	if err != nil {
		return nil, AuditEntry{}, err
	}
	if isNew {
		devices++
	}
	if devices > DevicePenaltyThreshold {
		score = clamp(score - DevicePenalty)
	}

	rec.TrustScore = score
	rec.LastSeenAt = now
	if len(deviceInfo) > 0 {
		rec.DeviceInfo = deviceInfo
	}

	audit := AuditEntry{
		UserID:        userID,
		Fingerprint:   fingerprint,
		Event:         event,
		PreviousScore: previous,
		NewScore:      score,
		Delta:         score - previous,
		CreatedAt:     now,
	}
	if err := s.store.SaveDevice(ctx, rec, audit); err != nil {
		return nil, AuditEntry{}, err
	}
	return rec, audit, nil
}

// State возвращает текущее состояние доверия устройства.
// Неизвестное устройство получает базовый балл (Known=false).
func (s *Service) State(ctx context.Context, userID, fingerprint string) (State, error) {
	if st, ok := s.cache.Get(userID, fingerprint); ok {
		return st, nil
	}
	gen := s.cache.Generation()

	rec, err := s.store.GetDevice(ctx, userID, fingerprint)
	var st State
	switch {
	case errors.Is(err, common.ErrNotFound):
		st = StateFor(BaselineScore)
	case err != nil:
		return State{}, err
	default:
		st = rec.State()
	}

	s.cache.Set(userID, fingerprint, st, gen)
	return st, nil
}

// Device возвращает запись устройства целиком.
func (s *Service) Device(ctx context.Context, userID, fingerprint string) (*DeviceRecord, error) {
	return s.store.GetDevice(ctx, userID, fingerprint)
}

// Audit возвращает последние записи аудита устройства.
func (s *Service) Audit(ctx context.Context, userID, fingerprint string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListAudit(ctx, userID, fingerprint, limit)
}
