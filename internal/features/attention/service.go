// Package attention — service.go связывает валидатор с журналом злоупотреблений.
package attention

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/features/abuse"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

// AbuseLog — то, что сервису нужно от журнала злоупотреблений.
type AbuseLog interface {
	RecentCount(ctx context.Context, userID string, window time.Duration) (int, error)
	RecordAsync(ctx context.Context, e abuse.Event)
}

// Service проверяет сессии от имени пользователя.
type Service struct {
	abuse   AbuseLog
	window  time.Duration
	metrics metrics.Recorder
}

// NewService создаёт сервис. window — окно подсчёта прошлых нарушений (обычно сутки).
func NewService(abuseLog AbuseLog, window time.Duration, rec metrics.Recorder) *Service {
	return &Service{abuse: abuseLog, window: window, metrics: rec}
}

// abuseDetails — содержимое поля details события злоупотребления.
type abuseDetails struct {
	ValidationScore    float64  `json:"validationScore"`
	FailedChecks       []string `json:"failedChecks"`
	SuspiciousPatterns []string `json:"suspiciousPatterns"`
	AttentionScore     float64  `json:"attentionScore"`
	WatchPercent       float64  `json:"watchPercent"`
	FacePercent        float64  `json:"facePercent"`
}

// Evaluate проверяет сессию и при необходимости записывает событие злоупотребления.
// Запись идёт в фоне и не влияет на результат.
func (s *Service) Evaluate(ctx context.Context, userID string, session Session) (Verdict, error) {
	recent, err := s.abuse.RecentCount(ctx, userID, s.window)
	if err != nil {
		return Verdict{}, fmt.Errorf("ошибка подсчёта нарушений: %w", err)
	}

	v := Validate(session, recent)
	s.metrics.ObserveValidation(v.IsValid, v.Score)

	logger := log.WithFields(log.Fields{
		"user_id":    userID,
		"score":      v.Score,
		"valid":      v.IsValid,
		"multiplier": v.RewardMultiplier.String(),
	})
	if len(v.SuspiciousPatterns) > 0 {
		logger = logger.WithField("patterns", v.SuspiciousPatterns)
	}
	logger.Debug("Сессия проверена")

	if v.ShouldRecordAbuse {
		details, err := json.Marshal(abuseDetails{
			ValidationScore:    v.Score,
			FailedChecks:       v.FailedChecks,
			SuspiciousPatterns: v.SuspiciousPatterns,
			AttentionScore:     session.AttentionScore,
			WatchPercent:       session.WatchPercent(),
			FacePercent:        session.FacePercent(),
		})
		if err != nil {
			log.WithError(err).Warn("Не удалось сериализовать детали нарушения")
		}
		s.abuse.RecordAsync(ctx, abuse.Event{
			UserID:            userID,
			Type:              abuse.TypeAttentionValidationFailed,
			Severity:          v.Severity,
			Details:           details,
			DeviceFingerprint: session.DeviceFingerprint,
		})
	}
	return v, nil
}
