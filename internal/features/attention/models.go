// Package attention проверяет, что просмотр был настоящим.
// Телеметрия сессии (оценка внимания от CV-модели, длительность, кадры с лицом)
// прогоняется через таблицу взвешенных проверок, результат — вердикт и множитель награды.
package attention

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/watch-rewards/internal/features/abuse"
)

// Session — телеметрия одной сессии просмотра. Не хранится.
type Session struct {
	AttentionScore    float64 `json:"attentionScore" validate:"min=0,max=100"`
	WatchDuration     float64 `json:"watchDuration" validate:"min=0"`
	TotalDuration     float64 `json:"totalDuration" validate:"min=0"`
	FramesDetected    int     `json:"framesDetected" validate:"min=0"`
	TotalFrames       int     `json:"totalFrames" validate:"min=0"`
	DeviceFingerprint string  `json:"deviceFingerprint,omitempty" validate:"omitempty,max=256"`
}

// WatchPercent — доля просмотренного в процентах. 0, если длительность неизвестна.
func (s Session) WatchPercent() float64 {
	if s.TotalDuration <= 0 {
		return 0
	}
	return s.WatchDuration / s.TotalDuration * 100
}

// FacePercent — доля кадров с лицом в процентах. 0, если кадров нет.
func (s Session) FacePercent() float64 {
	if s.TotalFrames <= 0 {
		return 0
	}
	return float64(s.FramesDetected) / float64(s.TotalFrames) * 100
}

// CheckResult — итог одной проверки.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Weight int    `json:"-"`
	Reason string `json:"-"`
}

// Аномалии, не влияющие на балл.
const (
	PatternHighAttentionLowWatch = "high_attention_low_watch"
	PatternPerfectFaceDetection  = "perfect_face_detection"
	PatternRepeatOffender        = "repeat_offender"
)

// Verdict — результат проверки сессии.
type Verdict struct {
	Score              float64
	IsValid            bool
	RewardMultiplier   decimal.Decimal
	Checks             []CheckResult
	FailedChecks       []string
	SuspiciousPatterns []string

	// ShouldRecordAbuse — вызывающий обязан записать событие злоупотребления.
	ShouldRecordAbuse bool
	Severity          abuse.Severity
}

// Reasons возвращает пояснения к проваленным проверкам в порядке таблицы.
func (v Verdict) Reasons() []string {
	reasons := make([]string, 0, len(v.FailedChecks))
	for _, c := range v.Checks {
		if !c.Passed {
			reasons = append(reasons, c.Reason)
		}
	}
	return reasons
}

// HasPattern проверяет наличие аномалии.
func (v Verdict) HasPattern(name string) bool {
	for _, p := range v.SuspiciousPatterns {
		if p == name {
			return true
		}
	}
	return false
}
