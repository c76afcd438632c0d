// Package abuse ведёт журнал подозрительных действий пользователей.
// Журнал только дополняется: записи не меняются и не удаляются.
// Читают его валидатор внимания (повторные нарушения) и движок доверия (штраф за злоупотребления).
package abuse

import (
	"context"
	"encoding/json"
	"time"
)

// Severity — серьёзность события.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid сообщает, известен ли уровень.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Типы событий, которые пишет сам сервис.
const (
	TypeAttentionValidationFailed = "attention_validation_failed"
)

// Event — одна запись журнала.
type Event struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Type              string          `json:"type"`
	Severity          Severity        `json:"severity"`
	Details           json.RawMessage `json:"details,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`
	CreatedAt         time.Time       `json:"timestamp"`
}

// Store — хранилище журнала.
type Store interface {
	Insert(ctx context.Context, e Event) error
	// CountSince считает события пользователя с момента since включительно.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}
