// Package trust ведёт репутацию устройств.
// У каждой пары (пользователь, отпечаток устройства) есть балл доверия от 0 до 100.
// Балл меняется событиями (вход, покупка, подозрительная активность и т.д.),
// каждое изменение пишется в журнал аудита.
package trust

import (
	"context"
	"encoding/json"
	"time"
)

// Границы и пороги балла доверия.
const (
	BaselineScore = 50
	MinScore      = 0
	MaxScore      = 100

	TrustedThreshold = 30
	FlaggedThreshold = 20
	VeryLowThreshold = 10
)

// Совокупные штрафы за окно (обычно сутки).
const (
	AbusePenaltyThreshold  = 3
	AbusePenalty           = 10
	DevicePenaltyThreshold = 3
	DevicePenalty          = 15
)

// События доверия.
const (
	EventSuccessfulLogin          = "successful_login"
	EventCompletedPurchase        = "completed_purchase"
	EventVerifiedEmail            = "verified_email"
	EventCompletedKYC             = "completed_kyc"
	EventLongSession              = "long_session"
	EventConsistentLocation       = "consistent_location"
	EventFailedLogin              = "failed_login"
	EventSuspiciousActivity       = "suspicious_activity"
	EventSpamDetected             = "spam_detected"
	EventRateLimitExceeded        = "rate_limit_exceeded"
	EventUnusualLocation          = "unusual_location"
	EventRapidAccountChanges      = "rapid_account_changes"
	EventMultipleDevicesShortTime = "multiple_devices_short_time"
)

// EventDeltas — изменение балла за событие. Неизвестное событие даёт 0.
var EventDeltas = map[string]int{
	EventSuccessfulLogin:          2,
	EventCompletedPurchase:        5,
	EventVerifiedEmail:            10,
	EventCompletedKYC:             20,
	EventLongSession:              1,
	EventConsistentLocation:       3,
	EventFailedLogin:              -5,
	EventSuspiciousActivity:       -15,
	EventSpamDetected:             -10,
	EventRateLimitExceeded:        -5,
	EventUnusualLocation:          -10,
	EventRapidAccountChanges:      -8,
	EventMultipleDevicesShortTime: -12,
}

// DeviceRecord — репутация одного устройства пользователя. Записи не удаляются.
type DeviceRecord struct {
	ID          int64           `json:"-"`
	UserID      string          `json:"userId"`
	Fingerprint string          `json:"deviceFingerprint"`
	TrustScore  int             `json:"trustScore"`
	DeviceInfo  json.RawMessage `json:"deviceInfo,omitempty"`
	FirstSeenAt time.Time       `json:"firstSeenAt"`
	LastSeenAt  time.Time       `json:"lastSeenAt"`
	// Version — счётчик для оптимистичной блокировки. 0 у ещё не сохранённой записи.
	Version int64 `json:"-"`
}

// State — производное состояние доверия, которое видят остальные модули.
type State struct {
	TrustScore int    `json:"trustScore"`
	IsTrusted  bool   `json:"isTrusted"`
	IsFlagged  bool   `json:"isFlagged"`
	FlagReason string `json:"flagReason,omitempty"`
	// Known — устройство уже встречалось.
	Known bool `json:"known"`
}

// StateFor вычисляет состояние по баллу.
func StateFor(score int) State {
	st := State{
		TrustScore: score,
		IsTrusted:  score >= TrustedThreshold,
		IsFlagged:  score < FlaggedThreshold,
	}
	switch {
	case score <= VeryLowThreshold:
		st.FlagReason = "Very low trust score"
	case score < FlaggedThreshold:
		st.FlagReason = "Low trust score"
	}
	return st
}

// State возвращает производное состояние записи.
func (d *DeviceRecord) State() State {
	st := StateFor(d.TrustScore)
	st.Known = true
	return st
}

// AuditEntry — запись аудита одного изменения балла.
type AuditEntry struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"userId"`
	Fingerprint   string    `json:"deviceFingerprint"`
	Event         string    `json:"event"`
	PreviousScore int       `json:"previousScore"`
	NewScore      int       `json:"newScore"`
	Delta         int       `json:"delta"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store — хранилище устройств и аудита.
type Store interface {
	// GetDevice возвращает запись или common.ErrNotFound.
	GetDevice(ctx context.Context, userID, fingerprint string) (*DeviceRecord, error)
	// SaveDevice вставляет новую запись (Version == 0) или обновляет существующую
	// при совпадении версии, и в той же транзакции добавляет запись аудита.
	// Несовпадение версии или гонка вставки — common.ErrConflict.
	// При успехе rec получает новые ID и Version.
	SaveDevice(ctx context.Context, rec *DeviceRecord, audit AuditEntry) error
	// CountDevicesSince считает устройства пользователя, впервые увиденные с since.
	CountDevicesSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ListAudit возвращает последние записи аудита устройства, новые первыми.
	ListAudit(ctx context.Context, userID, fingerprint string, limit int) ([]AuditEntry, error)
}
